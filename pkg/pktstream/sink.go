// Copyright 2026 The pktstream Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pktstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/pktstream/pktstream/pkg/notify"
	"github.com/pktstream/pktstream/pkg/packet"
)

// Sink is the receiving end of a packet stream. It consumes the submit queue
// and produces into the ack queue. It never allocates; every payload it
// touches belongs to a descriptor received from the source.
type Sink[T any, PT packet.Marshallable[T]] struct {
	base[T, PT]

	submit *Receiver[T, PT]
	ack    *Transmitter[T, PT]
}

// NewSink returns the sink end of a stream over mem. It waits on
// sig.PacketAvail and sig.ReadyToAck and raises sig.ReadyToSubmit and
// sig.AckAvail. Signal fields may be nil and registered later.
func NewSink[T any, PT packet.Marshallable[T]](mem []byte, p Policy, sig Signals) (*Sink[T, PT], error) {
	b, err := newBase[T, PT](mem, p)
	if err != nil {
		return nil, err
	}
	submitQueue, err := NewQueue[T, PT](b.submitMem(), p.SubmitQueueSize, Consumer)
	if err != nil {
		return nil, fmt.Errorf("submit queue: %w", err)
	}
	ackQueue, err := NewQueue[T, PT](b.ackMem(), p.AckQueueSize, Producer)
	if err != nil {
		return nil, fmt.Errorf("ack queue: %w", err)
	}
	s := &Sink[T, PT]{
		base:   b,
		submit: NewReceiver(submitQueue, waiter(sig.PacketAvail)),
		ack:    NewTransmitter(ackQueue, waiter(sig.ReadyToAck)),
	}
	if sig.ReadyToSubmit != nil {
		if err := s.RegisterReadyToSubmit(sig.ReadyToSubmit); err != nil {
			return nil, fmt.Errorf("registering ready-to-submit notifier: %w", err)
		}
	}
	if sig.AckAvail != nil {
		if err := s.RegisterAckAvail(sig.AckAvail); err != nil {
			return nil, fmt.Errorf("registering ack-avail notifier: %w", err)
		}
	}
	return s, nil
}

// RegisterAckAvail sets the notifier raised when the ack queue becomes
// non-empty.
func (s *Sink[T, PT]) RegisterAckAvail(n notify.Notifier) error {
	return s.ack.RegisterPeer(n)
}

// RegisterReadyToSubmit sets the notifier raised when the full submit queue
// gains a free slot.
func (s *Sink[T, PT]) RegisterReadyToSubmit(n notify.Notifier) error {
	return s.submit.RegisterPeer(n)
}

// PacketAvail returns true if a submitted packet is pending.
func (s *Sink[T, PT]) PacketAvail() bool {
	return s.submit.ReadyForRx()
}

// GetPacket returns the next submitted packet, blocking while there is none.
// The descriptor is not validated; use PacketContent before touching the
// payload.
func (s *Sink[T, PT]) GetPacket(ctx context.Context) (T, error) {
	return s.submit.Rx(ctx)
}

// TryGetPacket returns the next submitted packet if there is one.
func (s *Sink[T, PT]) TryGetPacket() (T, bool) {
	return s.submit.TryRx()
}

// PeekPacket returns the next submitted packet without removing it.
func (s *Sink[T, PT]) PeekPacket() (T, bool) {
	return s.submit.Peek()
}

// PacketContent returns the payload of d, see base.PacketContent. Invalid
// descriptors are logged at a bounded rate.
func (s *Sink[T, PT]) PacketContent(d packet.Descriptor) ([]byte, error) {
	b, err := s.base.PacketContent(d)
	if err != nil {
		invalidLog.Warningf("Rejecting packet from source: %v", err)
	}
	return b, err
}

// ReadyToAck returns true if the ack queue is not full.
func (s *Sink[T, PT]) ReadyToAck() bool {
	return s.ack.ReadyForTx()
}

// AckSlotsFree returns the number of acknowledgements that can be queued
// without blocking.
func (s *Sink[T, PT]) AckSlotsFree() uint32 {
	return s.ack.SlotsFree()
}

// AcknowledgePacket returns p to the source, blocking while the ack queue is
// full.
func (s *Sink[T, PT]) AcknowledgePacket(ctx context.Context, p T) error {
	return s.ack.Tx(ctx, p)
}

// TryAckPacket returns p to the source if the ack queue has room. It never
// blocks; call Wakeup after a batch to notify the source.
func (s *Sink[T, PT]) TryAckPacket(p T) bool {
	return s.ack.TryTx(p)
}

// Wakeup delivers at most one notification deferred by TryGetPacket or
// TryAckPacket.
func (s *Sink[T, PT]) Wakeup() error {
	if sent, err := s.submit.Wakeup(); sent || err != nil {
		return err
	}
	_, err := s.ack.Wakeup()
	return err
}

// WakeupAll delivers every deferred notification. Unlike Wakeup it does not
// assume that the peer handles all its signals in one place.
func (s *Sink[T, PT]) WakeupAll() error {
	_, submitErr := s.submit.Wakeup()
	_, ackErr := s.ack.Wakeup()
	return errors.Join(submitErr, ackErr)
}
