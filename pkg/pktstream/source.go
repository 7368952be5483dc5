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
	"sync"

	"github.com/pktstream/pktstream/pkg/notify"
	"github.com/pktstream/pktstream/pkg/packet"
	"github.com/pktstream/pktstream/pkg/rangealloc"
)

// Source is the originator of a packet stream. It owns the bulk buffer
// allocator, produces into the submit queue and consumes the ack queue.
type Source[T any, PT packet.Marshallable[T]] struct {
	base[T, PT]

	submit *Transmitter[T, PT]
	ack    *Receiver[T, PT]

	allocMu sync.Mutex

	// +checklocks:allocMu
	alloc *rangealloc.Allocator
}

// NewSource returns the source end of a stream over mem. It waits on
// sig.ReadyToSubmit and sig.AckAvail and raises sig.PacketAvail and
// sig.ReadyToAck. Signal fields may be nil and registered later.
func NewSource[T any, PT packet.Marshallable[T]](mem []byte, p Policy, sig Signals) (*Source[T, PT], error) {
	b, err := newBase[T, PT](mem, p)
	if err != nil {
		return nil, err
	}
	submitQueue, err := NewQueue[T, PT](b.submitMem(), p.SubmitQueueSize, Producer)
	if err != nil {
		return nil, fmt.Errorf("submit queue: %w", err)
	}
	ackQueue, err := NewQueue[T, PT](b.ackMem(), p.AckQueueSize, Consumer)
	if err != nil {
		return nil, fmt.Errorf("ack queue: %w", err)
	}
	alloc := rangealloc.New()
	if err := alloc.AddRange(b.layout.BulkOffset, b.layout.BulkSize); err != nil {
		return nil, err
	}
	s := &Source[T, PT]{
		base:   b,
		submit: NewTransmitter(submitQueue, waiter(sig.ReadyToSubmit)),
		ack:    NewReceiver(ackQueue, waiter(sig.AckAvail)),
		alloc:  alloc,
	}
	if sig.PacketAvail != nil {
		if err := s.RegisterPacketAvail(sig.PacketAvail); err != nil {
			return nil, fmt.Errorf("registering packet-avail notifier: %w", err)
		}
	}
	if sig.ReadyToAck != nil {
		if err := s.RegisterReadyToAck(sig.ReadyToAck); err != nil {
			return nil, fmt.Errorf("registering ready-to-ack notifier: %w", err)
		}
	}
	return s, nil
}

// RegisterPacketAvail sets the notifier raised when the submit queue becomes
// non-empty.
func (s *Source[T, PT]) RegisterPacketAvail(n notify.Notifier) error {
	return s.submit.RegisterPeer(n)
}

// RegisterReadyToAck sets the notifier raised when the full ack queue gains
// a free slot.
func (s *Source[T, PT]) RegisterReadyToAck(n notify.Notifier) error {
	return s.ack.RegisterPeer(n)
}

// AllocPacket reserves size bytes of the bulk buffer aligned to 1<<alignLog2
// and returns a descriptor for them. A zero size yields the empty
// descriptor without touching the allocator.
func (s *Source[T, PT]) AllocPacket(size uint64, alignLog2 uint) (packet.Descriptor, error) {
	if size == 0 {
		return packet.Descriptor{}, nil
	}
	s.allocMu.Lock()
	defer s.allocMu.Unlock()
	off, err := s.alloc.AllocAligned(size, alignLog2)
	if err != nil {
		if errors.Is(err, rangealloc.ErrNoSpace) {
			return packet.Descriptor{}, fmt.Errorf("%w: %d bytes, %d available", ErrPacketAllocFailed, size, s.alloc.Avail())
		}
		return packet.Descriptor{}, fmt.Errorf("%w: %v", ErrPacketAllocFailed, err)
	}
	return packet.Descriptor{Offset: off, Size: size}, nil
}

// ReleasePacket returns the bulk space of d to the allocator. Releasing the
// empty descriptor is a no-op. Releasing space that is not allocated fails
// without changing the allocator.
func (s *Source[T, PT]) ReleasePacket(d packet.Descriptor) error {
	if d.Empty() {
		return nil
	}
	s.allocMu.Lock()
	defer s.allocMu.Unlock()
	if err := s.alloc.Free(d.Offset, d.Size); err != nil {
		return fmt.Errorf("%w: releasing %v: %v", ErrInvalidPacket, d, err)
	}
	return nil
}

// BulkAvail returns the number of unallocated bytes of the bulk buffer.
func (s *Source[T, PT]) BulkAvail() uint64 {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()
	return s.alloc.Avail()
}

// ReadyToSubmit returns true if the submit queue can take count more
// descriptors without blocking.
func (s *Source[T, PT]) ReadyToSubmit(count uint32) bool {
	return s.submit.SlotsFree() >= count
}

// SubmitPacket queues p for the sink, blocking while the submit queue is
// full.
func (s *Source[T, PT]) SubmitPacket(ctx context.Context, p T) error {
	return s.submit.Tx(ctx, p)
}

// TrySubmitPacket queues p if the submit queue has room. It never blocks;
// call Wakeup after a batch to notify the sink.
func (s *Source[T, PT]) TrySubmitPacket(p T) bool {
	return s.submit.TryTx(p)
}

// Wakeup delivers at most one notification deferred by TrySubmitPacket or
// TryGetAckedPacket. The deferred ack-side notification is kept if a submit
// notification was sent.
func (s *Source[T, PT]) Wakeup() error {
	if sent, err := s.submit.Wakeup(); sent || err != nil {
		return err
	}
	_, err := s.ack.Wakeup()
	return err
}

// AckAvail returns true if an acknowledgement is pending.
func (s *Source[T, PT]) AckAvail() bool {
	return s.ack.ReadyForRx()
}

// GetAckedPacket returns the next acknowledgement, blocking while there is
// none.
func (s *Source[T, PT]) GetAckedPacket(ctx context.Context) (T, error) {
	return s.ack.Rx(ctx)
}

// TryGetAckedPacket returns the next acknowledgement if there is one.
func (s *Source[T, PT]) TryGetAckedPacket() (T, bool) {
	return s.ack.TryRx()
}

// waiter converts a possibly nil channel to a Waiter. A nil channel never
// wakes up, so only context cancellation ends the wait.
func waiter(c notify.Channel) notify.Waiter {
	if c == nil {
		return blockForever{}
	}
	return c
}

type blockForever struct{}

func (blockForever) Wait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// WakeupAll delivers every deferred notification. Unlike Wakeup it does not
// assume that the peer handles all its signals in one place.
func (s *Source[T, PT]) WakeupAll() error {
	_, submitErr := s.submit.Wakeup()
	_, ackErr := s.ack.Wakeup()
	return errors.Join(submitErr, ackErr)
}
