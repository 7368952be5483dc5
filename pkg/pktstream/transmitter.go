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
	"fmt"
	"sync"

	"github.com/pktstream/pktstream/pkg/notify"
	"github.com/pktstream/pktstream/pkg/packet"
)

// Transmitter is the producer end of a queue. It blocks while the queue is
// full and tells the receiving peer when the queue becomes non-empty.
type Transmitter[T any, PT packet.Marshallable[T]] struct {
	// txMu serializes producers. It is held while waiting for space, so
	// that a single readiness notification suffices to unblock the side.
	txMu  sync.Mutex
	queue *Queue[T, PT]

	// ready is notified by the peer when a full queue gains a free slot.
	ready notify.Waiter

	mu sync.Mutex

	// +checklocks:mu
	peer notify.Notifier

	// wakeupNeeded is set by TryTx when a notification was deferred.
	//
	// +checklocks:mu
	wakeupNeeded bool
}

// NewTransmitter returns a transmitter producing into queue and waiting on
// ready. The peer is registered later with RegisterPeer.
func NewTransmitter[T any, PT packet.Marshallable[T]](queue *Queue[T, PT], ready notify.Waiter) *Transmitter[T, PT] {
	return &Transmitter[T, PT]{
		queue: queue,
		ready: ready,
	}
}

// RegisterPeer sets the notifier used to tell the receiver that descriptors
// are available. If descriptors were queued before registration, the peer is
// notified immediately.
func (t *Transmitter[T, PT]) RegisterPeer(peer notify.Notifier) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peer = peer
	if peer != nil && !t.queue.Empty() {
		return notifyPeer(peer)
	}
	return nil
}

// ReadyForTx returns true if the queue is not full.
func (t *Transmitter[T, PT]) ReadyForTx() bool {
	return !t.queue.Full()
}

// SlotsFree returns the number of descriptors that can be queued without
// blocking.
func (t *Transmitter[T, PT]) SlotsFree() uint32 {
	return t.queue.SlotsFree()
}

// Tx queues d, waiting for a free slot while the queue is full. The peer is
// notified if the queue was empty.
//
// Tx returns early only if ctx is done or the readiness signal fails; d is
// not queued in that case.
func (t *Transmitter[T, PT]) Tx(ctx context.Context, d T) error {
	t.txMu.Lock()
	defer t.txMu.Unlock()
	for !t.queue.Add(d) {
		if err := t.ready.Wait(ctx); err != nil {
			return err
		}
	}
	if !t.queue.SingleElement() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return notifyPeer(t.peer)
}

// TryTx queues d if there is room and returns false otherwise. It never
// blocks and never notifies; a pending notification is delivered by Wakeup.
func (t *Transmitter[T, PT]) TryTx(d T) bool {
	t.txMu.Lock()
	defer t.txMu.Unlock()
	if !t.queue.Add(d) {
		return false
	}
	if t.queue.SingleElement() {
		t.mu.Lock()
		t.wakeupNeeded = true
		t.mu.Unlock()
	}
	return true
}

// Wakeup delivers a notification deferred by TryTx. It returns true if one
// was pending, whether or not a peer is registered.
func (t *Transmitter[T, PT]) Wakeup() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.wakeupNeeded {
		return false, nil
	}
	t.wakeupNeeded = false
	return true, notifyPeer(t.peer)
}

func notifyPeer(peer notify.Notifier) error {
	if peer == nil {
		return nil
	}
	if err := peer.Notify(); err != nil {
		return fmt.Errorf("notifying peer: %w", err)
	}
	return nil
}
