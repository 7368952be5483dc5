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
	"sync"

	"github.com/pktstream/pktstream/pkg/notify"
	"github.com/pktstream/pktstream/pkg/packet"
)

// Receiver is the consumer end of a queue. It blocks while the queue is empty
// and tells the transmitting peer when a full queue gains a free slot.
type Receiver[T any, PT packet.Marshallable[T]] struct {
	// rxMu serializes consumers, see Transmitter.txMu.
	rxMu  sync.Mutex
	queue *Queue[T, PT]

	// ready is notified by the peer when the queue becomes non-empty.
	ready notify.Waiter

	mu sync.Mutex

	// +checklocks:mu
	peer notify.Notifier

	// +checklocks:mu
	wakeupNeeded bool
}

// NewReceiver returns a receiver consuming from queue and waiting on ready.
func NewReceiver[T any, PT packet.Marshallable[T]](queue *Queue[T, PT], ready notify.Waiter) *Receiver[T, PT] {
	return &Receiver[T, PT]{
		queue: queue,
		ready: ready,
	}
}

// RegisterPeer sets the notifier used to tell the transmitter that the queue
// has room. If descriptors were consumed before registration, the peer may
// have missed its readiness notification, so a non-empty queue notifies it
// immediately.
func (r *Receiver[T, PT]) RegisterPeer(peer notify.Notifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peer = peer
	if peer != nil && !r.queue.Empty() {
		return notifyPeer(peer)
	}
	return nil
}

// ReadyForRx returns true if the queue is not empty.
func (r *Receiver[T, PT]) ReadyForRx() bool {
	return !r.queue.Empty()
}

// Rx removes the oldest descriptor, waiting while the queue is empty. The
// peer is notified if the queue was full.
func (r *Receiver[T, PT]) Rx(ctx context.Context) (T, error) {
	r.rxMu.Lock()
	defer r.rxMu.Unlock()
	for {
		d, ok := r.queue.Get()
		if ok {
			if !r.queue.SingleSlotFree() {
				return d, nil
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			return d, notifyPeer(r.peer)
		}
		if err := r.ready.Wait(ctx); err != nil {
			return d, err
		}
	}
}

// TryRx removes the oldest descriptor if there is one. It never blocks and
// never notifies; a pending notification is delivered by Wakeup.
func (r *Receiver[T, PT]) TryRx() (T, bool) {
	r.rxMu.Lock()
	defer r.rxMu.Unlock()
	d, ok := r.queue.Get()
	if ok && r.queue.SingleSlotFree() {
		r.mu.Lock()
		r.wakeupNeeded = true
		r.mu.Unlock()
	}
	return d, ok
}

// Peek returns the oldest descriptor without removing it.
func (r *Receiver[T, PT]) Peek() (T, bool) {
	r.rxMu.Lock()
	defer r.rxMu.Unlock()
	return r.queue.Peek()
}

// Wakeup delivers a notification deferred by TryRx. It returns true if one
// was pending, whether or not a peer is registered.
func (r *Receiver[T, PT]) Wakeup() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.wakeupNeeded {
		return false, nil
	}
	r.wakeupNeeded = false
	return true, notifyPeer(r.peer)
}
