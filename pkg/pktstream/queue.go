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

// Package pktstream implements a unidirectional packet stream over a region
// of memory shared by two parties.
//
// The region holds two descriptor queues followed by a bulk buffer:
//
//	+--------------+-----------+---------+-------------------------+
//	| submit queue | ack queue | padding | bulk buffer             |
//	+--------------+-----------+---------+-------------------------+
//	0                                    bulkOffset                size
//
// The Source allocates payload space in the bulk buffer, fills it and
// submits a descriptor naming it. The Sink receives the descriptor, processes
// the payload in place and acknowledges the descriptor, after which the
// Source releases the space. Payloads are never copied.
//
// Each queue is a single-producer single-consumer ring. Flow control uses
// four signals, one per direction and queue, raised only on the transitions
// that can unblock the other side: a queue becoming non-empty and a full
// queue gaining a free slot.
//
// The peer is not trusted. Indices and descriptors read from the region are
// sanitized before use and the sink validates every descriptor against the
// bulk buffer before exposing its content.
package pktstream

import (
	"fmt"

	"github.com/pktstream/pktstream/pkg/packet"
)

// Queue header layout. The two indices live on separate cache lines.
const (
	headOffset  = 0
	tailOffset  = 64
	slotsOffset = 128
)

// Role is the side of a queue owned by a party.
type Role int

// Roles.
const (
	// Producer owns the head index and writes slots.
	Producer Role = iota

	// Consumer owns the tail index and reads slots.
	Consumer
)

func (r Role) String() string {
	switch r {
	case Producer:
		return "producer"
	case Consumer:
		return "consumer"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// QueueBytes returns the number of bytes of shared memory needed by a queue
// of n slots of descriptor type T.
func QueueBytes[T any, PT packet.Marshallable[T]](n uint32) uint64 {
	b := uint64(slotsOffset) + uint64(n)*uint64(packet.SizeOf[T, PT]())
	return (b + 7) &^ 7
}

// Queue is a bounded ring of n descriptor slots in shared memory. One slot is
// always left empty to tell a full queue from an empty one, so the queue
// holds at most n-1 descriptors.
//
// Each party accesses the queue in a single role. A Queue is not safe for
// concurrent use by multiple goroutines of the same party.
type Queue[T any, PT packet.Marshallable[T]] struct {
	mem      []byte
	n        uint32
	slotSize int
}

// NewQueue returns a queue over mem. The index owned by role is reset, and a
// producer also clears all slots.
func NewQueue[T any, PT packet.Marshallable[T]](mem []byte, n uint32, role Role) (*Queue[T, PT], error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQueueSize, n)
	}
	if need := QueueBytes[T, PT](n); uint64(len(mem)) < need {
		return nil, fmt.Errorf("%w: queue of %d slots needs %d bytes, have %d", ErrRegionTooSmall, n, need, len(mem))
	}
	q := &Queue[T, PT]{
		mem:      mem,
		n:        n,
		slotSize: packet.SizeOf[T, PT](),
	}
	switch role {
	case Producer:
		clear(q.mem[slotsOffset : slotsOffset+int(n)*q.slotSize])
		q.storeHead(0)
	case Consumer:
		q.storeTail(0)
	default:
		panic(fmt.Sprintf("unknown role %v", role))
	}
	return q, nil
}

// Size returns the number of slots.
func (q *Queue[T, PT]) Size() uint32 {
	return q.n
}

// Capacity returns the maximum number of descriptors the queue holds.
func (q *Queue[T, PT]) Capacity() uint32 {
	return q.n - 1
}

// head and tail load the indices and reduce them modulo n, since the peer may
// have stored anything.
func (q *Queue[T, PT]) head() uint32 {
	return q.loadHead() % q.n
}

func (q *Queue[T, PT]) tail() uint32 {
	return q.loadTail() % q.n
}

func (q *Queue[T, PT]) slot(i uint32) []byte {
	off := slotsOffset + int(i)*q.slotSize
	return q.mem[off : off+q.slotSize]
}

// Add appends d. It returns false if the queue is full.
func (q *Queue[T, PT]) Add(d T) bool {
	h, t := q.head(), q.tail()
	if (h+1)%q.n == t {
		return false
	}
	PT(&d).MarshalBytes(q.slot(h))
	q.storeHead((h + 1) % q.n)
	return true
}

// Get removes and returns the oldest descriptor. It returns false if the
// queue is empty.
func (q *Queue[T, PT]) Get() (T, bool) {
	var d T
	h, t := q.head(), q.tail()
	if h == t {
		return d, false
	}
	PT(&d).UnmarshalBytes(q.slot(t))
	q.storeTail((t + 1) % q.n)
	return d, true
}

// Peek returns the oldest descriptor without removing it.
func (q *Queue[T, PT]) Peek() (T, bool) {
	var d T
	h, t := q.head(), q.tail()
	if h == t {
		return d, false
	}
	PT(&d).UnmarshalBytes(q.slot(t))
	return d, true
}

// Empty returns true if the queue holds no descriptors.
func (q *Queue[T, PT]) Empty() bool {
	return q.head() == q.tail()
}

// Full returns true if the queue holds n-1 descriptors.
func (q *Queue[T, PT]) Full() bool {
	return (q.head()+1)%q.n == q.tail()
}

// SingleElement returns true if the queue holds exactly one descriptor.
func (q *Queue[T, PT]) SingleElement() bool {
	return (q.tail()+1)%q.n == q.head()
}

// SingleSlotFree returns true if exactly one more descriptor fits.
func (q *Queue[T, PT]) SingleSlotFree() bool {
	return (q.head()+2)%q.n == q.tail()
}

// SlotsFree returns the number of descriptors that can be added.
func (q *Queue[T, PT]) SlotsFree() uint32 {
	h, t := q.head(), q.tail()
	if t > h {
		return t - h - 1
	}
	return q.n - h + t - 1
}

// Len returns the number of queued descriptors.
func (q *Queue[T, PT]) Len() uint32 {
	return q.Capacity() - q.SlotsFree()
}
