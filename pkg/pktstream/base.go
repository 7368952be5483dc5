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
	"fmt"
	"time"

	"github.com/pktstream/pktstream/pkg/log"
	"github.com/pktstream/pktstream/pkg/notify"
	"github.com/pktstream/pktstream/pkg/packet"
)

// bulkAlignLog2 is the log2 alignment of the bulk buffer offset.
const bulkAlignLog2 = 6

// Policy fixes the queue sizes of a stream. Both parties must use the same
// policy.
type Policy struct {
	SubmitQueueSize uint32
	AckQueueSize    uint32
}

// DefaultPolicy is suitable for most streams.
var DefaultPolicy = Policy{SubmitQueueSize: 64, AckQueueSize: 64}

// Layout describes where the parts of a stream live in the shared region.
// All offsets are relative to the start of the region.
type Layout struct {
	SubmitOffset uint64
	AckOffset    uint64
	BulkOffset   uint64
	BulkSize     uint64
	Size         uint64
}

// ComputeLayout returns the layout of a region of size bytes for descriptor
// type T under policy p.
func ComputeLayout[T any, PT packet.Marshallable[T]](size uint64, p Policy) (Layout, error) {
	if p.SubmitQueueSize < 2 || p.AckQueueSize < 2 {
		return Layout{}, fmt.Errorf("%w: policy %+v", ErrInvalidQueueSize, p)
	}
	l := Layout{Size: size}
	l.AckOffset = l.SubmitOffset + QueueBytes[T, PT](p.SubmitQueueSize)
	l.BulkOffset = alignUp(l.AckOffset+QueueBytes[T, PT](p.AckQueueSize), bulkAlignLog2)
	if l.BulkOffset >= size {
		return Layout{}, fmt.Errorf("%w: %d bytes, bulk buffer would start at %d", ErrRegionTooSmall, size, l.BulkOffset)
	}
	l.BulkSize = size - l.BulkOffset
	return l, nil
}

// MinRegionSize returns the smallest region size that yields a bulk buffer
// of bulkSize bytes.
func MinRegionSize[T any, PT packet.Marshallable[T]](p Policy, bulkSize uint64) uint64 {
	off := alignUp(QueueBytes[T, PT](p.SubmitQueueSize)+QueueBytes[T, PT](p.AckQueueSize), bulkAlignLog2)
	return off + bulkSize
}

func alignUp(v uint64, alignLog2 uint) uint64 {
	mask := uint64(1)<<alignLog2 - 1
	return (v + mask) &^ mask
}

// Signals groups the four signals of a stream. Both parties use the same
// set: each raises two of them and waits on the other two.
type Signals struct {
	// PacketAvail is raised by the source when the submit queue becomes
	// non-empty.
	PacketAvail notify.Channel

	// ReadyToSubmit is raised by the sink when a full submit queue gains
	// a free slot.
	ReadyToSubmit notify.Channel

	// AckAvail is raised by the sink when the ack queue becomes non-empty.
	AckAvail notify.Channel

	// ReadyToAck is raised by the source when a full ack queue gains a
	// free slot.
	ReadyToAck notify.Channel
}

// NewLocalSignals returns signals for two parties in the same process.
func NewLocalSignals() Signals {
	return Signals{
		PacketAvail:   notify.NewLocal(),
		ReadyToSubmit: notify.NewLocal(),
		AckAvail:      notify.NewLocal(),
		ReadyToAck:    notify.NewLocal(),
	}
}

// Close closes all signals.
func (s Signals) Close() error {
	var firstErr error
	for _, c := range []notify.Channel{s.PacketAvail, s.ReadyToSubmit, s.AckAvail, s.ReadyToAck} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// invalidLog reports descriptors rejected by the sink. A misbehaving peer
// can produce them at line rate.
var invalidLog = log.BasicRateLimitedLogger(time.Second)

// base holds what both parties share: the mapped region and its layout.
type base[T any, PT packet.Marshallable[T]] struct {
	mem    []byte
	layout Layout
	policy Policy
}

func newBase[T any, PT packet.Marshallable[T]](mem []byte, p Policy) (base[T, PT], error) {
	l, err := ComputeLayout[T, PT](uint64(len(mem)), p)
	if err != nil {
		return base[T, PT]{}, err
	}
	return base[T, PT]{mem: mem, layout: l, policy: p}, nil
}

func (b *base[T, PT]) submitMem() []byte {
	return b.mem[b.layout.SubmitOffset:b.layout.AckOffset]
}

func (b *base[T, PT]) ackMem() []byte {
	return b.mem[b.layout.AckOffset:b.layout.BulkOffset]
}

// Layout returns the layout of the shared region.
func (b *base[T, PT]) Layout() Layout {
	return b.layout
}

// Policy returns the queue sizes of the stream.
func (b *base[T, PT]) Policy() Policy {
	return b.policy
}

// BulkBufferSize returns the size of the bulk buffer in bytes.
func (b *base[T, PT]) BulkBufferSize() uint64 {
	return b.layout.BulkSize
}

// PacketValid returns true if d is empty or lies within the bulk buffer.
func (b *base[T, PT]) PacketValid(d packet.Descriptor) bool {
	return d.Within(b.layout.BulkOffset, b.layout.BulkSize)
}

// PacketContent returns the bytes of the region named by d. It returns nil
// for an empty descriptor and ErrInvalidPacket if d is outside the bulk
// buffer. The returned slice aliases shared memory.
func (b *base[T, PT]) PacketContent(d packet.Descriptor) ([]byte, error) {
	if d.Empty() {
		return nil, nil
	}
	if !b.PacketValid(d) {
		return nil, fmt.Errorf("%w: %v outside bulk buffer [%#x, +%d)", ErrInvalidPacket, d, b.layout.BulkOffset, b.layout.BulkSize)
	}
	return b.mem[d.Offset : d.Offset+d.Size : d.Offset+d.Size], nil
}
