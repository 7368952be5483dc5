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

// Package packet defines the descriptors carried by packet-stream queues.
//
// A descriptor names a byte range of the shared region. Descriptors are
// copied by value into fixed-size queue slots, so every descriptor type
// provides a fixed-size binary encoding. Decoding never fails: the bytes come
// from a peer that is not trusted, and the receiving side validates the range
// against its own view of the region before touching the payload.
package packet

import (
	"encoding/binary"
	"fmt"
)

// DescriptorSize is the encoded size of a Descriptor in bytes.
const DescriptorSize = 16

// byteOrder is the order used to encode descriptors. Both sides of a stream
// live on the same host.
var byteOrder = binary.NativeEndian

// Descriptor is a range of the shared region. Offset is relative to the start
// of the region, not to the start of the bulk buffer.
//
// The zero Descriptor is the empty packet. It is always valid and has no
// content.
type Descriptor struct {
	Offset uint64
	Size   uint64
}

// Packet implements Marshallable.Packet.
func (d Descriptor) Packet() Descriptor {
	return d
}

// Empty returns true for a descriptor without payload.
func (d Descriptor) Empty() bool {
	return d.Size == 0
}

// End returns the offset just past the last byte of d. ok is false if the
// computation overflows.
func (d Descriptor) End() (end uint64, ok bool) {
	end = d.Offset + d.Size
	return end, end >= d.Offset
}

// Within returns true if d is empty or lies entirely within
// [base, base+size).
func (d Descriptor) Within(base, size uint64) bool {
	if d.Size == 0 {
		return true
	}
	limit := base + size
	if limit < base {
		return false
	}
	end, ok := d.End()
	return ok && d.Offset >= base && d.Offset < limit && end <= limit
}

func (d Descriptor) String() string {
	return fmt.Sprintf("[%#x, +%d)", d.Offset, d.Size)
}

// SizeBytes implements Marshallable.SizeBytes.
func (*Descriptor) SizeBytes() int {
	return DescriptorSize
}

// MarshalBytes implements Marshallable.MarshalBytes.
func (d *Descriptor) MarshalBytes(dst []byte) []byte {
	byteOrder.PutUint64(dst[0:], d.Offset)
	byteOrder.PutUint64(dst[8:], d.Size)
	return dst[DescriptorSize:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (d *Descriptor) UnmarshalBytes(src []byte) []byte {
	d.Offset = byteOrder.Uint64(src[0:])
	d.Size = byteOrder.Uint64(src[8:])
	return src[DescriptorSize:]
}

// Marshallable is the constraint satisfied by pointers to descriptor types
// that can travel through a queue. SizeBytes must return the same value for
// every instance of a type.
type Marshallable[T any] interface {
	*T

	// SizeBytes is the encoded size in bytes.
	SizeBytes() int

	// MarshalBytes serializes the descriptor into dst and returns the
	// remainder of dst.
	MarshalBytes(dst []byte) []byte

	// UnmarshalBytes deserializes the descriptor from src and returns the
	// remainder of src.
	UnmarshalBytes(src []byte) []byte

	// Packet returns the range of the shared region the descriptor names.
	Packet() Descriptor
}

// SizeOf returns the encoded size of descriptor type T.
func SizeOf[T any, PT Marshallable[T]]() int {
	var d T
	return PT(&d).SizeBytes()
}

// PutUint32 encodes v at the start of dst in descriptor byte order.
func PutUint32(dst []byte, v uint32) {
	byteOrder.PutUint32(dst, v)
}

// Uint32 decodes a value encoded by PutUint32.
func Uint32(src []byte) uint32 {
	return byteOrder.Uint32(src)
}

// PutUint64 encodes v at the start of dst in descriptor byte order.
func PutUint64(dst []byte, v uint64) {
	byteOrder.PutUint64(dst, v)
}

// Uint64 decodes a value encoded by PutUint64.
func Uint64(src []byte) uint64 {
	return byteOrder.Uint64(src)
}
