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

// Package block defines the block-device protocol spoken over a packet
// stream.
//
// A client submits one Packet per request. Read and Write packets reference
// BlockCount*BlockSize bytes of the bulk buffer. The server performs the
// operation, records the outcome in Success and acknowledges the packet.
package block

import (
	"fmt"

	"github.com/pktstream/pktstream/pkg/packet"
)

const (
	// QueueSize is the number of slots of the submit and ack queues of a
	// block session.
	QueueSize = 256

	// AlignLog2 is the log2 alignment of bulk allocations. Payload buffers
	// start on 2KiB boundaries so that they can be used for direct I/O on
	// most devices.
	AlignLog2 = 11

	// PacketSize is the encoded size of a Packet.
	PacketSize = 48
)

// Opcode is the operation requested by a Packet.
type Opcode uint32

// Opcodes.
const (
	Read Opcode = iota
	Write
	Sync
	Trim
)

func (o Opcode) String() string {
	switch o {
	case Read:
		return "read"
	case Write:
		return "write"
	case Sync:
		return "sync"
	case Trim:
		return "trim"
	default:
		return fmt.Sprintf("Opcode(%d)", uint32(o))
	}
}

// Valid returns true for known opcodes.
func (o Opcode) Valid() bool {
	return o <= Trim
}

// HasPayload returns true if the operation transfers data through the bulk
// buffer.
func (o Opcode) HasPayload() bool {
	return o == Read || o == Write
}

// Info describes a block device.
type Info struct {
	BlockSize  uint64 `cbor:"1,keyasint"`
	BlockCount uint64 `cbor:"2,keyasint"`
	Writeable  bool   `cbor:"3,keyasint"`
}

// Bytes returns the capacity of the device.
func (i Info) Bytes() uint64 {
	return i.BlockSize * i.BlockCount
}

// CheckRange returns an error if [lba, lba+count) is not addressable.
func (i Info) CheckRange(lba, count uint64) error {
	end := lba + count
	if end < lba || end > i.BlockCount {
		return fmt.Errorf("blocks [%d, +%d) out of range, device has %d", lba, count, i.BlockCount)
	}
	return nil
}

// Packet is a block request travelling through the submit queue and, once
// processed, through the ack queue.
type Packet struct {
	packet.Descriptor

	Op          Opcode
	BlockNumber uint64
	BlockCount  uint64
	Success     bool

	// Tag is chosen by the client to match acknowledgements with requests.
	// The server returns it unchanged.
	Tag uint32
}

// Packet implements packet.Marshallable.Packet.
func (p Packet) Packet() packet.Descriptor {
	return p.Descriptor
}

func (p Packet) String() string {
	return fmt.Sprintf("%v tag=%d lba=%d count=%d payload=%v success=%t", p.Op, p.Tag, p.BlockNumber, p.BlockCount, p.Descriptor, p.Success)
}

// SizeBytes implements packet.Marshallable.SizeBytes.
func (*Packet) SizeBytes() int {
	return PacketSize
}

// MarshalBytes implements packet.Marshallable.MarshalBytes.
func (p *Packet) MarshalBytes(dst []byte) []byte {
	p.Descriptor.MarshalBytes(dst)
	packet.PutUint32(dst[16:], uint32(p.Op))
	packet.PutUint32(dst[20:], p.Tag)
	packet.PutUint64(dst[24:], p.BlockNumber)
	packet.PutUint64(dst[32:], p.BlockCount)
	var success uint32
	if p.Success {
		success = 1
	}
	packet.PutUint32(dst[40:], success)
	packet.PutUint32(dst[44:], 0)
	return dst[PacketSize:]
}

// UnmarshalBytes implements packet.Marshallable.UnmarshalBytes.
func (p *Packet) UnmarshalBytes(src []byte) []byte {
	p.Descriptor.UnmarshalBytes(src)
	p.Op = Opcode(packet.Uint32(src[16:]))
	p.Tag = packet.Uint32(src[20:])
	p.BlockNumber = packet.Uint64(src[24:])
	p.BlockCount = packet.Uint64(src[32:])
	p.Success = packet.Uint32(src[40:]) != 0
	return src[PacketSize:]
}
