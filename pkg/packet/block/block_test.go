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

package block

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pktstream/pktstream/pkg/packet"
)

func TestPacketEncoding(t *testing.T) {
	p := Packet{
		Descriptor:  packet.Descriptor{Offset: 4096, Size: 1024},
		Op:          Write,
		BlockNumber: 77,
		BlockCount:  2,
		Success:     true,
		Tag:         9,
	}
	buf := make([]byte, PacketSize)
	for i := range buf {
		buf[i] = 0xff
	}
	p.MarshalBytes(buf)

	var got Packet
	got.UnmarshalBytes(buf)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("packet mismatch (-want +got):\n%s", diff)
	}
	if got := packet.SizeOf[Packet](); got != PacketSize {
		t.Errorf("SizeOf[Packet]() = %d, want %d", got, PacketSize)
	}
}

func TestSuccessDecoding(t *testing.T) {
	buf := make([]byte, PacketSize)
	packet.PutUint32(buf[40:], 7)
	var p Packet
	p.UnmarshalBytes(buf)
	if !p.Success {
		t.Errorf("nonzero success word decoded as false")
	}
}

func TestCheckRange(t *testing.T) {
	info := Info{BlockSize: 512, BlockCount: 100}
	for _, tc := range []struct {
		lba, count uint64
		ok         bool
	}{
		{0, 100, true},
		{99, 1, true},
		{100, 0, true},
		{99, 2, false},
		{1, ^uint64(0), false},
	} {
		if err := info.CheckRange(tc.lba, tc.count); (err == nil) != tc.ok {
			t.Errorf("CheckRange(%d, %d) = %v, want ok=%t", tc.lba, tc.count, err, tc.ok)
		}
	}
}

func TestOpcode(t *testing.T) {
	if Opcode(4).Valid() {
		t.Errorf("Opcode(4).Valid() = true")
	}
	if !Read.HasPayload() || Sync.HasPayload() {
		t.Errorf("unexpected HasPayload results")
	}
	if got := Trim.String(); got != "trim" {
		t.Errorf("Trim.String() = %q", got)
	}
}
