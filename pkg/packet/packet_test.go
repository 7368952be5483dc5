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

package packet

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDescriptorEncoding(t *testing.T) {
	d := Descriptor{Offset: 0x1122334455667788, Size: 4096}
	buf := make([]byte, DescriptorSize+3)
	if rest := d.MarshalBytes(buf); len(rest) != 3 {
		t.Fatalf("MarshalBytes left %d bytes, want 3", len(rest))
	}
	var got Descriptor
	if rest := got.UnmarshalBytes(buf); len(rest) != 3 {
		t.Fatalf("UnmarshalBytes left %d bytes, want 3", len(rest))
	}
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}
	if got := SizeOf[Descriptor](); got != DescriptorSize {
		t.Errorf("SizeOf[Descriptor]() = %d, want %d", got, DescriptorSize)
	}
}

func TestWithin(t *testing.T) {
	const base, size = 256, 1024
	for _, tc := range []struct {
		name string
		d    Descriptor
		want bool
	}{
		{"empty", Descriptor{}, true},
		{"empty anywhere", Descriptor{Offset: math.MaxUint64}, true},
		{"whole buffer", Descriptor{Offset: base, Size: size}, true},
		{"last byte", Descriptor{Offset: base + size - 1, Size: 1}, true},
		{"before", Descriptor{Offset: base - 1, Size: 2}, false},
		{"past end", Descriptor{Offset: base + size - 1, Size: 2}, false},
		{"at end", Descriptor{Offset: base + size, Size: 1}, false},
		{"overflow", Descriptor{Offset: base + 1, Size: math.MaxUint64}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.d.Within(base, size); got != tc.want {
				t.Errorf("%v.Within(%d, %d) = %t, want %t", tc.d, base, size, got, tc.want)
			}
		})
	}
}
