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

package rangealloc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func freeSpans(a *Allocator) []span {
	var got []span
	a.free.tree.Ascend(func(s span) bool {
		got = append(got, s)
		return true
	})
	return got
}

func TestFirstFitAligned(t *testing.T) {
	a := New()
	if err := a.AddRange(0x100, 0x1000); err != nil {
		t.Fatalf("AddRange failed: %v", err)
	}

	var got []uint64
	for _, req := range []struct {
		size  uint64
		align uint
	}{
		{0x10, 0},
		{0x10, 8},
		{0x20, 4},
	} {
		addr, err := a.AllocAligned(req.size, req.align)
		if err != nil {
			t.Fatalf("AllocAligned(%#x, %d) failed: %v", req.size, req.align, err)
		}
		if addr&(1<<req.align-1) != 0 {
			t.Errorf("AllocAligned(%#x, %d) = %#x, not aligned", req.size, req.align, addr)
		}
		got = append(got, addr)
	}
	// The hole left below 0x200 by the aligned request serves the third
	// allocation.
	if diff := cmp.Diff([]uint64{0x100, 0x200, 0x110}, got); diff != "" {
		t.Errorf("unexpected addresses (-want +got):\n%s", diff)
	}
	if got, want := a.Avail(), uint64(0x1000-0x40); got != want {
		t.Errorf("Avail() = %#x, want %#x", got, want)
	}
}

func TestFreeCoalesces(t *testing.T) {
	a := New()
	if err := a.AddRange(0, 300); err != nil {
		t.Fatalf("AddRange failed: %v", err)
	}
	var addrs []uint64
	for i := 0; i < 3; i++ {
		addr, err := a.AllocAligned(100, 0)
		if err != nil {
			t.Fatalf("AllocAligned failed: %v", err)
		}
		addrs = append(addrs, addr)
	}
	if _, err := a.AllocAligned(1, 0); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("AllocAligned on full allocator = %v, want %v", err, ErrNoSpace)
	}

	for _, i := range []int{0, 2, 1} {
		if err := a.Free(addrs[i], 100); err != nil {
			t.Fatalf("Free(%d) failed: %v", addrs[i], err)
		}
	}
	if diff := cmp.Diff([]span{{0, 300}}, freeSpans(a), cmp.AllowUnexported(span{})); diff != "" {
		t.Errorf("free spans (-want +got):\n%s", diff)
	}
	if got := a.Avail(); got != 300 {
		t.Errorf("Avail() = %d, want 300", got)
	}
}

func TestFreeErrors(t *testing.T) {
	a := New()
	if err := a.AddRange(1000, 100); err != nil {
		t.Fatalf("AddRange failed: %v", err)
	}
	addr, err := a.AllocAligned(10, 0)
	if err != nil {
		t.Fatalf("AllocAligned failed: %v", err)
	}
	if !a.Allocated(addr, 10) {
		t.Errorf("Allocated(%d, 10) = false", addr)
	}
	if err := a.Free(addr, 10); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	for _, tc := range []struct {
		name       string
		base, size uint64
		want       error
	}{
		{"double free", addr, 10, ErrNotAllocated},
		{"outside", 0, 10, ErrNotAllocated},
		{"straddles end", 1095, 10, ErrNotAllocated},
		{"empty", 1000, 0, ErrInvalidRange},
		{"overflow", ^uint64(0), 2, ErrInvalidRange},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := a.Free(tc.base, tc.size); !errors.Is(err, tc.want) {
				t.Errorf("Free(%d, %d) = %v, want %v", tc.base, tc.size, err, tc.want)
			}
		})
	}
	if got := a.Avail(); got != 100 {
		t.Errorf("Avail() = %d, want 100", got)
	}
}

func TestAddRangeOverlap(t *testing.T) {
	a := New()
	if err := a.AddRange(100, 100); err != nil {
		t.Fatalf("AddRange failed: %v", err)
	}
	if err := a.AddRange(150, 100); !errors.Is(err, ErrOverlap) {
		t.Errorf("overlapping AddRange = %v, want %v", err, ErrOverlap)
	}
	// Adjacent ranges merge and can satisfy a straddling allocation.
	if err := a.AddRange(200, 100); err != nil {
		t.Fatalf("adjacent AddRange failed: %v", err)
	}
	if addr, err := a.AllocAligned(200, 0); err != nil || addr != 100 {
		t.Errorf("AllocAligned(200, 0) = %d, %v, want 100, nil", addr, err)
	}
}
