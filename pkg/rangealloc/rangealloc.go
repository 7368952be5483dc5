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

// Package rangealloc implements a first-fit allocator of aligned ranges
// within a set of managed address ranges.
//
// The packet-stream source uses it to carve payload buffers out of the bulk
// buffer. Free space is kept in a B-tree of disjoint spans ordered by start
// address, and adjacent free spans are always coalesced.
package rangealloc

import (
	"errors"
	"fmt"

	"github.com/google/btree"
)

var (
	// ErrNoSpace is returned when no free span can satisfy an allocation.
	ErrNoSpace = errors.New("no space left in range allocator")

	// ErrNotAllocated is returned by Free for a range that was not
	// allocated.
	ErrNotAllocated = errors.New("range is not allocated")

	// ErrOverlap is returned by AddRange for a range that overlaps a
	// managed one.
	ErrOverlap = errors.New("range overlaps a managed range")

	// ErrInvalidRange is returned for empty or overflowing ranges.
	ErrInvalidRange = errors.New("invalid range")
)

const degree = 8

// span is the range [start, end).
type span struct {
	start uint64
	end   uint64
}

func (s span) String() string {
	return fmt.Sprintf("[%#x, %#x)", s.start, s.end)
}

func spanLess(a, b span) bool {
	return a.start < b.start
}

// spans is a set of disjoint, non-adjacent spans.
type spans struct {
	tree *btree.BTreeG[span]
}

func newSpans() spans {
	return spans{tree: btree.NewG(degree, spanLess)}
}

// floor returns the span with the greatest start <= addr.
func (ss spans) floor(addr uint64) (span, bool) {
	var (
		found span
		ok    bool
	)
	ss.tree.DescendLessOrEqual(span{start: addr}, func(s span) bool {
		found, ok = s, true
		return false
	})
	return found, ok
}

// ceil returns the span with the least start >= addr.
func (ss spans) ceil(addr uint64) (span, bool) {
	var (
		found span
		ok    bool
	)
	ss.tree.AscendGreaterOrEqual(span{start: addr}, func(s span) bool {
		found, ok = s, true
		return false
	})
	return found, ok
}

// overlaps returns true if r intersects any span of ss.
func (ss spans) overlaps(r span) bool {
	if prev, ok := ss.floor(r.start); ok && prev.end > r.start {
		return true
	}
	if next, ok := ss.ceil(r.start); ok && next.start < r.end {
		return true
	}
	return false
}

// covers returns true if r lies within a single span of ss.
func (ss spans) covers(r span) bool {
	prev, ok := ss.floor(r.start)
	return ok && prev.end >= r.end
}

// insert adds r, which must not overlap ss, merging it with its neighbours.
func (ss spans) insert(r span) {
	if prev, ok := ss.floor(r.start); ok && prev.end == r.start {
		ss.tree.Delete(prev)
		r.start = prev.start
	}
	if next, ok := ss.ceil(r.end); ok && next.start == r.end {
		ss.tree.Delete(next)
		r.end = next.end
	}
	ss.tree.ReplaceOrInsert(r)
}

// Allocator hands out aligned ranges. It is not safe for concurrent use.
type Allocator struct {
	managed spans
	free    spans
	avail   uint64
}

// New returns an allocator without managed ranges.
func New() *Allocator {
	return &Allocator{
		managed: newSpans(),
		free:    newSpans(),
	}
}

func makeSpan(base, size uint64) (span, error) {
	end := base + size
	if size == 0 || end < base {
		return span{}, fmt.Errorf("%w: base %#x size %d", ErrInvalidRange, base, size)
	}
	return span{start: base, end: end}, nil
}

// AddRange makes [base, base+size) available for allocation.
func (a *Allocator) AddRange(base, size uint64) error {
	r, err := makeSpan(base, size)
	if err != nil {
		return err
	}
	if a.managed.overlaps(r) {
		return fmt.Errorf("%w: %v", ErrOverlap, r)
	}
	a.managed.insert(r)
	a.free.insert(r)
	a.avail += size
	return nil
}

// AllocAligned returns the lowest address of a free range of size bytes that
// is aligned to 1<<alignLog2.
func (a *Allocator) AllocAligned(size uint64, alignLog2 uint) (uint64, error) {
	if size == 0 || alignLog2 >= 64 {
		return 0, fmt.Errorf("%w: size %d alignment 2^%d", ErrInvalidRange, size, alignLog2)
	}
	mask := uint64(1)<<alignLog2 - 1

	var (
		found span
		addr  uint64
		ok    bool
	)
	a.free.tree.Ascend(func(s span) bool {
		aligned := (s.start + mask) &^ mask
		if aligned < s.start {
			// Rounding up overflowed; no later span fits either.
			return false
		}
		end := aligned + size
		if end < aligned || end > s.end {
			return true
		}
		found, addr, ok = s, aligned, true
		return false
	})
	if !ok {
		return 0, ErrNoSpace
	}

	a.free.tree.Delete(found)
	if addr > found.start {
		a.free.tree.ReplaceOrInsert(span{start: found.start, end: addr})
	}
	if addr+size < found.end {
		a.free.tree.ReplaceOrInsert(span{start: addr + size, end: found.end})
	}
	a.avail -= size
	return addr, nil
}

// Free returns [base, base+size) to the allocator. The range must have been
// allocated and must not have been freed since.
func (a *Allocator) Free(base, size uint64) error {
	r, err := makeSpan(base, size)
	if err != nil {
		return err
	}
	if !a.managed.covers(r) || a.free.overlaps(r) {
		return fmt.Errorf("%w: %v", ErrNotAllocated, r)
	}
	a.free.insert(r)
	a.avail += size
	return nil
}

// Avail returns the number of free bytes.
func (a *Allocator) Avail() uint64 {
	return a.avail
}

// Allocated returns true if [base, base+size) is managed and entirely in use.
func (a *Allocator) Allocated(base, size uint64) bool {
	r, err := makeSpan(base, size)
	if err != nil {
		return false
	}
	return a.managed.covers(r) && !a.free.overlaps(r)
}
