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

package bitmap

import "testing"

func TestFirstZero(t *testing.T) {
	for _, tc := range []struct {
		name  string
		size  uint32
		set   []uint32
		start uint32
		want  uint32
		fail  bool
	}{
		{name: "empty", size: 10, want: 0},
		{name: "skip set", size: 10, set: []uint32{0, 1, 2}, want: 3},
		{name: "start offset", size: 128, set: []uint32{70}, start: 70, want: 71},
		{name: "cross word", size: 130, set: seq(0, 64), want: 64},
		{name: "full", size: 3, set: []uint32{0, 1, 2}, fail: true},
		{name: "tail bits ignored", size: 65, set: seq(0, 65), fail: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := New(tc.size)
			for _, i := range tc.set {
				b.Add(i)
			}
			got, err := b.FirstZero(tc.start)
			if tc.fail {
				if err == nil {
					t.Fatalf("FirstZero(%d) = %d, want error", tc.start, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("FirstZero(%d) failed: %v", tc.start, err)
			}
			if got != tc.want {
				t.Errorf("FirstZero(%d) = %d, want %d", tc.start, got, tc.want)
			}
		})
	}
}

func TestAddRemoveCount(t *testing.T) {
	b := New(100)
	b.Add(5)
	b.Add(5)
	b.Add(99)
	if got := b.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
	if !b.Contains(99) || b.Contains(98) {
		t.Errorf("Contains reports wrong membership")
	}
	b.Remove(5)
	b.Remove(5)
	b.Remove(1000)
	if got := b.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
	b.Remove(99)
	if !b.IsEmpty() {
		t.Errorf("IsEmpty() = false after removing all bits")
	}
}

func seq(from, to uint32) []uint32 {
	var s []uint32
	for i := from; i < to; i++ {
		s = append(s, i)
	}
	return s
}
