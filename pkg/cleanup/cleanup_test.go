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

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCleanOrder(t *testing.T) {
	var order []string
	cu := Make(func() { order = append(order, "unmap") })
	cu.Add(func() { order = append(order, "close eventfd") })
	cu.Add(func() { order = append(order, "close memfd") })
	cu.Clean()

	want := []string{"close memfd", "close eventfd", "unmap"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("unexpected cleanup order (-want +got):\n%s", diff)
	}

	// A second Clean is a no-op.
	cu.Clean()
	if len(order) != len(want) {
		t.Errorf("Clean ran cleaners twice: %v", order)
	}
}

func TestRelease(t *testing.T) {
	called := 0
	cu := Make(func() { called++ })
	cu.Add(func() { called++ })
	cleaner := cu.Release()
	cu.Clean()
	if called != 0 {
		t.Fatalf("cleanup function was called %d times after Release", called)
	}

	cleaner()
	if called != 2 {
		t.Fatalf("released cleaner called %d functions, want 2", called)
	}
}
