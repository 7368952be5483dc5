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

package shm

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestSharedPages(t *testing.T) {
	r, err := Create("shm_test", 100)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer r.Close()
	if r.Size != int64(pageSize) {
		t.Errorf("Size = %d, want one page (%d)", r.Size, pageSize)
	}

	peer, err := r.Dup()
	if err != nil {
		t.Fatalf("Dup failed: %v", err)
	}
	wrapped, err := Wrap(peer.FD)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	defer wrapped.Close()
	if wrapped.Size != r.Size {
		t.Errorf("wrapped Size = %d, want %d", wrapped.Size, r.Size)
	}

	a, err := r.Map()
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	defer a.Unmap()
	b, err := wrapped.Map()
	if err != nil {
		t.Fatalf("Map of wrapped region failed: %v", err)
	}
	defer b.Unmap()

	a.Bytes()[42] = 0x5a
	if got := b.Bytes()[42]; got != 0x5a {
		t.Errorf("peer mapping reads %#x, want 0x5a", got)
	}
}

func TestSealed(t *testing.T) {
	r, err := Create("shm_test", uint64(pageSize))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer r.Close()
	if err := unix.Ftruncate(r.FD, 0); err == nil {
		t.Errorf("shrinking a sealed region succeeded")
	}
}

func TestWrapRejectsUnsealed(t *testing.T) {
	fd, err := unix.MemfdCreate("unsealed", unix.MFD_CLOEXEC)
	if err != nil {
		t.Fatalf("MemfdCreate failed: %v", err)
	}
	defer unix.Close(fd)
	if err := unix.Ftruncate(fd, int64(pageSize)); err != nil {
		t.Fatalf("Ftruncate failed: %v", err)
	}
	if _, err := Wrap(fd); err == nil {
		t.Errorf("Wrap accepted an unsealed memfd")
	}
}

func TestLocal(t *testing.T) {
	m, err := Local(1)
	if err != nil {
		t.Fatalf("Local failed: %v", err)
	}
	if len(m.Bytes()) != pageSize {
		t.Errorf("len(Bytes()) = %d, want %d", len(m.Bytes()), pageSize)
	}
	if err := m.Unmap(); err != nil {
		t.Errorf("Unmap failed: %v", err)
	}
	if err := m.Unmap(); err != nil {
		t.Errorf("second Unmap failed: %v", err)
	}
}
