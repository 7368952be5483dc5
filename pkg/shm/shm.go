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

// Package shm manages the shared memory regions that back packet streams.
//
// A region is a sealed memfd. The owner creates it, maps it and passes the
// file descriptor to the peer, which maps the same pages. The region is
// sealed against shrinking so that neither party can make the other fault by
// truncating the file.
package shm

import (
	"fmt"
	"math/bits"
	"os"

	"golang.org/x/sys/unix"
)

var (
	pageSize = os.Getpagesize()
	pageMask = pageSize - 1
)

func init() {
	if bits.OnesCount(uint(pageSize)) != 1 {
		// This is depended on by RoundUpToPage().
		panic(fmt.Sprintf("system page size (%d) is not a power of 2", pageSize))
	}
}

// RoundUpToPage rounds x up to a multiple of the system page size.
func RoundUpToPage(x uint64) uint64 {
	return (x + uint64(pageMask)) &^ uint64(pageMask)
}

// Region is a shared memory file.
type Region struct {
	// FD is the file descriptor of the memfd.
	FD int

	// Size is the size of the file in bytes.
	Size int64
}

// Create returns a new sealed region of at least size bytes.
func Create(name string, size uint64) (*Region, error) {
	size = RoundUpToPage(size)
	if size == 0 || size > 1<<62 {
		return nil, fmt.Errorf("invalid region size %d", size)
	}
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("failed to create memfd: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate failed: %w", err)
	}
	// Apply F_SEAL_SHRINK to prevent either party from causing SIGBUS in the
	// other by truncating the file, and F_SEAL_SEAL to prevent either party
	// from applying F_SEAL_GROW or F_SEAL_WRITE.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_SEAL); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to apply memfd seals: %w", err)
	}
	return &Region{FD: fd, Size: int64(size)}, nil
}

// Wrap returns a region for a file descriptor received from a peer. The
// size is taken from the file itself and the region takes ownership of fd.
func Wrap(fd int) (*Region, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("fstat on region fd %d: %w", fd, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		return nil, fmt.Errorf("region fd %d is not a regular file (mode %#o)", fd, st.Mode)
	}
	if st.Size <= 0 {
		return nil, fmt.Errorf("region fd %d is empty", fd)
	}
	// A region that can still shrink lets the peer fault us at will.
	seals, err := unix.FcntlInt(uintptr(fd), unix.F_GET_SEALS, 0)
	if err != nil {
		return nil, fmt.Errorf("reading seals of region fd %d: %w", fd, err)
	}
	if seals&unix.F_SEAL_SHRINK == 0 {
		return nil, fmt.Errorf("region fd %d is not sealed against shrinking", fd)
	}
	return &Region{FD: fd, Size: st.Size}, nil
}

// Dup returns a region with a duplicated file descriptor.
func (r *Region) Dup() (*Region, error) {
	fd, err := unix.FcntlInt(uintptr(r.FD), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to dup region: %w", err)
	}
	return &Region{FD: fd, Size: r.Size}, nil
}

// Close closes the file descriptor. Existing mappings stay valid.
func (r *Region) Close() error {
	return unix.Close(r.FD)
}

// Map maps the whole region shared and writable.
func (r *Region) Map() (*Mapping, error) {
	b, err := mapSlice(0, uintptr(r.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, uintptr(r.FD), 0)
	if err != nil {
		return nil, fmt.Errorf("mmap of %d byte region failed: %w", r.Size, err)
	}
	return &Mapping{b: b}, nil
}

// Mapping is a mapped region.
type Mapping struct {
	b []byte
}

// Local returns an anonymous shared mapping of at least size bytes, for two
// parties in the same process.
func Local(size uint64) (*Mapping, error) {
	size = RoundUpToPage(size)
	if size == 0 {
		return nil, fmt.Errorf("invalid mapping size %d", size)
	}
	b, err := mapSlice(0, uintptr(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS, ^uintptr(0), 0)
	if err != nil {
		return nil, fmt.Errorf("anonymous mmap of %d bytes failed: %w", size, err)
	}
	return &Mapping{b: b}, nil
}

// Bytes returns the mapped memory. It must not be used after Unmap.
func (m *Mapping) Bytes() []byte {
	return m.b
}

// Unmap releases the mapping.
func (m *Mapping) Unmap() error {
	if m.b == nil {
		return nil
	}
	err := unmapSlice(m.b)
	m.b = nil
	return err
}
