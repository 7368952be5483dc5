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

// Package blockdev serves block devices over packet streams.
//
// A Server executes block requests from a packet-stream sink against a
// Backend, operating directly on the payload buffers in shared memory. A
// Client turns synchronous Read and Write calls into block packets on a
// packet-stream source, keeping several requests in flight.
package blockdev

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pktstream/pktstream/pkg/packet/block"
)

// ErrReadOnly is returned for writes to a read-only device.
var ErrReadOnly = errors.New("device is read-only")

// Backend stores the blocks of a device. Implementations must be safe for
// concurrent use. Buffers are always a whole number of blocks.
type Backend interface {
	// Info describes the device.
	Info() block.Info

	// ReadAt fills p with the blocks starting at lba.
	ReadAt(p []byte, lba uint64) error

	// WriteAt stores p at the blocks starting at lba.
	WriteAt(p []byte, lba uint64) error

	// Sync makes previous writes durable.
	Sync() error

	// Trim discards count blocks starting at lba. Trimmed blocks read as
	// zeroes.
	Trim(lba, count uint64) error

	// Close releases the backend.
	Close() error
}

// checkIO validates a transfer of p at lba against info.
func checkIO(info block.Info, p []byte, lba uint64) error {
	if uint64(len(p))%info.BlockSize != 0 {
		return fmt.Errorf("buffer of %d bytes is not a multiple of the %d byte block size", len(p), info.BlockSize)
	}
	return info.CheckRange(lba, uint64(len(p))/info.BlockSize)
}

// Memory is a Backend holding the device in memory.
type Memory struct {
	info block.Info

	mu sync.RWMutex

	// +checklocks:mu
	data []byte
}

// NewMemory returns a zeroed, writeable in-memory device.
func NewMemory(blockSize, blockCount uint64) (*Memory, error) {
	if blockSize == 0 || blockSize&(blockSize-1) != 0 {
		return nil, fmt.Errorf("block size %d is not a power of 2", blockSize)
	}
	return &Memory{
		info: block.Info{BlockSize: blockSize, BlockCount: blockCount, Writeable: true},
		data: make([]byte, blockSize*blockCount),
	}, nil
}

// Info implements Backend.Info.
func (m *Memory) Info() block.Info {
	return m.info
}

// ReadAt implements Backend.ReadAt.
func (m *Memory) ReadAt(p []byte, lba uint64) error {
	if err := checkIO(m.info, p, lba); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	copy(p, m.data[lba*m.info.BlockSize:])
	return nil
}

// WriteAt implements Backend.WriteAt.
func (m *Memory) WriteAt(p []byte, lba uint64) error {
	if err := checkIO(m.info, p, lba); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[lba*m.info.BlockSize:], p)
	return nil
}

// Sync implements Backend.Sync.
func (*Memory) Sync() error {
	return nil
}

// Trim implements Backend.Trim.
func (m *Memory) Trim(lba, count uint64) error {
	if err := m.info.CheckRange(lba, count); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.data[lba*m.info.BlockSize : (lba+count)*m.info.BlockSize])
	return nil
}

// Close implements Backend.Close.
func (*Memory) Close() error {
	return nil
}

type readOnly struct {
	Backend
}

// ReadOnly returns a view of b that rejects writes and trims.
func ReadOnly(b Backend) Backend {
	if !b.Info().Writeable {
		return b
	}
	return readOnly{b}
}

// Info implements Backend.Info.
func (r readOnly) Info() block.Info {
	info := r.Backend.Info()
	info.Writeable = false
	return info
}

// WriteAt implements Backend.WriteAt.
func (readOnly) WriteAt([]byte, uint64) error {
	return ErrReadOnly
}

// Trim implements Backend.Trim.
func (readOnly) Trim(uint64, uint64) error {
	return ErrReadOnly
}
