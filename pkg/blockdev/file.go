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

package blockdev

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/pktstream/pktstream/pkg/cleanup"
	"github.com/pktstream/pktstream/pkg/log"
	"github.com/pktstream/pktstream/pkg/packet/block"
)

// ErrLocked is returned by OpenFile when another process serves the image.
var ErrLocked = errors.New("image is locked by another process")

// File is a Backend stored in a regular file or a block device node.
type File struct {
	f    *os.File
	lock *flock.Flock
	info block.Info
}

// OpenFile opens the image at path. The image is locked for the lifetime of
// the File so that two servers never write the same image. Trailing bytes
// beyond the last whole block are ignored.
func OpenFile(path string, blockSize uint64, readOnly bool) (*File, error) {
	if blockSize == 0 || blockSize&(blockSize-1) != 0 {
		return nil, fmt.Errorf("block size %d is not a power of 2", blockSize)
	}
	lock := flock.New(path)
	var (
		locked bool
		err    error
	)
	if readOnly {
		locked, err = lock.TryRLock()
	} else {
		locked, err = lock.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("locking %q: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %q", ErrLocked, path)
	}
	cu := cleanup.Make(func() { lock.Unlock() })
	defer cu.Clean()

	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}
	cu.Add(func() { f.Close() })

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("determining size of %q: %w", path, err)
	}
	if size < int64(blockSize) {
		return nil, fmt.Errorf("image %q has %d bytes, smaller than one block", path, size)
	}
	cu.Release()
	return &File{
		f:    f,
		lock: lock,
		info: block.Info{
			BlockSize:  blockSize,
			BlockCount: uint64(size) / blockSize,
			Writeable:  !readOnly,
		},
	}, nil
}

// Info implements Backend.Info.
func (fb *File) Info() block.Info {
	return fb.info
}

// ReadAt implements Backend.ReadAt.
func (fb *File) ReadAt(p []byte, lba uint64) error {
	if err := checkIO(fb.info, p, lba); err != nil {
		return err
	}
	_, err := fb.f.ReadAt(p, int64(lba*fb.info.BlockSize))
	return err
}

// WriteAt implements Backend.WriteAt.
func (fb *File) WriteAt(p []byte, lba uint64) error {
	if !fb.info.Writeable {
		return ErrReadOnly
	}
	if err := checkIO(fb.info, p, lba); err != nil {
		return err
	}
	_, err := fb.f.WriteAt(p, int64(lba*fb.info.BlockSize))
	return err
}

// Sync implements Backend.Sync.
func (fb *File) Sync() error {
	return fb.f.Sync()
}

// Trim implements Backend.Trim by punching a hole into the file. File systems
// without hole support get the range zeroed instead.
func (fb *File) Trim(lba, count uint64) error {
	if !fb.info.Writeable {
		return ErrReadOnly
	}
	if err := fb.info.CheckRange(lba, count); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	off, length := int64(lba*fb.info.BlockSize), int64(count*fb.info.BlockSize)
	err := unix.Fallocate(int(fb.f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, length)
	if err != unix.EOPNOTSUPP {
		return err
	}
	log.Debugf("Hole punching unsupported on %s, zeroing %d bytes", fb.f.Name(), length)
	zeroes := make([]byte, min(length, 1<<20))
	for length > 0 {
		n := min(length, int64(len(zeroes)))
		if _, err := fb.f.WriteAt(zeroes[:n], off); err != nil {
			return err
		}
		off += n
		length -= n
	}
	return nil
}

// Close implements Backend.Close.
func (fb *File) Close() error {
	err := fb.f.Close()
	if uerr := fb.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
