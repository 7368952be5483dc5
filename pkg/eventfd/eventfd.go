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

// Package eventfd wraps Linux's eventfd(2) syscall.
//
// An Eventfd implements notify.Channel, so it can carry packet-stream signals
// between processes. The file descriptor is passed to the peer over a unix
// socket and both sides wrap their copy.
package eventfd

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/pktstream/pktstream/pkg/notify"
)

const sizeofUint64 = 8

// Eventfd represents a Linux eventfd object.
type Eventfd struct {
	fd int

	// intr is a private eventfd used to interrupt a blocked Wait when its
	// context is cancelled or the Eventfd is closed.
	intr int

	// waitMu serializes waiters. It is held for the whole duration of Wait.
	waitMu sync.Mutex
	closed atomic.Bool
}

// Create returns an initialized eventfd.
func Create() (*Eventfd, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("failed to create eventfd: %w", err)
	}
	ev, err := Wrap(fd)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return ev, nil
}

// Wrap returns an initialized Eventfd using the provided fd. The Eventfd takes
// ownership of fd.
func Wrap(fd int) (*Eventfd, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("failed to set eventfd %d non-blocking: %w", fd, err)
	}
	intr, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("failed to create interrupt eventfd: %w", err)
	}
	return &Eventfd{fd: fd, intr: intr}, nil
}

// Close closes the eventfd, after which it should not be used. Blocked
// waiters return notify.ErrClosed.
func (ev *Eventfd) Close() error {
	if ev.closed.Swap(true) {
		return nil
	}
	// Kick the waiter, if any, and wait for it to leave.
	addCounter(ev.intr, 1)
	ev.waitMu.Lock()
	defer ev.waitMu.Unlock()
	unix.Close(ev.intr)
	return unix.Close(ev.fd)
}

// Dup copies the eventfd, calling dup(2) on the underlying file descriptor.
func (ev *Eventfd) Dup() (*Eventfd, error) {
	other, err := unix.FcntlInt(uintptr(ev.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to dup: %w", err)
	}
	dup, err := Wrap(other)
	if err != nil {
		unix.Close(other)
		return nil, err
	}
	return dup, nil
}

// Notify alerts other users of the eventfd. Users can receive alerts by
// calling Wait or Read.
func (ev *Eventfd) Notify() error {
	return ev.Write(1)
}

// Write writes a specific value to the eventfd.
func (ev *Eventfd) Write(val uint64) error {
	if ev.closed.Load() {
		return notify.ErrClosed
	}
	for {
		err := addCounter(ev.fd, val)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			// The counter is saturated, so the reader is already due
			// to wake up.
			return nil
		}
		if err != nil {
			return fmt.Errorf("write to eventfd: %w", err)
		}
		return nil
	}
}

// Wait blocks until eventfd is non-zero (i.e. someone calls Notify or Write)
// and resets it.
func (ev *Eventfd) Wait(ctx context.Context) error {
	_, err := ev.Read(ctx)
	return err
}

// Read blocks until eventfd is non-zero (i.e. someone calls Notify or Write)
// and returns the value read.
func (ev *Eventfd) Read(ctx context.Context) (uint64, error) {
	ev.waitMu.Lock()
	defer ev.waitMu.Unlock()

	var stop func() bool
	defer func() {
		if stop != nil {
			stop()
		}
	}()
	for {
		if ev.closed.Load() {
			return 0, notify.ErrClosed
		}
		val, err := takeCounter(ev.fd)
		if err == nil {
			return val, nil
		}
		if err != unix.EAGAIN && err != unix.EINTR {
			return 0, fmt.Errorf("read from eventfd: %w", err)
		}

		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if stop == nil && ctx.Done() != nil {
			stop = context.AfterFunc(ctx, func() {
				addCounter(ev.intr, 1)
			})
		}
		if err := ev.poll(); err != nil {
			return 0, err
		}
	}
}

// poll blocks until either the eventfd or the interrupt eventfd is readable.
// A pending interrupt is consumed; the caller rechecks its conditions.
func (ev *Eventfd) poll() error {
	events := []unix.PollFd{
		{Fd: int32(ev.fd), Events: unix.POLLIN},
		{Fd: int32(ev.intr), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Ppoll(events, nil, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("ppoll on eventfd: %w", err)
		}
		break
	}
	if events[1].Revents&unix.POLLIN != 0 {
		takeCounter(ev.intr)
	}
	return nil
}

// FD returns the underlying file descriptor. Use with care, as this breaks the
// Eventfd abstraction.
func (ev *Eventfd) FD() int {
	return ev.fd
}

var _ notify.Channel = (*Eventfd)(nil)
