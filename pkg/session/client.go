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

package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"

	"github.com/pktstream/pktstream/pkg/cleanup"
	"github.com/pktstream/pktstream/pkg/eventfd"
	"github.com/pktstream/pktstream/pkg/log"
	"github.com/pktstream/pktstream/pkg/shm"
)

// Dial connects to the server at path and accepts its offer if it carries
// protocol and slotSize. Connection attempts are retried until ctx is done,
// so that clients may start before the server.
func Dial(ctx context.Context, path, protocol string, slotSize uint32) (*Endpoint, error) {
	addr := &net.UnixAddr{Name: path, Net: "unixpacket"}
	var conn *net.UnixConn
	op := func() error {
		c, err := net.DialUnix("unixpacket", nil, addr)
		if err != nil {
			if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ECONNREFUSED) {
				log.Debugf("Session server at %q not ready: %v", path, err)
				return err
			}
			return backoff.Permanent(err)
		}
		conn = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("connecting to %q: %w", path, ctxErr)
		}
		return nil, fmt.Errorf("connecting to %q: %w", path, err)
	}

	ep, err := accept(ctx, conn, protocol, slotSize)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ep, nil
}

func accept(ctx context.Context, conn *net.UnixConn, protocol string, slotSize uint32) (*Endpoint, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	var hello Hello
	fds, err := readMsg(conn, &hello)
	if err != nil {
		return nil, fmt.Errorf("waiting for hello: %w", err)
	}
	cu := cleanup.Make(func() { closeFDs(fds) })
	defer cu.Clean()

	reject := func(format string, v ...any) error {
		reason := fmt.Sprintf(format, v...)
		if err := writeMsg(conn, &Reply{Reason: reason}, nil); err != nil {
			log.Warningf("Failed to send rejection: %v", err)
		}
		return fmt.Errorf("rejecting offer: %s", reason)
	}
	switch {
	case hello.Version != Version:
		return nil, reject("version %d, want %d", hello.Version, Version)
	case hello.Protocol != protocol:
		return nil, reject("protocol %q, want %q", hello.Protocol, protocol)
	case hello.SlotSize != slotSize:
		return nil, reject("slot size %d, want %d", hello.SlotSize, slotSize)
	case len(fds) != numFDs:
		return nil, reject("%d file descriptors, want %d", len(fds), numFDs)
	}

	region, err := shm.Wrap(fds[0])
	if err != nil {
		return nil, reject("%v", err)
	}
	if uint64(region.Size) != hello.RegionSize {
		return nil, reject("region has %d bytes, hello says %d", region.Size, hello.RegionSize)
	}

	var efds [4]*eventfd.Eventfd
	for i := range efds {
		efd, err := eventfd.Wrap(fds[i+1])
		if err != nil {
			for j, prev := range efds[:i] {
				prev.Close()
				fds[j+1] = -1
			}
			return nil, reject("%v", err)
		}
		efds[i] = efd
	}
	// The region and eventfds own the descriptors from here on.
	cu.Release()
	cu = cleanup.Make(func() {
		region.Close()
		for _, efd := range efds {
			efd.Close()
		}
	})

	if err := writeMsg(conn, &Reply{OK: true}, nil); err != nil {
		return nil, err
	}
	ep, err := newEndpoint(hello, region, efds, conn)
	if err != nil {
		return nil, err
	}
	cu.Release()
	return ep, nil
}
