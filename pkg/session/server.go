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
	"os"
	"time"

	"github.com/pktstream/pktstream/pkg/cleanup"
	"github.com/pktstream/pktstream/pkg/eventfd"
	"github.com/pktstream/pktstream/pkg/log"
	"github.com/pktstream/pktstream/pkg/shm"
)

// Offer describes the stream a Listener sets up for each client.
type Offer struct {
	// Protocol names what travels over the stream, e.g. "block".
	Protocol string

	// RegionSize is the size of the shared region, rounded up to pages.
	RegionSize uint64

	SubmitQueueSize uint32
	AckQueueSize    uint32

	// SlotSize is the encoded descriptor size.
	SlotSize uint32

	// Params are protocol parameters, see EncodeParams.
	Params []byte
}

// Listener accepts session clients on a unix socket.
type Listener struct {
	l    *net.UnixListener
	path string
}

// Listen creates a listening socket at path. A stale socket file left by a
// previous server is removed.
func Listen(path string) (*Listener, error) {
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("removing stale socket %q: %w", path, err)
		}
	}
	l, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, fmt.Errorf("listening on %q: %w", path, err)
	}
	l.SetUnlinkOnClose(true)
	return &Listener{l: l, path: path}, nil
}

// Path returns the socket path.
func (l *Listener) Path() string {
	return l.path
}

// Close stops listening and removes the socket file.
func (l *Listener) Close() error {
	return l.l.Close()
}

// Accept waits for a client and performs the server side of the handshake.
func (l *Listener) Accept(ctx context.Context, offer Offer) (*Endpoint, error) {
	stop := context.AfterFunc(ctx, func() {
		l.l.SetDeadline(time.Now())
	})
	conn, err := l.l.AcceptUnix()
	if !stop() {
		// The deadline may have been set; clear it for the next Accept.
		l.l.SetDeadline(time.Time{})
		if err == nil {
			conn.Close()
			return nil, ctx.Err()
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("accepting session: %w", err)
	}

	ep, err := handshake(ctx, conn, offer)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ep, nil
}

func handshake(ctx context.Context, conn *net.UnixConn, offer Offer) (*Endpoint, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	region, err := shm.Create("pktstream-"+offer.Protocol, offer.RegionSize)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { region.Close() })
	defer cu.Clean()

	var efds [4]*eventfd.Eventfd
	for i := range efds {
		efd, err := eventfd.Create()
		if err != nil {
			return nil, err
		}
		cu.Add(func() { efd.Close() })
		efds[i] = efd
	}

	hello := Hello{
		Version:         Version,
		Protocol:        offer.Protocol,
		RegionSize:      uint64(region.Size),
		SubmitQueueSize: offer.SubmitQueueSize,
		AckQueueSize:    offer.AckQueueSize,
		SlotSize:        offer.SlotSize,
		Params:          offer.Params,
	}
	fds := []int{region.FD, efds[0].FD(), efds[1].FD(), efds[2].FD(), efds[3].FD()}
	if err := writeMsg(conn, &hello, fds); err != nil {
		return nil, err
	}

	var reply Reply
	extra, err := readMsg(conn, &reply)
	if err != nil {
		return nil, fmt.Errorf("waiting for reply: %w", err)
	}
	closeFDs(extra)
	if !reply.OK {
		return nil, fmt.Errorf("%w: %s", ErrRejected, reply.Reason)
	}

	ep, err := newEndpoint(hello, region, efds, conn)
	if err != nil {
		return nil, err
	}
	cu.Release()
	log.Infof("Session established: protocol %q, region %d bytes, queues %d/%d", hello.Protocol, hello.RegionSize, hello.SubmitQueueSize, hello.AckQueueSize)
	return ep, nil
}

// IsClosed returns true if err reports use of a closed Listener.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
