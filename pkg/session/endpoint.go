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
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/pktstream/pktstream/pkg/cleanup"
	"github.com/pktstream/pktstream/pkg/eventfd"
	"github.com/pktstream/pktstream/pkg/log"
	"github.com/pktstream/pktstream/pkg/pktstream"
	"github.com/pktstream/pktstream/pkg/shm"
)

// Endpoint is one side of an established session.
type Endpoint struct {
	// Hello is the offer the session was established with.
	Hello Hello

	region  *shm.Region
	mapping *shm.Mapping
	efds    [4]*eventfd.Eventfd
	conn    *net.UnixConn

	peerGone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// newEndpoint takes ownership of region and efds. The caller still owns conn
// until newEndpoint succeeds.
func newEndpoint(hello Hello, region *shm.Region, efds [4]*eventfd.Eventfd, conn *net.UnixConn) (*Endpoint, error) {
	mapping, err := region.Map()
	if err != nil {
		return nil, err
	}
	ep := &Endpoint{
		Hello:    hello,
		region:   region,
		mapping:  mapping,
		efds:     efds,
		conn:     conn,
		peerGone: make(chan struct{}),
	}
	go ep.watchPeer()
	return ep, nil
}

// watchPeer closes peerGone once the socket reports the peer's departure.
// No messages are expected after the handshake.
func (ep *Endpoint) watchPeer() {
	defer close(ep.peerGone)
	var buf [64]byte
	for {
		n, err := ep.conn.Read(buf[:])
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debugf("Session socket read failed: %v", err)
			}
			return
		}
		if n == 0 {
			// Zero-length reads on a seqpacket socket mean EOF.
			return
		}
		log.Warningf("Ignoring %d unexpected bytes from session peer", n)
	}
}

// Signals returns the stream signals shared with the peer.
func (ep *Endpoint) Signals() pktstream.Signals {
	return pktstream.Signals{
		PacketAvail:   ep.efds[0],
		ReadyToSubmit: ep.efds[1],
		AckAvail:      ep.efds[2],
		ReadyToAck:    ep.efds[3],
	}
}

// Memory returns the mapped region.
func (ep *Endpoint) Memory() []byte {
	return ep.mapping.Bytes()
}

// PeerGone is closed once the peer has closed its end of the session.
func (ep *Endpoint) PeerGone() <-chan struct{} {
	return ep.peerGone
}

// Close tears down the session. Streams over Memory must no longer be used.
func (ep *Endpoint) Close() error {
	ep.closeOnce.Do(func() {
		var errs []error
		if err := ep.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		for _, efd := range ep.efds {
			if err := efd.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := ep.mapping.Unmap(); err != nil {
			errs = append(errs, err)
		}
		if err := ep.region.Close(); err != nil {
			errs = append(errs, err)
		}
		ep.closeErr = errors.Join(errs...)
	})
	return ep.closeErr
}

// writeMsg sends v with fds attached.
func writeMsg(conn *net.UnixConn, v any, fds []int) error {
	b, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %T: %w", v, err)
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	n, oobn, err := conn.WriteMsgUnix(b, oob, nil)
	if err != nil {
		return fmt.Errorf("sending %T: %w", v, err)
	}
	if n != len(b) || oobn != len(oob) {
		return fmt.Errorf("short write of %T: %d/%d bytes, %d/%d control bytes", v, n, len(b), oobn, len(oob))
	}
	return nil
}

// readMsg receives a message into v and returns the attached file
// descriptors, which the caller owns.
func readMsg(conn *net.UnixConn, v any) ([]int, error) {
	buf := make([]byte, maxMessage)
	oob := make([]byte, unix.CmsgSpace(numFDs*4))
	n, oobn, flags, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, fmt.Errorf("receiving %T: %w", v, err)
	}
	var fds []int
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return nil, fmt.Errorf("parsing control message: %w", err)
		}
		for i := range cmsgs {
			got, err := unix.ParseUnixRights(&cmsgs[i])
			if err != nil {
				closeFDs(fds)
				return nil, fmt.Errorf("parsing rights: %w", err)
			}
			fds = append(fds, got...)
		}
	}
	cu := cleanup.Make(func() { closeFDs(fds) })
	defer cu.Clean()

	if flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0 {
		return nil, fmt.Errorf("receiving %T: message truncated", v)
	}
	if n == 0 {
		return nil, fmt.Errorf("receiving %T: %w", v, io.EOF)
	}
	if err := decMode.Unmarshal(buf[:n], v); err != nil {
		return nil, fmt.Errorf("decoding %T: %w", v, err)
	}
	cu.Release()
	return fds, nil
}

func closeFDs(fds []int) {
	for _, fd := range fds {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
}
