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
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pktstream/pktstream/pkg/bitmap"
	"github.com/pktstream/pktstream/pkg/log"
	"github.com/pktstream/pktstream/pkg/packet/block"
	"github.com/pktstream/pktstream/pkg/pktstream"
	"github.com/pktstream/pktstream/pkg/session"
)

var (
	// ErrRequestFailed is returned when the server reports a failure.
	ErrRequestFailed = errors.New("block request failed")

	// ErrClientClosed is returned for requests on a closed Client.
	ErrClientClosed = errors.New("block client closed")

	// ErrServerGone is returned once the server has left the session.
	ErrServerGone = errors.New("block server went away")

	// ErrProtocol is returned when an acknowledgement does not match its
	// request.
	ErrProtocol = errors.New("block protocol violation")
)

const (
	// maxTransfer bounds the payload of a single packet.
	maxTransfer = 1 << 20

	// maxInFlight bounds the packets a single Read or Write keeps in
	// flight.
	maxInFlight = 8
)

// request is a submitted packet waiting for its acknowledgement.
type request struct {
	pkt block.Packet

	// done receives the acknowledgement. It is buffered so that the
	// collector never blocks.
	done chan block.Packet

	// abandoned is set when the requester gave up. The collector then
	// releases the packet on its own.
	//
	// +checklocks:Client.mu
	abandoned bool
}

// Client issues block requests over a packet-stream source. It is safe for
// concurrent use.
type Client struct {
	src      *Source
	info     block.Info
	transfer uint64

	// ctx is cancelled when the client is closed or its stream breaks.
	ctx    context.Context
	cancel context.CancelCauseFunc

	// dead is closed when the collector exits.
	dead chan struct{}

	// onClose releases resources the client was created with.
	onClose func() error

	mu sync.Mutex

	// tags tracks the tags of requests that hold a packet.
	//
	// +checklocks:mu
	tags bitmap.Bitmap

	// +checklocks:mu
	pending map[uint32]*request

	// released is closed and replaced whenever bulk space is released.
	//
	// +checklocks:mu
	released chan struct{}
}

// NewClient returns a client for the device described by info, submitting
// over src.
func NewClient(src *Source, info block.Info) *Client {
	ctx, cancel := context.WithCancelCause(context.Background())
	p := src.Policy()
	transfer := min(src.BulkBufferSize()/4, maxTransfer)
	transfer -= transfer % info.BlockSize
	transfer = max(transfer, info.BlockSize)
	c := &Client{
		src:      src,
		info:     info,
		transfer: transfer,
		ctx:      ctx,
		cancel:   cancel,
		dead:     make(chan struct{}),
		tags:     bitmap.New(p.SubmitQueueSize + p.AckQueueSize),
		pending:  make(map[uint32]*request),
		released: make(chan struct{}),
	}
	go c.collect()
	return c
}

// Dial connects to the block server listening at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	ep, err := session.Dial(ctx, path, Protocol, block.PacketSize)
	if err != nil {
		return nil, err
	}
	var info block.Info
	if err := ep.Hello.DecodeParams(&info); err != nil {
		ep.Close()
		return nil, err
	}
	if info.BlockSize == 0 || info.BlockSize%512 != 0 {
		ep.Close()
		return nil, fmt.Errorf("server offers unusable block size %d", info.BlockSize)
	}
	src, err := pktstream.NewSource[block.Packet](ep.Memory(), ep.Hello.Policy(), ep.Signals())
	if err != nil {
		ep.Close()
		return nil, err
	}
	c := NewClient(src, info)
	c.onClose = ep.Close
	go func() {
		select {
		case <-ep.PeerGone():
			c.cancel(ErrServerGone)
		case <-c.ctx.Done():
		}
	}()
	log.Infof("Connected to block device at %q: %d blocks of %d bytes", path, info.BlockCount, info.BlockSize)
	return c, nil
}

// Info describes the device.
func (c *Client) Info() block.Info {
	return c.info
}

// Close fails outstanding requests and releases the client.
func (c *Client) Close() error {
	c.cancel(ErrClientClosed)
	<-c.dead
	if c.onClose != nil {
		return c.onClose()
	}
	return nil
}

// collect dispatches acknowledgements to their requests.
func (c *Client) collect() {
	defer close(c.dead)
	for {
		ack, err := c.src.GetAckedPacket(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.cancel(fmt.Errorf("receiving acknowledgements: %w", err))
			}
			return
		}
		c.mu.Lock()
		req, ok := c.pending[ack.Tag]
		if !ok {
			c.mu.Unlock()
			log.Warningf("Dropping acknowledgement with unknown tag %d", ack.Tag)
			continue
		}
		delete(c.pending, ack.Tag)
		if req.abandoned {
			c.releaseLocked(req)
		} else {
			req.done <- ack
		}
		c.mu.Unlock()
	}
}

// alloc reserves a tag and size bytes of bulk space, waiting for in-flight
// requests to release space if necessary.
func (c *Client) alloc(ctx context.Context, size uint64) (*request, error) {
	for {
		c.mu.Lock()
		tag, err := c.tags.FirstZero(0)
		if err == nil {
			d, err := c.src.AllocPacket(size, block.AlignLog2)
			if err == nil {
				c.tags.Add(tag)
				req := &request{
					pkt:  block.Packet{Descriptor: d, Tag: tag},
					done: make(chan block.Packet, 1),
				}
				c.pending[tag] = req
				c.mu.Unlock()
				return req, nil
			}
			// Space comes back only while some request holds a tag,
			// including acknowledged ones not yet released.
			if !errors.Is(err, pktstream.ErrPacketAllocFailed) || c.tags.IsEmpty() {
				c.mu.Unlock()
				return nil, err
			}
		}
		released := c.released
		c.mu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
}

// releaseLocked frees the bulk space and tag of req.
//
// +checklocks:c.mu
func (c *Client) releaseLocked(req *request) {
	if err := c.src.ReleasePacket(req.pkt.Descriptor); err != nil {
		log.Warningf("Failed to release %v: %v", req.pkt.Descriptor, err)
	}
	c.tags.Remove(req.pkt.Tag)
	close(c.released)
	c.released = make(chan struct{})
}

func (c *Client) release(req *request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(req)
}

// roundTrip submits one packet and waits for its acknowledgement. buf is the
// payload: the source of a write or the destination of a read.
func (c *Client) roundTrip(ctx context.Context, op block.Opcode, lba, count uint64, buf []byte) error {
	if c.ctx.Err() != nil {
		return context.Cause(c.ctx)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(c.ctx, func() { cancel(context.Cause(c.ctx)) })
	defer stop()

	size := uint64(0)
	if op.HasPayload() {
		size = uint64(len(buf))
	}
	req, err := c.alloc(ctx, size)
	if err != nil {
		return err
	}
	req.pkt.Op = op
	req.pkt.BlockNumber = lba
	req.pkt.BlockCount = count
	if op == block.Write {
		content, err := c.src.PacketContent(req.pkt.Descriptor)
		if err != nil {
			panic(fmt.Sprintf("own packet %v is invalid: %v", req.pkt.Descriptor, err))
		}
		copy(content, buf)
	}

	if err := c.src.SubmitPacket(ctx, req.pkt); err != nil {
		c.mu.Lock()
		delete(c.pending, req.pkt.Tag)
		c.releaseLocked(req)
		c.mu.Unlock()
		return context.Cause(ctx)
	}

	select {
	case ack := <-req.done:
		defer c.release(req)
		return c.complete(req, ack, buf)
	case <-ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		select {
		case <-req.done:
			c.releaseLocked(req)
		default:
			req.abandoned = true
		}
		return context.Cause(ctx)
	}
}

// complete checks ack against req and copies read data to buf.
func (c *Client) complete(req *request, ack block.Packet, buf []byte) error {
	if ack.Descriptor != req.pkt.Descriptor || ack.Op != req.pkt.Op || ack.BlockNumber != req.pkt.BlockNumber || ack.BlockCount != req.pkt.BlockCount {
		return fmt.Errorf("%w: sent %v, acknowledged %v", ErrProtocol, req.pkt, ack)
	}
	if !ack.Success {
		return fmt.Errorf("%w: %v of %d blocks at %d", ErrRequestFailed, ack.Op, ack.BlockCount, ack.BlockNumber)
	}
	if req.pkt.Op == block.Read {
		content, err := c.src.PacketContent(req.pkt.Descriptor)
		if err != nil {
			return err
		}
		copy(buf, content)
	}
	return nil
}

// transferAt splits p into packets and runs them concurrently.
func (c *Client) transferAt(ctx context.Context, op block.Opcode, p []byte, lba uint64) error {
	if err := checkIO(c.info, p, lba); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	bs := c.info.BlockSize
	for off := uint64(0); off < uint64(len(p)); off += c.transfer {
		chunk := p[off:min(off+c.transfer, uint64(len(p)))]
		chunkLBA := lba + off/bs
		g.Go(func() error {
			return c.roundTrip(ctx, op, chunkLBA, uint64(len(chunk))/bs, chunk)
		})
	}
	return g.Wait()
}

// ReadAt reads the blocks starting at lba into p, whose length must be a
// multiple of the block size.
func (c *Client) ReadAt(ctx context.Context, p []byte, lba uint64) error {
	return c.transferAt(ctx, block.Read, p, lba)
}

// WriteAt writes p to the blocks starting at lba.
func (c *Client) WriteAt(ctx context.Context, p []byte, lba uint64) error {
	if !c.info.Writeable {
		return ErrReadOnly
	}
	return c.transferAt(ctx, block.Write, p, lba)
}

// Sync asks the server to make previous writes durable.
func (c *Client) Sync(ctx context.Context) error {
	return c.roundTrip(ctx, block.Sync, 0, 0, nil)
}

// Trim discards count blocks starting at lba.
func (c *Client) Trim(ctx context.Context, lba, count uint64) error {
	if err := c.info.CheckRange(lba, count); err != nil {
		return err
	}
	return c.roundTrip(ctx, block.Trim, lba, count, nil)
}
