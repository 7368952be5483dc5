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
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/pktstream/pktstream/pkg/log"
	"github.com/pktstream/pktstream/pkg/packet/block"
	"github.com/pktstream/pktstream/pkg/pktstream"
	"github.com/pktstream/pktstream/pkg/session"
)

// Protocol is the session protocol name of block streams.
const Protocol = "block"

type (
	// Source is the client end of a block stream.
	Source = pktstream.Source[block.Packet, *block.Packet]

	// Sink is the server end of a block stream.
	Sink = pktstream.Sink[block.Packet, *block.Packet]
)

// Policy returns the queue sizes of block streams.
func Policy() pktstream.Policy {
	return pktstream.Policy{SubmitQueueSize: block.QueueSize, AckQueueSize: block.QueueSize}
}

// Stats counts requests processed by a Server.
type Stats struct {
	Reads   atomic.Uint64
	Writes  atomic.Uint64
	Syncs   atomic.Uint64
	Trims   atomic.Uint64
	Failed  atomic.Uint64
	Invalid atomic.Uint64
}

// Server executes block requests against a Backend.
type Server struct {
	backend Backend
	info    block.Info
	stats   Stats
}

// NewServer returns a server for b.
func NewServer(b Backend) *Server {
	return &Server{backend: b, info: b.Info()}
}

// Info describes the served device.
func (s *Server) Info() block.Info {
	return s.info
}

// Stats returns the request counters.
func (s *Server) Stats() *Stats {
	return &s.stats
}

// Offer returns the session offer for a stream whose bulk buffer holds
// bulkSize bytes.
func (s *Server) Offer(bulkSize uint64) (session.Offer, error) {
	params, err := session.EncodeParams(s.info)
	if err != nil {
		return session.Offer{}, err
	}
	p := Policy()
	return session.Offer{
		Protocol:        Protocol,
		RegionSize:      pktstream.MinRegionSize[block.Packet](p, bulkSize),
		SubmitQueueSize: p.SubmitQueueSize,
		AckQueueSize:    p.AckQueueSize,
		SlotSize:        block.PacketSize,
		Params:          params,
	}, nil
}

// Serve processes requests from sink until ctx is done or a signal fails.
// It returns nil if ctx was cancelled.
func (s *Server) Serve(ctx context.Context, sink *Sink) error {
	for {
		p, err := sink.GetPacket(ctx)
		if err != nil {
			return serveErr(ctx, err)
		}
		// Drain everything already queued before notifying the client.
		for {
			s.execute(sink, &p)
			if !sink.TryAckPacket(p) {
				// The ack queue is full. The client may be blocked on
				// an acknowledgement whose notification is deferred.
				if err := sink.WakeupAll(); err != nil {
					return serveErr(ctx, err)
				}
				if err := sink.AcknowledgePacket(ctx, p); err != nil {
					return serveErr(ctx, err)
				}
			}
			var ok bool
			if p, ok = sink.TryGetPacket(); !ok {
				break
			}
		}
		if err := sink.WakeupAll(); err != nil {
			return serveErr(ctx, err)
		}
	}
}

func serveErr(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// execute performs p and records the outcome in p.Success.
func (s *Server) execute(sink *Sink, p *block.Packet) {
	p.Success = false
	if err := s.do(sink, p); err != nil {
		s.stats.Failed.Add(1)
		log.Debugf("Request failed: %v: %v", p, err)
		return
	}
	p.Success = true
}

func (s *Server) do(sink *Sink, p *block.Packet) error {
	if !p.Op.Valid() {
		s.stats.Invalid.Add(1)
		return fmt.Errorf("unknown opcode %d", uint32(p.Op))
	}
	switch p.Op {
	case block.Sync:
		s.stats.Syncs.Add(1)
		return s.backend.Sync()
	case block.Trim:
		s.stats.Trims.Add(1)
		if !s.info.Writeable {
			return ErrReadOnly
		}
		return s.backend.Trim(p.BlockNumber, p.BlockCount)
	}

	if err := s.info.CheckRange(p.BlockNumber, p.BlockCount); err != nil {
		s.stats.Invalid.Add(1)
		return err
	}
	if want := p.BlockCount * s.info.BlockSize; p.Size != want {
		s.stats.Invalid.Add(1)
		return fmt.Errorf("payload of %d bytes for %d blocks", p.Size, p.BlockCount)
	}
	content, err := sink.PacketContent(p.Descriptor)
	if err != nil {
		s.stats.Invalid.Add(1)
		return err
	}
	if p.Op == block.Read {
		s.stats.Reads.Add(1)
		return s.backend.ReadAt(content, p.BlockNumber)
	}
	s.stats.Writes.Add(1)
	if !s.info.Writeable {
		return ErrReadOnly
	}
	return s.backend.WriteAt(content, p.BlockNumber)
}

// ServeEndpoint serves a block stream over an established session until the
// client leaves or ctx is done. The endpoint is closed on return.
func (s *Server) ServeEndpoint(ctx context.Context, ep *session.Endpoint) error {
	defer ep.Close()
	sink, err := pktstream.NewSink[block.Packet](ep.Memory(), ep.Hello.Policy(), ep.Signals())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ep.PeerGone():
			log.Infof("Block client went away")
			cancel()
		case <-ctx.Done():
		}
	}()
	return s.Serve(ctx, sink)
}

// ServeListener accepts clients from l and serves each of them until ctx is
// done. Every client gets a bulk buffer of bulkSize bytes.
func (s *Server) ServeListener(ctx context.Context, l *session.Listener, bulkSize uint64) error {
	offer, err := s.Offer(bulkSize)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			ep, err := l.Accept(ctx, offer)
			if err != nil {
				if ctx.Err() != nil || session.IsClosed(err) {
					return nil
				}
				log.Warningf("Failed to accept block client: %v", err)
				continue
			}
			g.Go(func() error {
				if err := s.ServeEndpoint(ctx, ep); err != nil {
					log.Warningf("Block client failed: %v", err)
				}
				return nil
			})
		}
	})
	return g.Wait()
}
