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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pktstream/pktstream/pkg/packet/block"
	"github.com/pktstream/pktstream/pkg/pktstream"
	"github.com/pktstream/pktstream/pkg/session"
)

// localStream connects a client and a sink over a region in this process. The
// sink is not served.
func localStream(t *testing.T, info block.Info, bulk uint64) (*Client, *Sink) {
	t.Helper()
	p := Policy()
	mem := make([]byte, pktstream.MinRegionSize[block.Packet](p, bulk))
	sig := pktstream.NewLocalSignals()
	sink, err := pktstream.NewSink[block.Packet](mem, p, sig)
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	src, err := pktstream.NewSource[block.Packet](mem, p, sig)
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}
	c := NewClient(src, info)
	t.Cleanup(func() {
		c.Close()
		sig.Close()
	})
	return c, sink
}

// serve runs s on sink until the test ends.
func serve(t *testing.T, s *Server, sink *Sink) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, sink) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve failed: %v", err)
		}
	})
}

func newMemoryServer(t *testing.T, blocks uint64) *Server {
	t.Helper()
	m, err := NewMemory(512, blocks)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	return NewServer(m)
}

func TestReadWrite(t *testing.T) {
	s := newMemoryServer(t, 1024)
	c, sink := localStream(t, s.Info(), 64<<10)
	serve(t, s, sink)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Larger than the bulk buffer, so the transfer is split and waits for
	// space.
	data := pattern(256<<10, 3)
	if err := c.WriteAt(ctx, data, 10); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := c.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	got := make([]byte, len(data))
	if err := c.ReadAt(ctx, got, 10); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read back different data than written")
	}

	if err := c.Trim(ctx, 10, 1); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	blk := make([]byte, 512)
	if err := c.ReadAt(ctx, blk, 10); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(blk, make([]byte, 512)) {
		t.Errorf("trimmed block is not zero")
	}

	st := s.Stats()
	if st.Writes.Load() == 0 || st.Reads.Load() == 0 || st.Syncs.Load() != 1 || st.Trims.Load() != 1 {
		t.Errorf("unexpected stats: writes=%d reads=%d syncs=%d trims=%d", st.Writes.Load(), st.Reads.Load(), st.Syncs.Load(), st.Trims.Load())
	}
	if got, want := c.src.BulkAvail(), c.src.BulkBufferSize(); got != want {
		t.Errorf("BulkAvail() = %d after all requests completed, want %d", got, want)
	}
}

func TestConcurrentClients(t *testing.T) {
	s := newMemoryServer(t, 4096)
	c, sink := localStream(t, s.Info(), 32<<10)
	serve(t, s, sink)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			lba := uint64(i * 64)
			data := pattern(64*512, byte(i))
			if err := c.WriteAt(gctx, data, lba); err != nil {
				return err
			}
			got := make([]byte, len(data))
			if err := c.ReadAt(gctx, got, lba); err != nil {
				return err
			}
			if !bytes.Equal(got, data) {
				return errors.New("data mismatch")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent I/O failed: %v", err)
	}
}

func TestServerRejects(t *testing.T) {
	s := newMemoryServer(t, 16)
	c, sink := localStream(t, s.Info(), 64<<10)
	serve(t, s, sink)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The client validates ranges itself, so talk to the server directly.
	if err := c.roundTrip(ctx, block.Read, 15, 2, make([]byte, 1024)); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("out of range read = %v, want %v", err, ErrRequestFailed)
	}
	if err := c.roundTrip(ctx, block.Opcode(42), 0, 0, nil); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("unknown opcode = %v, want %v", err, ErrRequestFailed)
	}
	if err := c.roundTrip(ctx, block.Write, 0, 2, make([]byte, 512)); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("short payload = %v, want %v", err, ErrRequestFailed)
	}
	if got := s.Stats().Invalid.Load(); got != 3 {
		t.Errorf("Invalid = %d, want 3", got)
	}
	if err := c.ReadAt(ctx, make([]byte, 512), 16); err == nil {
		t.Errorf("client accepted an out of range read")
	}
}

func TestReadOnlyServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.img")
	if err := os.WriteFile(path, make([]byte, 8*512), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	f, err := OpenFile(path, 512, true)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer f.Close()
	s := NewServer(f)
	c, sink := localStream(t, s.Info(), 64<<10)
	serve(t, s, sink)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.WriteAt(ctx, make([]byte, 512), 0); !errors.Is(err, ErrReadOnly) {
		t.Errorf("client WriteAt = %v, want %v", err, ErrReadOnly)
	}
	if err := c.roundTrip(ctx, block.Write, 0, 1, make([]byte, 512)); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("forced write = %v, want %v", err, ErrRequestFailed)
	}
	if err := c.roundTrip(ctx, block.Trim, 0, 1, nil); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("forced trim = %v, want %v", err, ErrRequestFailed)
	}
}

func TestAbandonedRequest(t *testing.T) {
	s := newMemoryServer(t, 16)
	c, sink := localStream(t, s.Info(), 64<<10)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.ReadAt(ctx, make([]byte, 512), 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReadAt without a server = %v, want %v", err, context.DeadlineExceeded)
	}
	if c.src.BulkAvail() == c.src.BulkBufferSize() {
		t.Fatalf("abandoned packet released before its acknowledgement")
	}

	// Once the server acknowledges the packet, the client releases it.
	serve(t, s, sink)
	deadline := time.Now().Add(10 * time.Second)
	for c.src.BulkAvail() != c.src.BulkBufferSize() {
		if time.Now().After(deadline) {
			t.Fatalf("abandoned packet never released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseFailsRequests(t *testing.T) {
	s := newMemoryServer(t, 16)
	c, _ := localStream(t, s.Info(), 64<<10)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Sync(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	c.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClientClosed) {
			t.Errorf("Sync after Close = %v, want %v", err, ErrClientClosed)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Sync did not fail after Close")
	}
	if err := c.Sync(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Sync on closed client = %v, want %v", err, ErrClientClosed)
	}
}

func TestOverSession(t *testing.T) {
	dir, err := os.MkdirTemp("", "blk")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	defer os.RemoveAll(dir)
	l, err := session.Listen(filepath.Join(dir, "s"))
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer l.Close()

	s := newMemoryServer(t, 256)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srvCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(srvCtx, l, 128<<10) }()

	for round := 0; round < 2; round++ {
		c, err := Dial(ctx, l.Path())
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		if got := c.Info(); got != s.Info() {
			t.Errorf("client sees %+v, server has %+v", got, s.Info())
		}
		data := pattern(8*512, byte(round))
		if err := c.WriteAt(ctx, data, 4); err != nil {
			t.Fatalf("WriteAt failed: %v", err)
		}
		got := make([]byte, len(data))
		if err := c.ReadAt(ctx, got, 4); err != nil {
			t.Fatalf("ReadAt failed: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("round %d: data mismatch", round)
		}
		if err := c.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}

	stop()
	if err := <-done; err != nil {
		t.Errorf("ServeListener failed: %v", err)
	}
}

func TestTightBulkBuffer(t *testing.T) {
	s := newMemoryServer(t, 256)
	c, sink := localStream(t, s.Info(), 4<<10)
	serve(t, s, sink)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	want := pattern(64<<10, 5)
	if err := c.WriteAt(ctx, want, 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	// Acknowledged packets hold their space until the requester copied
	// the data out, so allocations must wait for them rather than fail.
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			got := make([]byte, len(want))
			for j := 0; j < 50; j++ {
				if err := c.ReadAt(ctx, got, 0); err != nil {
					return err
				}
				if !bytes.Equal(got, want) {
					return errors.New("read back different data than written")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent ReadAt failed: %v", err)
	}
}
