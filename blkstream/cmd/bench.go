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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/pktstream/pktstream/blkstream/cmd/util"
	"github.com/pktstream/pktstream/blkstream/config"
	"github.com/pktstream/pktstream/pkg/blockdev"
)

// Bench implements subcommands.Command for the "bench" command.
type Bench struct {
	duration time.Duration
	workers  int
	blocks   uint64
	writes   int
}

// Name implements subcommands.Command.Name.
func (*Bench) Name() string {
	return "bench"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Bench) Synopsis() string {
	return "measure random I/O against a served block device"
}

// Usage implements subcommands.Command.Usage.
func (*Bench) Usage() string {
	return `bench [flags] - issue random reads and writes and report throughput.
Writes destroy the contents of the device.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Bench) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&b.duration, "duration", 5*time.Second, "how long to run.")
	f.IntVar(&b.workers, "workers", 4, "number of concurrent requests.")
	f.Uint64Var(&b.blocks, "blocks", 8, "blocks per request.")
	f.IntVar(&b.writes, "writes", 0, "percentage of requests that are writes.")
}

// benchResult accumulates completed requests.
type benchResult struct {
	ops   atomic.Uint64
	bytes atomic.Uint64
}

// Execute implements subcommands.Command.Execute.
func (b *Bench) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || b.workers <= 0 || b.blocks == 0 || b.writes < 0 || b.writes > 100 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	c := dial(ctx, conf)
	defer c.Close()

	info := c.Info()
	if info.BlockCount < b.blocks {
		util.Fatalf("device has %d blocks, fewer than %d per request", info.BlockCount, b.blocks)
	}
	if b.writes > 0 && !info.Writeable {
		util.Fatalf("device is read-only")
	}

	ctx, cancel := context.WithTimeout(ctx, b.duration)
	defer cancel()
	var res benchResult
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			return b.worker(ctx, c, &res)
		})
	}
	if err := g.Wait(); err != nil {
		util.Fatalf("benchmark failed: %v", err)
	}
	elapsed := time.Since(start).Seconds()
	fmt.Fprintf(os.Stdout, "%d requests in %.2fs: %.0f IOPS, %.1f MiB/s\n",
		res.ops.Load(), elapsed, float64(res.ops.Load())/elapsed, float64(res.bytes.Load())/elapsed/(1<<20))
	return subcommands.ExitSuccess
}

// worker issues requests until ctx expires.
func (b *Bench) worker(ctx context.Context, c *blockdev.Client, res *benchResult) error {
	info := c.Info()
	buf := make([]byte, b.blocks*info.BlockSize)
	last := info.BlockCount - b.blocks
	for ctx.Err() == nil {
		lba := rand.Uint64N(last + 1)
		var err error
		if rand.IntN(100) < b.writes {
			err = c.WriteAt(ctx, buf, lba)
		} else {
			err = c.ReadAt(ctx, buf, lba)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		res.ops.Add(1)
		res.bytes.Add(uint64(len(buf)))
	}
	return nil
}
