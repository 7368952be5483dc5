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
	"io"
	"os"
	"strconv"

	"github.com/google/subcommands"

	"github.com/pktstream/pktstream/blkstream/cmd/util"
	"github.com/pktstream/pktstream/blkstream/config"
)

// parseLBA parses the single block number argument of f.
func parseLBA(f *flag.FlagSet) (uint64, bool) {
	if f.NArg() != 1 {
		return 0, false
	}
	lba, err := strconv.ParseUint(f.Arg(0), 0, 64)
	if err != nil {
		return 0, false
	}
	return lba, true
}

// Read implements subcommands.Command for the "read" command.
type Read struct {
	count  uint64
	output string
}

// Name implements subcommands.Command.Name.
func (*Read) Name() string {
	return "read"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Read) Synopsis() string {
	return "read blocks from a served block device"
}

// Usage implements subcommands.Command.Usage.
func (*Read) Usage() string {
	return `read [flags] <lba> - read blocks starting at <lba> to stdout or --out.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Read) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&r.count, "count", 1, "number of blocks to read.")
	f.StringVar(&r.output, "out", "", "file to write the blocks to instead of stdout.")
}

// Execute implements subcommands.Command.Execute.
func (r *Read) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	lba, ok := parseLBA(f)
	if !ok || r.count == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	c := dial(ctx, conf)
	defer c.Close()

	info := c.Info()
	if err := info.CheckRange(lba, r.count); err != nil {
		util.Fatalf("%v", err)
	}
	buf := make([]byte, r.count*info.BlockSize)
	if err := c.ReadAt(ctx, buf, lba); err != nil {
		util.Fatalf("reading %d blocks at %d: %v", r.count, lba, err)
	}

	var out io.Writer = os.Stdout
	if r.output != "" {
		file, err := os.OpenFile(r.output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			util.Fatalf("opening output: %v", err)
		}
		defer file.Close()
		out = file
	}
	if _, err := out.Write(buf); err != nil {
		util.Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// Write implements subcommands.Command for the "write" command.
type Write struct {
	input string
	sync  bool
}

// Name implements subcommands.Command.Name.
func (*Write) Name() string {
	return "write"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Write) Synopsis() string {
	return "write blocks to a served block device"
}

// Usage implements subcommands.Command.Usage.
func (*Write) Usage() string {
	return `write [flags] <lba> - write stdin or --in starting at <lba>. The data
is padded with zeroes to a whole number of blocks.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Write) SetFlags(f *flag.FlagSet) {
	f.StringVar(&w.input, "in", "", "file to read the data from instead of stdin.")
	f.BoolVar(&w.sync, "sync", false, "sync the device after writing.")
}

// Execute implements subcommands.Command.Execute.
func (w *Write) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	lba, ok := parseLBA(f)
	if !ok {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var in io.Reader = os.Stdin
	if w.input != "" {
		file, err := os.Open(w.input)
		if err != nil {
			util.Fatalf("opening input: %v", err)
		}
		defer file.Close()
		in = file
	}
	data, err := io.ReadAll(in)
	if err != nil {
		util.Fatalf("reading input: %v", err)
	}
	if len(data) == 0 {
		return subcommands.ExitSuccess
	}

	c := dial(ctx, conf)
	defer c.Close()
	bs := c.Info().BlockSize
	if rem := uint64(len(data)) % bs; rem != 0 {
		data = append(data, make([]byte, bs-rem)...)
	}
	if err := c.WriteAt(ctx, data, lba); err != nil {
		util.Fatalf("writing %d blocks at %d: %v", uint64(len(data))/bs, lba, err)
	}
	if w.sync {
		if err := c.Sync(ctx); err != nil {
			util.Fatalf("syncing: %v", err)
		}
	}
	fmt.Fprintf(os.Stderr, "wrote %d blocks at %d\n", uint64(len(data))/bs, lba)
	return subcommands.ExitSuccess
}

// Trim implements subcommands.Command for the "trim" command.
type Trim struct {
	count uint64
}

// Name implements subcommands.Command.Name.
func (*Trim) Name() string {
	return "trim"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Trim) Synopsis() string {
	return "discard blocks of a served block device"
}

// Usage implements subcommands.Command.Usage.
func (*Trim) Usage() string {
	return `trim [flags] <lba> - discard blocks starting at <lba>.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Trim) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&t.count, "count", 1, "number of blocks to discard.")
}

// Execute implements subcommands.Command.Execute.
func (t *Trim) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	lba, ok := parseLBA(f)
	if !ok || t.count == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	c := dial(ctx, conf)
	defer c.Close()
	if err := c.Trim(ctx, lba, t.count); err != nil {
		util.Fatalf("trimming %d blocks at %d: %v", t.count, lba, err)
	}
	return subcommands.ExitSuccess
}
