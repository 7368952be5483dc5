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
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/pktstream/pktstream/blkstream/cmd/util"
	"github.com/pktstream/pktstream/blkstream/config"
	"github.com/pktstream/pktstream/pkg/blockdev"
)

// dialTimeout bounds how long client commands wait for the server socket to
// appear.
const dialTimeout = 10 * time.Second

// dial connects to the server configured by conf, or exits.
func dial(ctx context.Context, conf *config.Config) *blockdev.Client {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	c, err := blockdev.Dial(ctx, conf.Socket)
	if err != nil {
		util.Fatalf("connecting to %q: %v", conf.Socket, err)
	}
	return c
}

// Info implements subcommands.Command for the "info" command.
type Info struct{}

// Name implements subcommands.Command.Name.
func (*Info) Name() string {
	return "info"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Info) Synopsis() string {
	return "print the geometry of a served block device"
}

// Usage implements subcommands.Command.Usage.
func (*Info) Usage() string {
	return `info - connect to --socket and describe the device.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Info) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Info) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	c := dial(ctx, conf)
	defer c.Close()

	info := c.Info()
	fmt.Fprintf(os.Stdout, "block size:  %d\n", info.BlockSize)
	fmt.Fprintf(os.Stdout, "block count: %d\n", info.BlockCount)
	fmt.Fprintf(os.Stdout, "size:        %d\n", info.Bytes())
	fmt.Fprintf(os.Stdout, "writeable:   %t\n", info.Writeable)
	return subcommands.ExitSuccess
}
