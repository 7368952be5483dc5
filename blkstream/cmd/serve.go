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
	"os/signal"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/subcommands"
	"golang.org/x/sys/unix"

	"github.com/pktstream/pktstream/blkstream/cmd/util"
	"github.com/pktstream/pktstream/blkstream/config"
	"github.com/pktstream/pktstream/pkg/blockdev"
	"github.com/pktstream/pktstream/pkg/cleanup"
	"github.com/pktstream/pktstream/pkg/log"
	"github.com/pktstream/pktstream/pkg/session"
)

// Serve implements subcommands.Command for the "serve" command.
type Serve struct{}

// Name implements subcommands.Command.Name.
func (*Serve) Name() string {
	return "serve"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Serve) Synopsis() string {
	return "serve a block device over shared-memory packet streams"
}

// Usage implements subcommands.Command.Usage.
func (*Serve) Usage() string {
	return `serve [flags] - serve the device configured by the global flags on --socket.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Serve) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Serve) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	backend, err := newBackend(conf)
	if err != nil {
		util.Fatalf("opening device: %v", err)
	}
	defer backend.Close()

	l, err := session.Listen(conf.Socket)
	if err != nil {
		util.Fatalf("listening on %q: %v", conf.Socket, err)
	}
	defer l.Close()

	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()

	srv := blockdev.NewServer(backend)
	info := srv.Info()
	log.Infof("Serving %d blocks of %d bytes (writeable: %t) on %q", info.BlockCount, info.BlockSize, info.Writeable, l.Path())
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warningf("Failed to notify systemd: %v", err)
	} else if sent {
		log.Debugf("Notified systemd of readiness")
	}

	err = srv.ServeListener(ctx, l, conf.BulkSize)
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	st := srv.Stats()
	log.Infof("Server stopped: %d reads, %d writes, %d syncs, %d trims, %d failed, %d invalid",
		st.Reads.Load(), st.Writes.Load(), st.Syncs.Load(), st.Trims.Load(), st.Failed.Load(), st.Invalid.Load())
	if err != nil {
		util.Fatalf("serving: %v", err)
	}
	return subcommands.ExitSuccess
}

// newBackend opens the device described by conf.
func newBackend(conf *config.Config) (blockdev.Backend, error) {
	var (
		b   blockdev.Backend
		err error
	)
	if conf.Image == "" {
		b, err = blockdev.NewMemory(conf.BlockSize, conf.BlockCount)
	} else {
		b, err = blockdev.OpenFile(conf.Image, conf.BlockSize, conf.ReadOnly)
	}
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { b.Close() })
	defer cu.Clean()

	if conf.EncryptKeyFile != "" {
		secret, err := os.ReadFile(conf.EncryptKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		c, err := blockdev.NewCrypt(b, secret)
		if err != nil {
			return nil, err
		}
		b = c
	}
	if conf.ReadOnly {
		b = blockdev.ReadOnly(b)
	}
	cu.Release()
	return b, nil
}
