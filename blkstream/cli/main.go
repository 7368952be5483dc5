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

// Package cli is the main entrypoint for blkstream.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"

	"github.com/pktstream/pktstream/blkstream/cmd"
	"github.com/pktstream/pktstream/blkstream/cmd/util"
	"github.com/pktstream/pktstream/blkstream/config"
	"github.com/pktstream/pktstream/pkg/log"
)

// version is set by the linker.
var version = "dev"

// Main is the main entrypoint.
func Main() {
	forEachCmd(subcommands.Register)

	config.RegisterFlags(flag.CommandLine)
	showVersion := flag.Bool("version", false, "show version and exit.")
	flag.Parse()

	if *showVersion {
		fmt.Fprintf(os.Stdout, "blkstream version %s\n", version)
		os.Exit(0)
	}

	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	var logFile io.Writer = os.Stderr
	if conf.LogFilename != "" {
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			util.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		logFile = f
		util.ErrorLogger = f
	}

	emitters := log.MultiEmitter{newEmitter(conf.LogFormat, logFile)}
	if conf.DebugLog != "" {
		f, err := os.OpenFile(conf.DebugLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			util.Fatalf("error opening debug log file %q: %v", conf.DebugLog, err)
		}
		emitters = append(emitters, newEmitter(conf.DebugLogFormat, f))
	}
	if len(emitters) == 1 {
		log.SetTarget(emitters[0])
	} else {
		log.SetTarget(&emitters)
	}
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	const delimString = `************** blkstream **************`
	log.Debugf(delimString)
	log.Debugf("Version %s, %s, %s, PID %d, UID %d, GID %d", version, runtime.Version(), runtime.GOARCH, os.Getpid(), os.Getuid(), os.Getgid())
	log.Debugf("Args: %v", os.Args)
	if log.IsLogging(log.Debug) {
		conf.Log()
	}
	log.Debugf(delimString)

	// Call the subcommand and pass in the configuration.
	if code := subcommands.Execute(context.Background(), conf); code != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", code)
		os.Exit(int(code))
	}
}

// forEachCmd invokes the passed callback for each command supported by
// blkstream.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Serve), "")

	const clientGroup = "client"
	cb(new(cmd.Info), clientGroup)
	cb(new(cmd.Read), clientGroup)
	cb(new(cmd.Write), clientGroup)
	cb(new(cmd.Trim), clientGroup)
	cb(new(cmd.Bench), clientGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	case "logrus":
		return log.NewLogrusEmitter(logFile)
	}
	util.Fatalf("invalid log format %q, must be 'text', 'json', or 'logrus'", format)
	panic("unreachable")
}
