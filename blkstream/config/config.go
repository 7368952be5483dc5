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

// Package config provides basic infrastructure to set configuration settings
// for blkstream. Each setting that can be changed from the command line or
// from a configuration file must be added to Config.
package config

import (
	"flag"
	"fmt"
	"reflect"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/pktstream/pktstream/pkg/log"
)

// Config holds configuration that is not part of a block stream session.
type Config struct {
	// ConfigFile is the path of an optional TOML file. Keys in the file are
	// flag names; a flag given on the command line takes precedence.
	ConfigFile string `flag:"config"`

	// Socket is the path of the unix socket the server listens on.
	Socket string `flag:"socket"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: text, json, or logrus.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is an additional location for debug logs.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for DebugLog.
	DebugLogFormat string `flag:"debug-log-format"`

	// Image is the backing file of the served device. An empty image serves
	// BlockCount blocks of memory.
	Image string `flag:"image"`

	BlockSize  uint64 `flag:"block-size"`
	BlockCount uint64 `flag:"block-count"`

	// BulkSize is the size of the bulk buffer of every session.
	BulkSize uint64 `flag:"bulk-size"`

	// ReadOnly rejects write and trim requests.
	ReadOnly bool `flag:"read-only"`

	// EncryptKeyFile names a file holding the secret the device is encrypted
	// with. Empty means no encryption.
	EncryptKeyFile string `flag:"encrypt-key-file"`
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "path of a TOML file with default values for the flags below.")
	flagSet.String("socket", "/run/blkstream.sock", "path of the block server socket.")

	// Logging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default), json, or logrus.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "additional location for logs.")
	flagSet.String("debug-log-format", "text", "log format for --debug-log: text (default), json, or logrus.")

	// Device flags.
	flagSet.String("image", "", "backing file of the device. If empty, the device lives in memory.")
	flagSet.Uint64("block-size", 512, "block size in bytes, a multiple of 512.")
	flagSet.Uint64("block-count", 2048, "number of blocks of a memory device.")
	flagSet.Uint64("bulk-size", 1<<20, "size in bytes of the bulk buffer shared with each client.")
	flagSet.Bool("read-only", false, "reject write and trim requests.")
	flagSet.String("encrypt-key-file", "", "file with the secret used to encrypt the device; empty disables encryption.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags, falling back to the configuration file for flags that were not set
// explicitly.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	if fl := flagSet.Lookup("config"); fl != nil && fl.Value.String() != "" {
		if err := applyFile(flagSet, fl.Value.String()); err != nil {
			return nil, err
		}
	}

	conf := &Config{}
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			panic(fmt.Sprintf("Flag %q cannot be read", name))
		}
		obj.Field(i).Set(reflect.ValueOf(getter.Get()))
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// applyFile sets every flag named in the TOML file at path that was not
// given on the command line.
func applyFile(flagSet *flag.FlagSet, path string) error {
	var values map[string]any
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return fmt.Errorf("reading config file %q: %w", path, err)
	}
	explicit := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) {
		explicit[fl.Name] = true
	})

	// Sorted so that errors are reported deterministically.
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, name := range keys {
		if name == "config" || flagSet.Lookup(name) == nil {
			return fmt.Errorf("config file %q: unknown key %q", path, name)
		}
		if explicit[name] {
			continue
		}
		switch v := values[name].(type) {
		case string, bool, int64:
			if err := flagSet.Set(name, fmt.Sprint(v)); err != nil {
				return fmt.Errorf("config file %q: key %q: %w", path, name, err)
			}
		default:
			return fmt.Errorf("config file %q: key %q has unsupported type %T", path, name, v)
		}
	}
	return nil
}

func (c *Config) validate() error {
	for _, f := range []string{c.LogFormat, c.DebugLogFormat} {
		switch f {
		case "text", "json", "logrus":
		default:
			return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'logrus'", f)
		}
	}
	if c.BlockSize == 0 || c.BlockSize%512 != 0 {
		return fmt.Errorf("block size %d is not a positive multiple of 512", c.BlockSize)
	}
	if c.Image == "" && c.BlockCount == 0 {
		return fmt.Errorf("a memory device needs a non-zero block count")
	}
	if c.BulkSize < c.BlockSize {
		return fmt.Errorf("bulk size %d cannot hold a single block of %d bytes", c.BulkSize, c.BlockSize)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		if name, ok := st.Field(i).Tag.Lookup("flag"); ok {
			log.Infof("Config.%s (--%s): %v", st.Field(i).Name, name, obj.Field(i).Interface())
		}
	}
}
