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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return fs
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blkstream.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	conf, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatalf("NewFromFlags failed: %v", err)
	}
	want := &Config{
		Socket:         "/run/blkstream.sock",
		LogFormat:      "text",
		DebugLogFormat: "text",
		BlockSize:      512,
		BlockCount:     2048,
		BulkSize:       1 << 20,
	}
	if diff := cmp.Diff(want, conf); diff != "" {
		t.Errorf("unexpected defaults (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	conf, err := NewFromFlags(newFlagSet(t, "--image=/tmp/disk.img", "--block-size=4096", "--read-only", "--debug"))
	if err != nil {
		t.Fatalf("NewFromFlags failed: %v", err)
	}
	if conf.Image != "/tmp/disk.img" || conf.BlockSize != 4096 || !conf.ReadOnly || !conf.Debug {
		t.Errorf("flags not applied: %+v", conf)
	}
}

func TestConfigFile(t *testing.T) {
	path := writeFile(t, `
socket = "/tmp/blk.sock"
block-size = 4096
bulk-size = 65536
read-only = true
log-format = "json"
`)
	conf, err := NewFromFlags(newFlagSet(t, "--config="+path, "--block-size=1024"))
	if err != nil {
		t.Fatalf("NewFromFlags failed: %v", err)
	}
	want := &Config{
		ConfigFile:     path,
		Socket:         "/tmp/blk.sock",
		LogFormat:      "json",
		DebugLogFormat: "text",
		// Explicit flags win over the file.
		BlockSize:  1024,
		BlockCount: 2048,
		BulkSize:   65536,
		ReadOnly:   true,
	}
	if diff := cmp.Diff(want, conf); diff != "" {
		t.Errorf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		want    string
	}{
		{name: "unknown key", content: `nope = 1`, want: `unknown key "nope"`},
		{name: "nested config", content: `config = "other.toml"`, want: `unknown key "config"`},
		{name: "table", content: "[device]\nimage = \"x\"", want: `unknown key "device"`},
		{name: "bad value", content: `block-size = "big"`, want: `key "block-size"`},
		{name: "syntax", content: `block-size = `, want: "reading config file"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, tc.content)
			_, err := NewFromFlags(newFlagSet(t, "--config="+path))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("NewFromFlags got err %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
	}{
		{name: "log format", args: []string{"--log-format=xml"}},
		{name: "debug log format", args: []string{"--debug-log-format=k8s"}},
		{name: "zero block size", args: []string{"--block-size=0"}},
		{name: "odd block size", args: []string{"--block-size=1000"}},
		{name: "empty memory device", args: []string{"--block-count=0"}},
		{name: "tiny bulk", args: []string{"--block-size=4096", "--bulk-size=512"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewFromFlags(newFlagSet(t, tc.args...)); err == nil {
				t.Errorf("NewFromFlags(%v) succeeded, want error", tc.args)
			}
		})
	}
}
