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
	"bytes"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/pktstream/pktstream/blkstream/config"
	"github.com/pktstream/pktstream/pkg/blockdev"
)

func TestParseLBA(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want uint64
		ok   bool
	}{
		{args: []string{"0"}, want: 0, ok: true},
		{args: []string{"42"}, want: 42, ok: true},
		{args: []string{"0x10"}, want: 16, ok: true},
		{args: []string{"abc"}},
		{args: []string{"-1"}},
		{args: nil},
		{args: []string{"1", "2"}},
	} {
		f := flag.NewFlagSet("test", flag.ContinueOnError)
		if err := f.Parse(append([]string{"--"}, tc.args...)); err != nil {
			t.Fatalf("Parse(%q) failed: %v", tc.args, err)
		}
		got, ok := parseLBA(f)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseLBA(%q) = %d, %t, want %d, %t", tc.args, got, ok, tc.want, tc.ok)
		}
	}
}

func backendConfig() *config.Config {
	return &config.Config{BlockSize: 512, BlockCount: 16}
}

func openBackend(t *testing.T, conf *config.Config) blockdev.Backend {
	t.Helper()
	b, err := newBackend(conf)
	if err != nil {
		t.Fatalf("newBackend failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func writeKey(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x5a}, 32), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestNewBackendMemory(t *testing.T) {
	b := openBackend(t, backendConfig())
	info := b.Info()
	if !info.Writeable || info.BlockSize != 512 || info.BlockCount != 16 {
		t.Errorf("Info() = %+v, want writeable 16x512 device", info)
	}
	if _, ok := b.(*blockdev.Memory); !ok {
		t.Errorf("newBackend returned %T, want *blockdev.Memory", b)
	}
}

func TestNewBackendReadOnly(t *testing.T) {
	conf := backendConfig()
	conf.ReadOnly = true
	b := openBackend(t, conf)
	if b.Info().Writeable {
		t.Errorf("read-only backend reports writeable")
	}
	if err := b.WriteAt(make([]byte, 512), 0); !errors.Is(err, blockdev.ErrReadOnly) {
		t.Errorf("WriteAt = %v, want %v", err, blockdev.ErrReadOnly)
	}
	if err := b.Trim(0, 1); !errors.Is(err, blockdev.ErrReadOnly) {
		t.Errorf("Trim = %v, want %v", err, blockdev.ErrReadOnly)
	}
}

func TestNewBackendEncrypted(t *testing.T) {
	conf := backendConfig()
	conf.EncryptKeyFile = writeKey(t)
	b := openBackend(t, conf)
	c, ok := b.(*blockdev.Crypt)
	if !ok {
		t.Fatalf("newBackend returned %T, want *blockdev.Crypt", b)
	}

	want := bytes.Repeat([]byte("plaintext"), 1024)[:1024]
	if err := b.WriteAt(want, 2); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	got := make([]byte, len(want))
	if err := b.ReadAt(got, 2); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadAt returned different data than written")
	}
	raw := make([]byte, len(want))
	if err := c.Backend.ReadAt(raw, 2); err != nil {
		t.Fatalf("raw ReadAt failed: %v", err)
	}
	if bytes.Equal(raw, want) {
		t.Errorf("underlying device holds plaintext")
	}
}

func TestNewBackendEncryptedReadOnly(t *testing.T) {
	image := filepath.Join(t.TempDir(), "image")
	if err := os.WriteFile(image, make([]byte, 16*512), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	key := writeKey(t)

	// Fill the image through a writable encrypted view first.
	want := bytes.Repeat([]byte{0xc3}, 512)
	conf := backendConfig()
	conf.Image = image
	conf.EncryptKeyFile = key
	w, err := newBackend(conf)
	if err != nil {
		t.Fatalf("newBackend failed: %v", err)
	}
	if err := w.WriteAt(want, 5); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	conf.ReadOnly = true
	b := openBackend(t, conf)
	if b.Info().Writeable {
		t.Errorf("read-only encrypted backend reports writeable")
	}
	got := make([]byte, len(want))
	if err := b.ReadAt(got, 5); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadAt did not decrypt the stored block")
	}
	if err := b.WriteAt(want, 5); !errors.Is(err, blockdev.ErrReadOnly) {
		t.Errorf("WriteAt = %v, want %v", err, blockdev.ErrReadOnly)
	}
}

func TestNewBackendMissingKey(t *testing.T) {
	conf := backendConfig()
	conf.EncryptKeyFile = filepath.Join(t.TempDir(), "missing")
	if b, err := newBackend(conf); err == nil {
		b.Close()
		t.Errorf("newBackend with missing key file succeeded")
	}
}
