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
	"crypto/aes"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/xts"

	"github.com/pktstream/pktstream/pkg/packet/block"
)

// cryptKeyInfo separates the derived XTS key from other uses of a secret.
const cryptKeyInfo = "pktstream blockdev aes-xts"

// Crypt is a Backend that encrypts every block of an underlying Backend with
// AES-XTS, using the block number as the tweak.
type Crypt struct {
	Backend
	cipher *xts.Cipher

	// scratch holds ciphertext for writes, so that the caller's plaintext
	// is never modified.
	scratch sync.Pool
}

// NewCrypt wraps inner. The AES-256-XTS key is derived from secret, which
// should hold at least 32 bytes of entropy.
func NewCrypt(inner Backend, secret []byte) (*Crypt, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty encryption secret")
	}
	if bs := inner.Info().BlockSize; bs%aes.BlockSize != 0 {
		return nil, fmt.Errorf("block size %d is not a multiple of the cipher block size", bs)
	}
	key := make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(cryptKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &Crypt{Backend: inner, cipher: c}, nil
}

// ReadAt implements Backend.ReadAt. Blocks are decrypted in place.
func (c *Crypt) ReadAt(p []byte, lba uint64) error {
	if err := c.Backend.ReadAt(p, lba); err != nil {
		return err
	}
	bs := c.Info().BlockSize
	for off := uint64(0); off < uint64(len(p)); off += bs {
		blk := p[off : off+bs]
		c.cipher.Decrypt(blk, blk, lba+off/bs)
	}
	return nil
}

// WriteAt implements Backend.WriteAt.
func (c *Crypt) WriteAt(p []byte, lba uint64) error {
	info := c.Info()
	if err := checkIO(info, p, lba); err != nil {
		return err
	}
	bufp, _ := c.scratch.Get().(*[]byte)
	if bufp == nil || cap(*bufp) < len(p) {
		b := make([]byte, len(p))
		bufp = &b
	}
	defer c.scratch.Put(bufp)
	buf := (*bufp)[:len(p)]

	bs := info.BlockSize
	for off := uint64(0); off < uint64(len(p)); off += bs {
		c.cipher.Encrypt(buf[off:off+bs], p[off:off+bs], lba+off/bs)
	}
	return c.Backend.WriteAt(buf, lba)
}

// Info implements Backend.Info.
func (c *Crypt) Info() block.Info {
	return c.Backend.Info()
}

// Trim implements Backend.Trim. Discarded ciphertext would decrypt to noise,
// so the range is overwritten with encrypted zeroes instead.
func (c *Crypt) Trim(lba, count uint64) error {
	info := c.Info()
	if err := info.CheckRange(lba, count); err != nil {
		return err
	}
	const chunkBlocks = 256
	zeroes := make([]byte, min(count, chunkBlocks)*info.BlockSize)
	for count > 0 {
		n := min(count, chunkBlocks)
		if err := c.WriteAt(zeroes[:n*info.BlockSize], lba); err != nil {
			return err
		}
		lba += n
		count -= n
	}
	return nil
}
