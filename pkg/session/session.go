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

// Package session establishes packet streams between processes.
//
// The server listens on a unix seqpacket socket. For each client it creates a
// shared region and four eventfds and sends them in a single Hello message,
// with the file descriptors attached as SCM_RIGHTS. The client validates the
// offer, maps the region and answers with a Reply. From then on the socket
// only serves to detect that the peer went away; all traffic flows through
// the region.
package session

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/pktstream/pktstream/pkg/pktstream"
)

// Version is the handshake protocol version.
const Version = 1

const (
	// numFDs is the number of file descriptors attached to a Hello: the
	// region followed by the signals in Signals field order.
	numFDs = 5

	// maxMessage bounds the encoded size of handshake messages.
	maxMessage = 4096
)

// ErrRejected is returned by Accept when the client declines the offer.
var ErrRejected = errors.New("offer rejected by peer")

// Hello is the server's offer.
type Hello struct {
	Version         uint32          `cbor:"1,keyasint"`
	Protocol        string          `cbor:"2,keyasint"`
	RegionSize      uint64          `cbor:"3,keyasint"`
	SubmitQueueSize uint32          `cbor:"4,keyasint"`
	AckQueueSize    uint32          `cbor:"5,keyasint"`
	SlotSize        uint32          `cbor:"6,keyasint"`
	Params          cbor.RawMessage `cbor:"7,keyasint,omitempty"`
}

// Policy returns the queue sizes offered by h.
func (h *Hello) Policy() pktstream.Policy {
	return pktstream.Policy{SubmitQueueSize: h.SubmitQueueSize, AckQueueSize: h.AckQueueSize}
}

// Reply is the client's answer to a Hello.
type Reply struct {
	OK     bool   `cbor:"1,keyasint"`
	Reason string `cbor:"2,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 16,
		MaxMapPairs:      16,
	}.DecMode()
	if err != nil {
		panic("session: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeParams encodes protocol parameters for Hello.Params.
func EncodeParams(v any) (cbor.RawMessage, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	return b, nil
}

// DecodeParams decodes Hello.Params into v.
func (h *Hello) DecodeParams(v any) error {
	if len(h.Params) == 0 {
		return fmt.Errorf("hello for %q carries no params", h.Protocol)
	}
	if err := decMode.Unmarshal(h.Params, v); err != nil {
		return fmt.Errorf("decoding %q params: %w", h.Protocol, err)
	}
	return nil
}
