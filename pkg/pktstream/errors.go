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

package pktstream

import "errors"

var (
	// ErrRegionTooSmall is returned when the shared region cannot hold both
	// queues and a non-empty bulk buffer.
	ErrRegionTooSmall = errors.New("shared region too small")

	// ErrInvalidQueueSize is returned for queues with fewer than two slots.
	ErrInvalidQueueSize = errors.New("queue must have at least two slots")

	// ErrPacketAllocFailed is returned when the bulk buffer has no room for
	// a packet.
	ErrPacketAllocFailed = errors.New("packet allocation failed")

	// ErrInvalidPacket is returned for descriptors that do not lie within the
	// bulk buffer.
	ErrInvalidPacket = errors.New("invalid packet")
)
