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

// Package notify provides the signal primitives used for flow control
// between the two sides of a packet stream.
//
// A signal carries no payload. Notifications are level-triggered and
// coalescing: any number of notifications delivered while nobody waits wake
// exactly one subsequent Wait. This is the contract of both the in-process
// Local channel and the cross-process eventfd implementation.
package notify

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when a signal is used after Close.
var ErrClosed = errors.New("signal closed")

// Notifier delivers a notification to the other side.
type Notifier interface {
	// Notify never blocks.
	Notify() error
}

// Waiter blocks until a notification arrives.
type Waiter interface {
	// Wait returns nil once a notification has been consumed, ctx.Err() if
	// ctx is done first, or ErrClosed if the signal was closed.
	Wait(ctx context.Context) error
}

// Channel is a signal usable from both ends.
type Channel interface {
	Notifier
	Waiter

	// Close releases the signal and wakes all waiters with ErrClosed.
	Close() error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func() error

// Notify implements Notifier.Notify.
func (f NotifierFunc) Notify() error {
	return f()
}

// Local is a Channel for two endpoints in the same process.
type Local struct {
	pending   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLocal returns a new Local signal.
func NewLocal() *Local {
	return &Local{
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Notify implements Notifier.Notify.
func (l *Local) Notify() error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.pending <- struct{}{}:
	default:
		// Already pending.
	}
	return nil
}

// Wait implements Waiter.Wait.
func (l *Local) Wait(ctx context.Context) error {
	// A pending notification wins over cancellation.
	select {
	case <-l.pending:
		return nil
	default:
	}
	select {
	case <-l.pending:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements Channel.Close.
func (l *Local) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}
