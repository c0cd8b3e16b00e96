// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package semaphore is the bounded-concurrency admission-control
// primitive the command runner stack's limited and pooled layers are
// built on.
package semaphore

import (
	"context"
	"sync/atomic"
)

// Semaphore admits at most n concurrent holders; additional callers to
// WaitAcquire block (FIFO, via the channel's own ordering) until a
// slot is released.
type Semaphore struct {
	ch    chan struct{}
	waits atomic.Int64
	reqs  atomic.Int64
}

// New creates a Semaphore with capacity n. n <= 0 means unlimited: all
// acquires succeed immediately and Do never blocks.
func New(n int) *Semaphore {
	if n <= 0 {
		return &Semaphore{}
	}
	return &Semaphore{ch: make(chan struct{}, n)}
}

// WaitAcquire blocks until a slot is available or ctx is done, and
// returns a func to release the slot. Calling the returned func more
// than once is a programming error.
func (s *Semaphore) WaitAcquire(ctx context.Context) (func(), error) {
	if s.ch == nil {
		return func() {}, nil
	}
	s.waits.Add(1)
	defer s.waits.Add(-1)
	select {
	case s.ch <- struct{}{}:
		s.reqs.Add(1)
		return func() { <-s.ch }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}

// TryAcquire attempts to acquire a slot without blocking, returning
// (release, true) on success.
func (s *Semaphore) TryAcquire() (func(), bool) {
	if s.ch == nil {
		return func() {}, true
	}
	select {
	case s.ch <- struct{}{}:
		s.reqs.Add(1)
		return func() { <-s.ch }, true
	default:
		return nil, false
	}
}

// Do runs f while holding a slot.
func (s *Semaphore) Do(ctx context.Context, f func(ctx context.Context) error) error {
	release, err := s.WaitAcquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return f(ctx)
}

// Capacity returns the semaphore's capacity, or 0 if unlimited.
func (s *Semaphore) Capacity() int { return cap(s.ch) }

// InUse returns the number of currently held slots.
func (s *Semaphore) InUse() int {
	if s.ch == nil {
		return 0
	}
	return len(s.ch)
}

// NumWaits returns the number of goroutines currently blocked in
// WaitAcquire.
func (s *Semaphore) NumWaits() int { return int(s.waits.Load()) }

// NumRequests returns the cumulative number of successful acquires.
// An unlimited semaphore does not count its acquires and reports 0.
func (s *Semaphore) NumRequests() int { return int(s.reqs.Load()) }
