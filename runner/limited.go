// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runner

import (
	"context"

	"shuriken.build/shk/sync/semaphore"
)

// LoadAverageFunc reports the current system load average; swapped
// out in tests for a deterministic fake.
type LoadAverageFunc func() (float64, error)

// LimitedRunner wraps an inner Runner, admitting at most parallelism
// concurrent commands and refusing to admit more once the load
// average hits maxLoadAverage (0 disables the load check).
//
// Grounded on the teacher's pool-based concurrency gate, generalized
// from a bare parallelism cap to the spec's combined
// parallelism+load-average admission rule.
type LimitedRunner struct {
	inner          Runner
	sema           *semaphore.Semaphore
	maxLoadAverage float64
	loadFn         LoadAverageFunc

	queue []queuedInvoke
}

type queuedInvoke struct {
	cmd    Command
	onDone OnDone
}

// NewLimitedRunner wraps inner with a parallelism cap (<=0 means
// unlimited) and an optional load-average ceiling (<=0 disables it).
func NewLimitedRunner(inner Runner, parallelism int, maxLoadAverage float64, loadFn LoadAverageFunc) *LimitedRunner {
	return &LimitedRunner{
		inner:          inner,
		sema:           semaphore.New(parallelism),
		maxLoadAverage: maxLoadAverage,
		loadFn:         loadFn,
	}
}

func (r *LimitedRunner) Size() int { return r.inner.Size() + len(r.queue) }

func (r *LimitedRunner) Empty() bool { return r.inner.Empty() && len(r.queue) == 0 }

func (r *LimitedRunner) CanRunMore() bool {
	if capacity := r.sema.Capacity(); capacity > 0 && r.sema.InUse() >= capacity {
		return false
	}
	return r.underLoadLimit()
}

func (r *LimitedRunner) underLoadLimit() bool {
	if r.maxLoadAverage <= 0 || r.loadFn == nil {
		return true
	}
	load, err := r.loadFn()
	if err != nil {
		return true
	}
	return load < r.maxLoadAverage
}

func (r *LimitedRunner) Invoke(cmd Command, onDone OnDone) error {
	r.queue = append(r.queue, queuedInvoke{cmd: cmd, onDone: onDone})
	return r.admitQueued()
}

func (r *LimitedRunner) admitQueued() error {
	for len(r.queue) > 0 {
		if !r.underLoadLimit() {
			break
		}
		release, ok := r.sema.TryAcquire()
		if !ok {
			break
		}
		next := r.queue[0]
		r.queue = r.queue[1:]
		wrapped := func(res Result) {
			release()
			next.onDone(res)
		}
		if err := r.inner.Invoke(next.cmd, wrapped); err != nil {
			release()
			return err
		}
	}
	return nil
}

func (r *LimitedRunner) RunCommands(ctx context.Context) (bool, error) {
	if r.inner.Empty() && len(r.queue) > 0 {
		// Nothing admitted yet (e.g. load average was over the limit
		// the first time around); retry admission before blocking.
		if err := r.admitQueued(); err != nil {
			return false, err
		}
		if r.inner.Empty() {
			return false, nil
		}
	}
	interrupted, err := r.inner.RunCommands(ctx)
	if err != nil || interrupted {
		return interrupted, err
	}
	return false, r.admitQueued()
}
