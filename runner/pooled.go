// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runner

import (
	"context"

	"shuriken.build/shk/sync/semaphore"
)

// PooledRunner wraps an inner Runner with per-named-pool admission
// gates, each a FIFO queue bounded by that pool's depth. The console
// pool is always forced to depth 1 so only one command at a time ever
// owns the terminal.
//
// Grounded on the teacher's named resource pools, generalized from a
// single global gate to one semaphore per declared pool.
type PooledRunner struct {
	inner Runner
	pools map[string]*semaphore.Semaphore
	queue map[string][]queuedInvoke
	order []string
}

// ConsolePool is the reserved pool name that is always depth 1.
const ConsolePool = "console"

// NewPooledRunner wraps inner with one semaphore per pool name ->
// depth. Pools not present in depths are treated as unlimited.
func NewPooledRunner(inner Runner, depths map[string]uint32) *PooledRunner {
	pools := make(map[string]*semaphore.Semaphore, len(depths)+1)
	for name, depth := range depths {
		pools[name] = semaphore.New(int(depth))
	}
	pools[ConsolePool] = semaphore.New(1)
	return &PooledRunner{
		inner: inner,
		pools: pools,
		queue: make(map[string][]queuedInvoke),
	}
}

func (r *PooledRunner) poolFor(name string) *semaphore.Semaphore {
	if s, ok := r.pools[name]; ok {
		return s
	}
	return nil
}

func (r *PooledRunner) Size() int {
	n := r.inner.Size()
	for _, q := range r.queue {
		n += len(q)
	}
	return n
}

func (r *PooledRunner) Empty() bool { return r.Size() == 0 }

func (r *PooledRunner) CanRunMore() bool { return r.inner.CanRunMore() }

func (r *PooledRunner) Invoke(cmd Command, onDone OnDone) error {
	pool := r.poolFor(cmd.PoolName)
	if pool == nil {
		return r.inner.Invoke(cmd, onDone)
	}
	if _, seen := r.queue[cmd.PoolName]; !seen {
		r.order = append(r.order, cmd.PoolName)
	}
	r.queue[cmd.PoolName] = append(r.queue[cmd.PoolName], queuedInvoke{cmd: cmd, onDone: onDone})
	return r.admit(cmd.PoolName)
}

func (r *PooledRunner) admit(poolName string) error {
	pool := r.pools[poolName]
	q := r.queue[poolName]
	for len(q) > 0 {
		release, ok := pool.TryAcquire()
		if !ok {
			break
		}
		next := q[0]
		q = q[1:]
		wrapped := func(res Result) {
			release()
			next.onDone(res)
		}
		if err := r.inner.Invoke(next.cmd, wrapped); err != nil {
			release()
			r.queue[poolName] = q
			return err
		}
	}
	r.queue[poolName] = q
	return nil
}

func (r *PooledRunner) admitAll() error {
	for _, name := range r.order {
		if err := r.admit(name); err != nil {
			return err
		}
	}
	return nil
}

func (r *PooledRunner) RunCommands(ctx context.Context) (bool, error) {
	if r.inner.Empty() {
		if err := r.admitAll(); err != nil {
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
	return false, r.admitAll()
}
