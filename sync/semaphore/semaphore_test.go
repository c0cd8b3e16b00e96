// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package semaphore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shuriken.build/shk/sync/semaphore"
)

func TestWaitAcquireBlocksAtCapacity(t *testing.T) {
	ctx := context.Background()
	sema := semaphore.New(2)

	release1, err := sema.WaitAcquire(ctx)
	if err != nil {
		t.Fatalf("WaitAcquire 1: %v", err)
	}
	release2, err := sema.WaitAcquire(ctx)
	if err != nil {
		t.Fatalf("WaitAcquire 2: %v", err)
	}
	if got := sema.InUse(); got != 2 {
		t.Errorf("InUse() = %d, want 2", got)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := sema.WaitAcquire(timeoutCtx); err == nil {
		t.Errorf("WaitAcquire at capacity succeeded, want timeout")
	}

	release1()
	release3, err := sema.WaitAcquire(ctx)
	if err != nil {
		t.Fatalf("WaitAcquire after release: %v", err)
	}
	release2()
	release3()
}

func TestUnlimitedSemaphoreNeverBlocks(t *testing.T) {
	sema := semaphore.New(0)
	ctx := context.Background()
	var wg sync.WaitGroup
	var active atomic.Int32
	var maxActive atomic.Int32
	const workers = 20
	allIn := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sema.Do(ctx, func(ctx context.Context) error {
				n := active.Add(1)
				for {
					old := maxActive.Load()
					if n <= old || maxActive.CompareAndSwap(old, n) {
						break
					}
				}
				// Hold the slot until every worker is inside Do at once;
				// a semaphore that serialized callers would time out here.
				if n == workers {
					close(allIn)
				}
				select {
				case <-allIn:
				case <-time.After(time.Second):
				}
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if maxActive.Load() < 2 {
		t.Errorf("unlimited semaphore serialized calls, want concurrent execution")
	}
}

func TestDoPropagatesError(t *testing.T) {
	sema := semaphore.New(1)
	wantErr := context.Canceled
	err := sema.Do(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	if err != wantErr {
		t.Errorf("Do err = %v, want %v", err, wantErr)
	}
	// The slot must have been released despite the error.
	if got := sema.InUse(); got != 0 {
		t.Errorf("InUse() after erroring Do = %d, want 0", got)
	}
}

func TestTryAcquire(t *testing.T) {
	sema := semaphore.New(1)
	release, ok := sema.TryAcquire()
	if !ok {
		t.Fatalf("TryAcquire: want success")
	}
	if _, ok := sema.TryAcquire(); ok {
		t.Errorf("TryAcquire at capacity: want failure")
	}
	release()
	if _, ok := sema.TryAcquire(); !ok {
		t.Errorf("TryAcquire after release: want success")
	}
}
