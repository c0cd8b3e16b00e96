// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runner

import (
	"context"
	"testing"
)

// fakeRunner is a minimal in-memory Runner double used to exercise
// the LimitedRunner/PooledRunner wrapper layers without spawning real
// subprocesses.
type fakeRunner struct {
	pending []idResult
	onDones map[string]OnDone
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{onDones: make(map[string]OnDone)}
}

func (f *fakeRunner) Size() int { return len(f.onDones) }

func (f *fakeRunner) Empty() bool { return len(f.onDones) == 0 }

func (f *fakeRunner) CanRunMore() bool { return true }

func (f *fakeRunner) Invoke(cmd Command, onDone OnDone) error {
	f.onDones[cmd.ID] = onDone
	f.pending = append(f.pending, idResult{id: cmd.ID, res: Result{ExitStatus: 0}})
	return nil
}

func (f *fakeRunner) RunCommands(ctx context.Context) (bool, error) {
	if len(f.pending) == 0 {
		return false, nil
	}
	next := f.pending[0]
	f.pending = f.pending[1:]
	onDone, ok := f.onDones[next.id]
	delete(f.onDones, next.id)
	if ok {
		onDone(next.res)
	}
	return false, nil
}

func TestDryRunRunnerReportsDeclaredPathsAsObserved(t *testing.T) {
	r := NewDryRunRunner()
	var got Result
	if err := r.Invoke(Command{ID: "a", DeclaredInputs: []string{"in"}, DeclaredOutputs: []string{"out"}}, func(res Result) {
		got = res
	}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if interrupted, err := r.RunCommands(context.Background()); err != nil || interrupted {
		t.Fatalf("RunCommands: interrupted=%v err=%v", interrupted, err)
	}
	if got.ExitStatus != 0 || len(got.ObservedInputs) != 1 || got.ObservedInputs[0] != "in" {
		t.Errorf("got = %+v", got)
	}
}

func TestLimitedRunnerCapsParallelism(t *testing.T) {
	inner := newFakeRunner()
	lim := NewLimitedRunner(inner, 1, 0, nil)

	var doneA, doneB bool
	if err := lim.Invoke(Command{ID: "a"}, func(Result) { doneA = true }); err != nil {
		t.Fatalf("Invoke a: %v", err)
	}
	if err := lim.Invoke(Command{ID: "b"}, func(Result) { doneB = true }); err != nil {
		t.Fatalf("Invoke b: %v", err)
	}
	if inner.Size() != 1 {
		t.Fatalf("inner.Size() = %d, want 1 (second command should be queued)", inner.Size())
	}

	if _, err := lim.RunCommands(context.Background()); err != nil {
		t.Fatalf("RunCommands: %v", err)
	}
	if !doneA {
		t.Errorf("command a never completed")
	}
	if doneB {
		t.Errorf("command b completed before its turn")
	}

	if _, err := lim.RunCommands(context.Background()); err != nil {
		t.Fatalf("RunCommands (2nd): %v", err)
	}
	if !doneB {
		t.Errorf("command b never completed after a released its slot")
	}
}

func TestPooledRunnerEnforcesConsoleDepthOne(t *testing.T) {
	inner := newFakeRunner()
	pooled := NewPooledRunner(inner, nil)

	var doneA, doneB bool
	if err := pooled.Invoke(Command{ID: "a", PoolName: ConsolePool}, func(Result) { doneA = true }); err != nil {
		t.Fatalf("Invoke a: %v", err)
	}
	if err := pooled.Invoke(Command{ID: "b", PoolName: ConsolePool}, func(Result) { doneB = true }); err != nil {
		t.Fatalf("Invoke b: %v", err)
	}
	if inner.Size() != 1 {
		t.Fatalf("inner.Size() = %d, want 1 (console pool depth 1)", inner.Size())
	}

	if _, err := pooled.RunCommands(context.Background()); err != nil {
		t.Fatalf("RunCommands: %v", err)
	}
	if !doneA || doneB {
		t.Errorf("doneA=%v doneB=%v, want only a done", doneA, doneB)
	}

	if _, err := pooled.RunCommands(context.Background()); err != nil {
		t.Fatalf("RunCommands (2nd): %v", err)
	}
	if !doneB {
		t.Errorf("command b never ran after console pool freed up")
	}
}

func TestPooledRunnerPoolWithinDepthRunsConcurrently(t *testing.T) {
	inner := newFakeRunner()
	pooled := NewPooledRunner(inner, map[string]uint32{"build": 4})

	for _, id := range []string{"a", "b", "c"} {
		if err := pooled.Invoke(Command{ID: id, PoolName: "build"}, func(Result) {}); err != nil {
			t.Fatalf("Invoke %s: %v", id, err)
		}
	}
	if inner.Size() != 3 {
		t.Errorf("inner.Size() = %d, want 3 (pool depth 4 admits all)", inner.Size())
	}
}
