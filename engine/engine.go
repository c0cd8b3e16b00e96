// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package engine is the build scheduler: it turns a dependency graph,
// an invocation log, and a command runner into a running build. It
// decides which steps are dirty, admits ready steps to the runner
// under its pool/parallelism/load-average limits, and records every
// completed step's observed fingerprints back to the log.
//
// Grounded on build/plan.go's scheduler (the ready-queue-plus-pending-count
// bookkeeping, one mutex-free pass per RunCommands drain since shk, like
// siso's plan, is single-threaded apart from the runner's own workers)
// and build/builder.go's top-level driving loop.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"shuriken.build/shk/dirty"
	"shuriken.build/shk/fsys"
	"shuriken.build/shk/graph"
	"shuriken.build/shk/invocationlog"
	"shuriken.build/shk/path"
	"shuriken.build/shk/runner"
)

// Config is the tunable behavior of a build, mirroring the manifest-
// independent flags a real invocation of shk accepts.
type Config struct {
	Parallelism     int
	FailuresAllowed int
	MaxLoadAverage  float64
	DryRun          bool
}

// StepResult is what happened to one scheduled, non-phony step.
type StepResult struct {
	StepIndex  int
	Command    string
	ExitStatus int
	Stdout     []byte
	Stderr     []byte
	Err        error
	Skipped    bool
}

// Result summarizes a completed (or interrupted) build.
type Result struct {
	RunID        string
	Steps        []StepResult
	FailureCount int
	Interrupted  bool
}

// Progress receives step lifecycle events as a build runs. It exists
// so the scheduler can report status without knowing anything about
// how (or whether) that status gets displayed; a nil Progress is
// valid and simply means no reporting.
type Progress interface {
	StepStarted(i int, desc string)
	StepFinished(i int, desc string, skipped bool, err error)
}

// Builder drives one build against a fixed graph, invocation log and
// runner stack.
type Builder struct {
	Graph    *graph.Graph
	Log      invocationlog.Log
	FS       fsys.FileSystem
	Interner *path.Interner
	Runner   runner.Runner
	Config   Config
	Progress Progress
}

type outcome int

const (
	outcomeRanSuccess outcome = iota
	outcomeRanFailed
	outcomeSkippedClean
	outcomeSkippedFailed
)

type stepState struct {
	step           *graph.Step
	pending        int
	baseDirty      bool
	toRefresh      []dirty.RefreshCandidate
	forced         bool
	ancestorFailed bool
	dependents     []int
}

// Build resolves targets (output paths; nil or empty means the
// graph's declared default targets) to the steps that produce them,
// computes the transitive closure, determines dirtiness, and runs
// every step that needs to run, respecting ctx cancellation.
//
// Algorithm: 1) resolve roots and take their transitive closure in
// topological (predecessor-first) order; 2) seed every step's base
// dirtiness from the invocation log vs. the live filesystem; 3) walk
// the closure propagating "must run" status forward along edges
// (restat edges only propagate it when a predecessor's output
// actually changed); 4) admit every step whose predecessors have all
// resolved into the runner, respecting pool/parallelism/load
// admission; 5) drain completions, record fingerprints, propagate,
// repeat until the ready set and in-flight set are both empty or ctx
// is canceled.
func (b *Builder) Build(ctx context.Context, targets []string) (*Result, error) {
	roots, err := b.resolveRoots(targets)
	if err != nil {
		return nil, err
	}

	order, err := b.Graph.TopologicalOrder(roots)
	if err != nil {
		return nil, err
	}

	result := &Result{RunID: uuid.New().String()}
	states := make(map[int]*stepState, len(order))
	inClosure := make(map[int]bool, len(order))
	for _, i := range order {
		inClosure[i] = true
	}

	for _, i := range order {
		step := b.Graph.Step(i)
		st := &stepState{step: step}
		if !step.Phony {
			a, err := dirty.Analyze(b.FS, b.Log, step.IdentityHash)
			if err != nil {
				return nil, fmt.Errorf("engine: analyzing step %d: %w", i, err)
			}
			st.baseDirty = a.Dirty
			st.toRefresh = a.ToRefresh
		}
		for _, d := range b.Graph.Dependents(i) {
			if inClosure[d] {
				st.dependents = append(st.dependents, d)
			}
		}
		for _, p := range b.Graph.Predecessors(i) {
			if inClosure[p] {
				st.pending++
			}
		}
		states[i] = st
	}

	sched := &scheduler{builder: b, states: states, result: result}
	for _, i := range order {
		if states[i].pending == 0 {
			sched.decide(ctx, i)
		}
	}

	for len(sched.ready) > 0 || !b.Runner.Empty() {
		for len(sched.ready) > 0 && b.Runner.CanRunMore() {
			i := sched.ready[0]
			sched.ready = sched.ready[1:]
			if err := sched.invoke(ctx, i); err != nil {
				return result, err
			}
		}
		if len(sched.ready) == 0 && b.Runner.Empty() {
			break
		}
		interrupted, err := b.Runner.RunCommands(ctx)
		if err != nil {
			return result, err
		}
		if interrupted {
			result.Interrupted = true
			return result, nil
		}
		if result.FailureCount > 0 && result.FailureCount >= b.Config.FailuresAllowed {
			// Let already-admitted work finish draining but stop
			// scheduling anything new.
			sched.ready = nil
		}
	}
	return result, nil
}

func (b *Builder) resolveRoots(targets []string) ([]int, error) {
	if len(targets) == 0 {
		return b.Graph.DefaultTargets(), nil
	}
	roots := make([]int, 0, len(targets))
	seen := make(map[int]bool)
	for _, t := range targets {
		h, ok := b.Interner.Lookup(t)
		if !ok {
			return nil, fmt.Errorf("engine: unknown target %q", t)
		}
		i := b.Graph.StepsProducing(h)
		if i < 0 {
			return nil, fmt.Errorf("engine: no rule produces target %q", t)
		}
		if !seen[i] {
			seen[i] = true
			roots = append(roots, i)
		}
	}
	sort.Ints(roots)
	return roots, nil
}

func commandArgv(command string) []string {
	return []string{"/bin/sh", "-c", command}
}

func (b *Builder) pathsOf(handles []path.Handle) []string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = b.Interner.Path(h)
	}
	return out
}

func stepDescription(step *graph.Step) string {
	if step.Description != "" {
		return step.Description
	}
	return step.Command
}

func formatCommand(step *graph.Step) string {
	return strings.TrimSpace(stepDescription(step))
}
