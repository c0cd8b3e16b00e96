// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package runner is the command runner stack: a decorator chain whose
// bottom actually spawns subprocesses (or, in a dry run, pretends to)
// and whose outer layers apply pool-based admission control and load
// average throttling before a command is ever handed to the bottom.
//
// Grounded on execute/localexec.LocalExec (the os/exec.CommandContext
// wiring and the strace-availability branch) and sync/semaphore for
// the admission-control layers; see straceTracer in strace_linux.go
// for the Linux-specific bottom layer adapted from
// toolsupport/straceutil.
package runner

import "context"

// Command is one invocation to run: a shell command string plus the
// pool it was submitted under and, for the declared-inputs fallback
// tracer, the paths it's known to touch.
type Command struct {
	ID              string
	Argv            []string
	Dir             string
	PoolName        string
	DeclaredInputs  []string
	DeclaredOutputs []string
}

// Result is what a completed command reports back.
type Result struct {
	ExitStatus      int
	Stdout          []byte
	Stderr          []byte
	ObservedInputs  []string
	ObservedOutputs []string
	Err             error
}

// OnDone is called exactly once per Invoke, from within a subsequent
// call to RunCommands — never reentrantly from Invoke itself.
type OnDone func(Result)

// Runner is the interface every layer of the decorator chain
// implements, from the tracing/dry-run bottom up through the pooled
// and limited wrappers.
type Runner interface {
	// Size returns the number of commands currently in flight,
	// including ones queued by an outer layer but not yet admitted.
	Size() int

	// CanRunMore is an admission hint: true if the caller should feel
	// free to Invoke another command right now.
	CanRunMore() bool

	// Empty reports whether there is nothing in flight or queued.
	Empty() bool

	// Invoke submits cmd for execution. onDone fires later, from
	// RunCommands.
	Invoke(cmd Command, onDone OnDone) error

	// RunCommands blocks until at least one command completes or ctx
	// is canceled, calling OnDone for what completed: tracingRunner
	// handles one completion per call, DryRunRunner every pending
	// command. It reports interrupted=true if it returned because
	// ctx was canceled rather than because of a completion.
	RunCommands(ctx context.Context) (interrupted bool, err error)
}
