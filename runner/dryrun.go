// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runner

import "context"

// DryRunRunner is the bottom of the chain for -n builds: it never
// spawns anything and reports every command as having succeeded,
// having observed exactly its declared inputs and outputs.
type DryRunRunner struct {
	pending []pendingDryRun
}

type pendingDryRun struct {
	cmd    Command
	onDone OnDone
}

// NewDryRunRunner returns a Runner that fabricates successful results
// without executing any command.
func NewDryRunRunner() *DryRunRunner {
	return &DryRunRunner{}
}

func (r *DryRunRunner) Size() int { return len(r.pending) }

func (r *DryRunRunner) CanRunMore() bool { return true }

func (r *DryRunRunner) Empty() bool { return len(r.pending) == 0 }

func (r *DryRunRunner) Invoke(cmd Command, onDone OnDone) error {
	r.pending = append(r.pending, pendingDryRun{cmd: cmd, onDone: onDone})
	return nil
}

func (r *DryRunRunner) RunCommands(ctx context.Context) (bool, error) {
	if len(r.pending) == 0 {
		return false, nil
	}
	batch := r.pending
	r.pending = nil
	for _, p := range batch {
		p.onDone(Result{
			ExitStatus:      0,
			ObservedInputs:  p.cmd.DeclaredInputs,
			ObservedOutputs: p.cmd.DeclaredOutputs,
		})
	}
	return false, nil
}
