// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package engine

import (
	"context"
	"fmt"

	"shuriken.build/shk/clog"
	"shuriken.build/shk/dirty"
	"shuriken.build/shk/fingerprint"
	"shuriken.build/shk/fsys"
	"shuriken.build/shk/graph"
	"shuriken.build/shk/invocationlog"
	"shuriken.build/shk/runner"
)

// scheduler holds the mutable state of one Build call: which steps
// are still pending, which are ready to admit, and the bookkeeping
// needed to propagate each completion to its dependents.
type scheduler struct {
	builder *Builder
	states  map[int]*stepState
	result  *Result
	ready   []int
}

// decide is called the moment a step's pending count reaches zero
// (including at setup, for steps with no predecessors in the
// closure). It resolves phony and already-clean steps immediately,
// cascading to their dependents, and otherwise queues the step for
// execution.
func (s *scheduler) decide(ctx context.Context, i int) {
	st := s.states[i]
	if st.ancestorFailed {
		s.resolve(ctx, i, outcomeSkippedFailed, false)
		return
	}
	if st.step.Phony {
		if st.forced {
			s.resolve(ctx, i, outcomeRanSuccess, true)
		} else {
			s.resolve(ctx, i, outcomeSkippedClean, false)
		}
		return
	}
	if !st.baseDirty && !st.forced {
		if len(st.toRefresh) > 0 {
			if err := refreshLogEntry(s.builder.FS, s.builder.Log, st.step.IdentityHash, st.toRefresh); err != nil {
				clog.Warningf(ctx, "refreshing fingerprints for step %d: %v", i, err)
			}
		}
		s.resolve(ctx, i, outcomeSkippedClean, false)
		return
	}
	s.ready = append(s.ready, i)
}

// resolve records a step's outcome and propagates it to every
// dependent still waiting on it, recursing into decide for any
// dependent whose pending count thereby reaches zero.
func (s *scheduler) resolve(ctx context.Context, i int, oc outcome, outputChanged bool) {
	st := s.states[i]
	if oc == outcomeSkippedClean && !st.step.Phony {
		s.result.Steps = append(s.result.Steps, StepResult{
			StepIndex: i,
			Command:   st.step.Command,
			Skipped:   true,
		})
		if s.builder.Progress != nil {
			s.builder.Progress.StepFinished(i, formatCommand(st.step), true, nil)
		}
	}
	for _, d := range st.dependents {
		dst := s.states[d]
		switch oc {
		case outcomeRanFailed, outcomeSkippedFailed:
			dst.ancestorFailed = true
		case outcomeRanSuccess:
			if !st.step.Restat || outputChanged {
				dst.forced = true
			}
		}
		dst.pending--
		if dst.pending == 0 {
			s.decide(ctx, d)
		}
	}
}

// invoke submits step i's command to the runner, wiring its
// completion back into the scheduler via onDone.
func (s *scheduler) invoke(ctx context.Context, i int) error {
	st := s.states[i]
	step := st.step
	clog.Infof(ctx, "running: %s", formatCommand(step))
	if s.builder.Progress != nil {
		s.builder.Progress.StepStarted(i, formatCommand(step))
	}

	cmd := runner.Command{
		ID:              fmt.Sprintf("%d", i),
		Argv:            commandArgv(step.Command),
		PoolName:        step.PoolName,
		DeclaredInputs:  s.builder.pathsOf(step.DeclaredInputs),
		DeclaredOutputs: s.builder.pathsOf(step.DeclaredOutputs),
	}

	return s.builder.Runner.Invoke(cmd, func(res runner.Result) {
		s.onDone(ctx, i, res)
	})
}

func (s *scheduler) onDone(ctx context.Context, i int, res runner.Result) {
	st := s.states[i]
	step := st.step

	if res.Err != nil || res.ExitStatus != 0 {
		clog.Errorf(ctx, "step %d failed (exit %d): %v\n%s", i, res.ExitStatus, res.Err, res.Stderr)
		s.result.FailureCount++
		s.result.Steps = append(s.result.Steps, StepResult{
			StepIndex:  i,
			Command:    step.Command,
			ExitStatus: res.ExitStatus,
			Stdout:     res.Stdout,
			Stderr:     res.Stderr,
			Err:        res.Err,
		})
		s.reportFinished(i, step, res.Err)
		s.resolve(ctx, i, outcomeRanFailed, true)
		return
	}

	if s.builder.Config.DryRun {
		// Nothing ran: there are no outputs to check and nothing to
		// record in the invocation log.
		s.result.Steps = append(s.result.Steps, StepResult{StepIndex: i, Command: step.Command})
		s.reportFinished(i, step, nil)
		s.resolve(ctx, i, outcomeRanSuccess, true)
		return
	}

	if missing := s.missingDeclaredOutputs(step); len(missing) > 0 {
		err := fmt.Errorf("step did not produce declared output(s): %v", missing)
		clog.Errorf(ctx, "step %d: %v", i, err)
		s.result.FailureCount++
		s.result.Steps = append(s.result.Steps, StepResult{
			StepIndex: i,
			Command:   step.Command,
			Err:       err,
		})
		s.reportFinished(i, step, err)
		s.resolve(ctx, i, outcomeRanFailed, true)
		return
	}

	outputChanged, err := recordStepCompletion(s.builder.FS, s.builder.Log, step, res,
		s.builder.pathsOf(step.DeclaredOutputs), s.builder.pathsOf(step.DeclaredInputs))
	if err != nil {
		clog.Errorf(ctx, "recording step %d: %v", i, err)
	}

	s.result.Steps = append(s.result.Steps, StepResult{
		StepIndex:  i,
		Command:    step.Command,
		ExitStatus: res.ExitStatus,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
	})
	s.reportFinished(i, step, nil)
	s.resolve(ctx, i, outcomeRanSuccess, outputChanged)
}

func (s *scheduler) reportFinished(i int, step *graph.Step, err error) {
	if s.builder.Progress != nil {
		s.builder.Progress.StepFinished(i, formatCommand(step), false, err)
	}
}

// missingDeclaredOutputs reports every declared output that does not
// exist on disk after a step's command exits successfully. A manifest
// that marks an output path without the command ever producing it is
// always an error, regardless of exit status.
func (s *scheduler) missingDeclaredOutputs(step *graph.Step) []string {
	var missing []string
	for _, p := range s.builder.pathsOf(step.DeclaredOutputs) {
		if _, err := s.builder.FS.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	return missing
}

// recordStepCompletion fingerprints every path step observed touching
// (the union of its declared and runner-observed inputs/outputs),
// appends the result to the invocation log, and reports whether any
// output's content changed from its previously recorded fingerprint —
// the signal a restat edge uses to decide whether to propagate
// "must rebuild" to its dependents.
func recordStepCompletion(fs fsys.FileSystem, log invocationlog.Log, step *graph.Step, res runner.Result, declaredOutputs, declaredInputs []string) (bool, error) {
	now := fs.Now().Unix()
	prior, hadPrior := log.Lookup(step.IdentityHash)

	outputPaths := unionPaths(res.ObservedOutputs, declaredOutputs)
	inputPaths := unionPaths(res.ObservedInputs, declaredInputs)

	outputs := make([]invocationlog.FileFingerprint, 0, len(outputPaths))
	outputChanged := false
	for _, p := range outputPaths {
		fp, err := fingerprint.Take(fs, now, p)
		if err != nil {
			return false, fmt.Errorf("fingerprinting output %s: %w", p, err)
		}
		outputs = append(outputs, invocationlog.FileFingerprint{Path: p, Fingerprint: fp})

		changed := true
		if hadPrior {
			for _, prev := range prior.Outputs {
				if prev.Path == p {
					mr, err := fingerprint.Matches(fs, p, prev.Fingerprint)
					if err == nil && mr.Clean {
						changed = false
					}
					break
				}
			}
		}
		if changed {
			outputChanged = true
		}
	}

	inputs := make([]invocationlog.FileFingerprint, 0, len(inputPaths))
	for _, p := range inputPaths {
		fp, err := fingerprint.Take(fs, now, p)
		if err != nil {
			return false, fmt.Errorf("fingerprinting input %s: %w", p, err)
		}
		inputs = append(inputs, invocationlog.FileFingerprint{Path: p, Fingerprint: fp})
	}

	if err := log.RanCommand(step.IdentityHash, invocationlog.Entry{Outputs: outputs, Inputs: inputs}); err != nil {
		return outputChanged, fmt.Errorf("appending to invocation log: %w", err)
	}
	return outputChanged, nil
}

// refreshLogEntry rewrites the fingerprints dirty.Analyze flagged as
// should_update, without changing which paths the entry covers.
func refreshLogEntry(fs fsys.FileSystem, log invocationlog.Log, identity fingerprint.Hash, candidates []dirty.RefreshCandidate) error {
	prior, ok := log.Lookup(identity)
	if !ok {
		return nil
	}
	now := fs.Now().Unix()
	updated := make(map[string]fingerprint.Fingerprint, len(candidates))
	for _, c := range candidates {
		fp, err := fingerprint.Take(fs, now, c.Path)
		if err != nil {
			return fmt.Errorf("refreshing %s: %w", c.Path, err)
		}
		updated[c.Path] = fp
	}
	apply := func(ffs []invocationlog.FileFingerprint) {
		for i, f := range ffs {
			if fp, ok := updated[f.Path]; ok {
				ffs[i].Fingerprint = fp
			}
		}
	}
	apply(prior.Outputs)
	apply(prior.Inputs)
	return log.RanCommand(identity, prior)
}

func unionPaths(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, p := range a {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range b {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
