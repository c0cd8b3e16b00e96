// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runner

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
)

// Tracer wraps the process spawn so the observed-inputs/outputs
// discovery method (strace on Linux, declared-paths elsewhere) can
// vary independently of the subprocess plumbing.
type Tracer interface {
	// Wrap returns the argv that should actually be executed (e.g.
	// prefixed with "strace -f -e trace=file -o ...") and a finish
	// func to call after the subprocess exits, producing the observed
	// inputs/outputs.
	Wrap(ctx context.Context, cmd Command) (argv []string, finish func() (inputs, outputs []string, err error))
}

// tracingRunner is the concrete bottom of the chain: it actually
// forks and execs commands, one goroutine per in-flight command, and
// reports completions on a channel that RunCommands drains.
//
// Grounded on the teacher's goroutine-per-job-plus-completion-channel
// dispatch shape used throughout execute/, and on
// toolsupport/straceutil for the Linux tracer.
type tracingRunner struct {
	tracer Tracer

	mu      sync.Mutex
	onDones map[string]OnDone

	done chan idResult
}

type idResult struct {
	id  string
	res Result
}

// NewTracingRunner returns the bottom-layer Runner that actually
// executes commands, using tracer to discover observed file accesses.
func NewTracingRunner(tracer Tracer) Runner {
	return &tracingRunner{
		tracer:  tracer,
		onDones: make(map[string]OnDone),
		done:    make(chan idResult, 64),
	}
}

func (r *tracingRunner) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.onDones)
}

func (r *tracingRunner) CanRunMore() bool { return true }

func (r *tracingRunner) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.onDones) == 0
}

func (r *tracingRunner) Invoke(cmd Command, onDone OnDone) error {
	r.mu.Lock()
	r.onDones[cmd.ID] = onDone
	r.mu.Unlock()

	go r.run(cmd)
	return nil
}

func (r *tracingRunner) run(cmd Command) {
	argv, finish := r.tracer.Wrap(context.Background(), cmd)

	ec := exec.Command(argv[0], argv[1:]...)
	ec.Dir = cmd.Dir
	var stdout, stderr bytes.Buffer
	ec.Stdout = &stdout
	ec.Stderr = &stderr

	runErr := ec.Run()
	exitStatus := 0
	var resErr error
	if runErr != nil {
		if ee, ok := runErr.(*exec.ExitError); ok {
			exitStatus = ee.ExitCode()
		} else {
			exitStatus = -1
			resErr = runErr
		}
	}

	inputs, outputs, traceErr := finish()
	if traceErr != nil && resErr == nil {
		resErr = traceErr
	}

	r.done <- idResult{
		id: cmd.ID,
		res: Result{
			ExitStatus:      exitStatus,
			Stdout:          stdout.Bytes(),
			Stderr:          stderr.Bytes(),
			ObservedInputs:  inputs,
			ObservedOutputs: outputs,
			Err:             resErr,
		},
	}
}

func (r *tracingRunner) RunCommands(ctx context.Context) (bool, error) {
	select {
	case ir := <-r.done:
		r.mu.Lock()
		onDone, ok := r.onDones[ir.id]
		delete(r.onDones, ir.id)
		r.mu.Unlock()
		if ok {
			onDone(ir.res)
		}
		return false, nil
	case <-ctx.Done():
		return true, nil
	}
}
