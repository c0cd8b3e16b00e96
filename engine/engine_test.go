// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"shuriken.build/shk/fsys"
	"shuriken.build/shk/invocationlog"
	"shuriken.build/shk/manifest"
	"shuriken.build/shk/manifest/simpleloader"
	"shuriken.build/shk/path"
	"shuriken.build/shk/runner"
)

// scriptedRunner is a deterministic test double for runner.Runner: it
// runs each invoked command synchronously against a caller-supplied
// effect table keyed by the shell command string, so tests can
// simulate a compiler writing its declared outputs without spawning a
// real subprocess.
type scriptedRunner struct {
	fs      *fsys.MemFS
	effects map[string]func(fs *fsys.MemFS) error
	failing map[string]bool

	pending []func()
}

func newScriptedRunner(fs *fsys.MemFS) *scriptedRunner {
	return &scriptedRunner{fs: fs, effects: map[string]func(fs *fsys.MemFS) error{}, failing: map[string]bool{}}
}

func (r *scriptedRunner) Size() int        { return len(r.pending) }
func (r *scriptedRunner) Empty() bool      { return len(r.pending) == 0 }
func (r *scriptedRunner) CanRunMore() bool { return true }

func (r *scriptedRunner) Invoke(cmd runner.Command, onDone runner.OnDone) error {
	shellCmd := cmd.Argv[len(cmd.Argv)-1]
	r.pending = append(r.pending, func() {
		res := runner.Result{
			ObservedInputs:  cmd.DeclaredInputs,
			ObservedOutputs: cmd.DeclaredOutputs,
		}
		if r.failing[shellCmd] {
			res.ExitStatus = 1
		} else if eff, ok := r.effects[shellCmd]; ok {
			if err := eff(r.fs); err != nil {
				res.ExitStatus = 1
			}
		}
		onDone(res)
	})
	return nil
}

func (r *scriptedRunner) RunCommands(ctx context.Context) (bool, error) {
	if len(r.pending) == 0 {
		return false, nil
	}
	next := r.pending[0]
	r.pending = r.pending[1:]
	next()
	return false, nil
}

func TestBuildCompilesThenSkipsUnchangedOnSecondRun(t *testing.T) {
	mem := fsys.NewMemFS(time.Unix(1000, 0))
	if err := mem.WriteFile("a.c", []byte("int main(){}"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	mem.Advance(2 * time.Second)

	interner := path.New()
	src := "build a.o : cc -c a.c -o a.o | a.c\n"
	mb, err := simpleloader.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	g, err := manifest.ToGraph(interner, mb)
	if err != nil {
		t.Fatalf("ToGraph: %v", err)
	}

	log := invocationlog.NewMemLog()
	r := newScriptedRunner(mem)
	r.effects["cc -c a.c -o a.o"] = func(fs *fsys.MemFS) error {
		return fs.WriteFile("a.o", []byte("object-v1"), 0644)
	}

	builder := &Builder{Graph: g, Log: log, FS: mem, Interner: interner, Runner: r, Config: Config{Parallelism: 1}}
	res, err := builder.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.FailureCount != 0 {
		t.Fatalf("FailureCount = %d, want 0", res.FailureCount)
	}
	if len(res.Steps) != 1 || res.Steps[0].Skipped {
		t.Fatalf("Steps = %+v, want one non-skipped step", res.Steps)
	}

	mem.Advance(2 * time.Second)
	res2, err := builder.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if len(res2.Steps) != 1 || !res2.Steps[0].Skipped {
		t.Fatalf("second build Steps = %+v, want one skipped step", res2.Steps)
	}
}

func TestBuildRerunsWhenInputChanges(t *testing.T) {
	mem := fsys.NewMemFS(time.Unix(1000, 0))
	if err := mem.WriteFile("a.c", []byte("v1"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	mem.Advance(2 * time.Second)

	interner := path.New()
	mb, err := simpleloader.Parse(strings.NewReader("build a.o : cc -c a.c -o a.o | a.c\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	g, err := manifest.ToGraph(interner, mb)
	if err != nil {
		t.Fatalf("ToGraph: %v", err)
	}

	log := invocationlog.NewMemLog()
	r := newScriptedRunner(mem)
	runs := 0
	r.effects["cc -c a.c -o a.o"] = func(fs *fsys.MemFS) error {
		runs++
		return fs.WriteFile("a.o", []byte(fmt.Sprintf("object-v%d", runs)), 0644)
	}

	builder := &Builder{Graph: g, Log: log, FS: mem, Interner: interner, Runner: r}
	if _, err := builder.Build(context.Background(), nil); err != nil {
		t.Fatalf("first Build: %v", err)
	}

	mem.Advance(2 * time.Second)
	if err := mem.WriteFile("a.c", []byte("v2"), 0644); err != nil {
		t.Fatalf("WriteFile (change): %v", err)
	}
	mem.Advance(2 * time.Second)
	res, err := builder.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if runs != 2 {
		t.Errorf("runs = %d, want 2 (step should rerun after input changed)", runs)
	}
	if len(res.Steps) != 1 || res.Steps[0].Skipped {
		t.Errorf("Steps = %+v, want one non-skipped step", res.Steps)
	}
}

func TestBuildSkipsDependentsOfFailedStep(t *testing.T) {
	mem := fsys.NewMemFS(time.Unix(1000, 0))
	if err := mem.WriteFile("a.c", []byte("v1"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	mem.Advance(2 * time.Second)

	interner := path.New()
	mb, err := simpleloader.Parse(strings.NewReader(
		"build a.o : cc -c a.c -o a.o | a.c\n" +
			"build a.bin : link a.o | a.o\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	g, err := manifest.ToGraph(interner, mb)
	if err != nil {
		t.Fatalf("ToGraph: %v", err)
	}

	log := invocationlog.NewMemLog()
	r := newScriptedRunner(mem)
	r.failing["cc -c a.c -o a.o"] = true
	linked := false
	r.effects["link a.o"] = func(fs *fsys.MemFS) error {
		linked = true
		return fs.WriteFile("a.bin", []byte("bin"), 0644)
	}

	builder := &Builder{Graph: g, Log: log, FS: mem, Interner: interner, Runner: r}
	res, err := builder.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", res.FailureCount)
	}
	if linked {
		t.Errorf("dependent step ran despite a failed predecessor")
	}
}
