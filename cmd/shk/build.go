// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maruel/subcommands"

	"shuriken.build/shk/engine"
	"shuriken.build/shk/fsys"
	"shuriken.build/shk/invocationlog"
	"shuriken.build/shk/runner"
	"shuriken.build/shk/runtimex"
)

func cmdBuild() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "build [-C dir] [-f file] [targets...]",
		ShortDesc: "build the requested targets",
		LongDesc:  "Loads a manifest, computes dirtiness against the invocation log, and runs whatever is out of date. With no targets, builds the manifest's declared defaults.",
		CommandRun: func() subcommands.CommandRun {
			c := &buildRun{}
			c.init()
			return c
		},
	}
}

type buildRun struct {
	subcommands.CommandRunBase
	dir             string
	fname           string
	logFile         string
	parallelism     int
	maxLoadAverage  float64
	failuresAllowed int
	dryRun          bool
}

func (c *buildRun) init() {
	c.Flags.StringVar(&c.dir, "C", ".", "change to dir before building")
	c.Flags.StringVar(&c.fname, "f", "build.shk", "manifest file, relative to -C")
	c.Flags.StringVar(&c.logFile, "log", ".shk_log", "invocation log file, relative to -C")
	c.Flags.IntVar(&c.parallelism, "j", runtimex.NumCPU(), "run N jobs in parallel")
	c.Flags.Float64Var(&c.maxLoadAverage, "l", 0, "don't start new jobs if the load average is above this value (0 disables the check)")
	c.Flags.IntVar(&c.failuresAllowed, "k", 1, "keep going until N steps fail (0 means never stop early)")
	c.Flags.BoolVar(&c.dryRun, "n", false, "dry run: report what would run without running it")
}

func (c *buildRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	return withBuildContext(func(ctx context.Context) error {
		return c.run(ctx, args)
	})
}

func (c *buildRun) run(ctx context.Context, targets []string) error {
	if c.dir != "." {
		if err := os.Chdir(c.dir); err != nil {
			return fmt.Errorf("-C %s: %w", c.dir, err)
		}
	}

	lock, err := engine.LockBuildDir(".")
	if err != nil {
		return err
	}
	defer lock.Unlock()

	g, interner, err := loadGraph(ctx, c.fname)
	if err != nil {
		return err
	}

	log, err := invocationlog.Open(c.logFile)
	if err != nil {
		return fmt.Errorf("opening invocation log %s: %w", c.logFile, err)
	}
	defer log.Close()

	failuresAllowed := c.failuresAllowed
	if failuresAllowed <= 0 {
		failuresAllowed = len(g.Steps()) + 1
	}

	var bottom runner.Runner
	if c.dryRun {
		bottom = runner.NewDryRunRunner()
	} else {
		bottom = runner.NewTracingRunner(runner.NewPlatformTracer())
	}
	pooled := runner.NewPooledRunner(bottom, poolDepths(g))
	limited := runner.NewLimitedRunner(pooled, c.parallelism, c.maxLoadAverage, readLoadAverage)

	builder := &engine.Builder{
		Graph:    g,
		Log:      log,
		FS:       fsys.OS{},
		Interner: interner,
		Runner:   limited,
		Config: engine.Config{
			Parallelism:     c.parallelism,
			FailuresAllowed: failuresAllowed,
			MaxLoadAverage:  c.maxLoadAverage,
			DryRun:          c.dryRun,
		},
		Progress: newSpinnerProgress(),
	}

	result, err := builder.Build(ctx, targets)
	if err != nil {
		return err
	}
	if result.Interrupted {
		return fmt.Errorf("build interrupted")
	}
	if result.FailureCount > 0 {
		return fmt.Errorf("%d of %d step(s) failed", result.FailureCount, len(result.Steps))
	}
	return nil
}
