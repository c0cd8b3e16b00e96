// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maruel/subcommands"

	"shuriken.build/shk/tools"
)

// readonlyRun is the flag/wiring shared by every query subcommand: a
// manifest and invocation log to open read-only, never mutated except
// by clean and recompact.
type readonlyRun struct {
	subcommands.CommandRunBase
	fname   string
	logFile string
}

func (c *readonlyRun) init() {
	c.Flags.StringVar(&c.fname, "f", "build.shk", "manifest file")
	c.Flags.StringVar(&c.logFile, "log", ".shk_log", "invocation log file")
}

func cmdTargets() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "targets [-f file]",
		ShortDesc: "list every declared output and whether it's a default target",
		CommandRun: func() subcommands.CommandRun {
			c := &targetsRun{}
			c.init()
			return c
		},
	}
}

type targetsRun struct{ readonlyRun }

func (c *targetsRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	return withBuildContext(func(ctx context.Context) error {
		q, log, err := openQueries(ctx, c.fname, c.logFile)
		if err != nil {
			return err
		}
		defer log.Close()
		for _, e := range q.Targets() {
			def := ""
			if e.IsDefault {
				def = " (default)"
			}
			fmt.Printf("%s: %s%s\n", e.Path, e.Command, def)
		}
		return nil
	})
}

func cmdQuery() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "query [-f file] <path>",
		ShortDesc: "show the producer and consumers of a single path",
		CommandRun: func() subcommands.CommandRun {
			c := &queryRun{}
			c.init()
			return c
		},
	}
}

type queryRun struct{ readonlyRun }

func (c *queryRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	return withBuildContext(func(ctx context.Context) error {
		if len(args) != 1 {
			return fmt.Errorf("query takes exactly one path")
		}
		q, log, err := openQueries(ctx, c.fname, c.logFile)
		if err != nil {
			return err
		}
		defer log.Close()
		res, err := q.Query(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s:\n", res.Path)
		if res.Producer != "" {
			fmt.Printf("  producer: %s\n", res.Producer)
		}
		for _, c := range res.Consumers {
			fmt.Printf("  consumer: %s\n", c)
		}
		return nil
	})
}

func cmdDeps() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "deps [-f file] [targets...]",
		ShortDesc: "show the inputs recorded for each target's last run",
		CommandRun: func() subcommands.CommandRun {
			c := &depsRun{}
			c.init()
			return c
		},
	}
}

type depsRun struct{ readonlyRun }

func (c *depsRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	return withBuildContext(func(ctx context.Context) error {
		q, log, err := openQueries(ctx, c.fname, c.logFile)
		if err != nil {
			return err
		}
		defer log.Close()
		entries, err := q.Deps(args)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s:\n", e.Output)
			for _, in := range e.Inputs {
				fmt.Printf("    %s\n", in)
			}
		}
		return nil
	})
}

func cmdCompDB() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "compdb [-f file]",
		ShortDesc: "emit a compile_commands.json covering every step with declared inputs",
		CommandRun: func() subcommands.CommandRun {
			c := &compdbRun{}
			c.init()
			return c
		},
	}
}

type compdbRun struct{ readonlyRun }

func (c *compdbRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	return withBuildContext(func(ctx context.Context) error {
		q, log, err := openQueries(ctx, c.fname, c.logFile)
		if err != nil {
			return err
		}
		defer log.Close()
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		return q.CompDB(dir, os.Stdout)
	})
}

func cmdClean() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "clean [-f file] [targets...]",
		ShortDesc: "forget recorded invocations, forcing the next build to rerun them",
		LongDesc:  "Clears the invocation log entries for the given targets (or all of them), without touching output files on disk.",
		CommandRun: func() subcommands.CommandRun {
			c := &cleanRun{}
			c.init()
			return c
		},
	}
}

type cleanRun struct{ readonlyRun }

func (c *cleanRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	return withBuildContext(func(ctx context.Context) error {
		q, log, err := openQueries(ctx, c.fname, c.logFile)
		if err != nil {
			return err
		}
		defer log.Close()
		n, err := q.Clean(args)
		if err != nil {
			return err
		}
		fmt.Printf("cleaned %d recorded invocation(s)\n", n)
		return nil
	})
}

func cmdRecompact() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "recompact [-f file] [-force]",
		ShortDesc: "rewrite the invocation log, dropping dead records",
		CommandRun: func() subcommands.CommandRun {
			c := &recompactRun{}
			c.init()
			return c
		},
	}
}

type recompactRun struct {
	readonlyRun
	force bool
}

func (c *recompactRun) init() {
	c.readonlyRun.init()
	c.Flags.BoolVar(&c.force, "force", false, "recompact even if the log isn't due for it")
}

func (c *recompactRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	return withBuildContext(func(ctx context.Context) error {
		_, log, err := openQueries(ctx, c.fname, c.logFile)
		if err != nil {
			return err
		}
		defer log.Close()
		did, err := tools.Recompact(log, c.force)
		if err != nil {
			return err
		}
		if did {
			fmt.Println("recompacted")
		} else {
			fmt.Println("recompaction not needed")
		}
		return nil
	})
}
