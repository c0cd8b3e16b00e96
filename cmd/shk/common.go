// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command shk is a correct, fast, Ninja-compatible build executor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"

	"shuriken.build/shk/clog"
	"shuriken.build/shk/graph"
	"shuriken.build/shk/invocationlog"
	"shuriken.build/shk/manifest"
	"shuriken.build/shk/manifest/simpleloader"
	"shuriken.build/shk/path"
	"shuriken.build/shk/tools"
)

// withBuildContext wires up a context that carries a clog.Logger and
// cancels on SIGINT, runs fn under it, and recovers from a panic the
// way every subcommand wants to: report it and fail cleanly instead
// of crashing the process with a bare stack trace on stderr.
//
// Grounded on main.go's sisoMain: build-info logging, panic recovery
// into a formatted stack dump, and interrupt-driven cancellation, with
// signals.HandleInterrupt's functionality reproduced directly on
// os/signal since the luci dependency it came from is out of scope
// here.
func withBuildContext(fn func(ctx context.Context) error) (exitCode int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ctx = clog.NewContext(ctx, clog.New(ctx))

	defer func() {
		if r := recover(); r != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			fmt.Fprintf(os.Stderr, "shk: panic: %v\n%s", r, buf)
			exitCode = 2
		}
	}()

	if buildinfo, ok := debug.ReadBuildInfo(); ok {
		clog.Infof(ctx, "shk %s", buildinfo.Main.Version)
	}

	if err := fn(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shk: %v\n", err)
		return 1
	}
	return 0
}

// loadGraph reads the manifest at fname through simpleloader (the
// only manifest.Loader this repo ships; a Ninja-syntax loader is a
// drop-in behind the same interface) and builds the dependency graph
// and path interner that every subcommand operates over.
func loadGraph(ctx context.Context, fname string) (*graph.Graph, *path.Interner, error) {
	mb, err := simpleloader.New(fname).Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading manifest %s: %w", fname, err)
	}
	interner := path.New()
	g, err := manifest.ToGraph(interner, mb)
	if err != nil {
		return nil, nil, fmt.Errorf("building graph: %w", err)
	}
	return g, interner, nil
}

// openQueries loads the manifest and the invocation log and returns a
// tools.Queries ready to answer read-only questions about the build,
// plus the underlying *invocationlog.DiskLog so callers that need to
// mutate it (clean, recompact) or close it can reach it directly.
func openQueries(ctx context.Context, fname, logFile string) (*tools.Queries, *invocationlog.DiskLog, error) {
	g, interner, err := loadGraph(ctx, fname)
	if err != nil {
		return nil, nil, err
	}
	log, err := invocationlog.Open(logFile)
	if err != nil {
		return nil, nil, fmt.Errorf("opening invocation log %s: %w", logFile, err)
	}
	return &tools.Queries{Graph: g, Interner: interner, Log: log}, log, nil
}

func poolDepths(g *graph.Graph) map[string]uint32 {
	pools := g.Pools()
	depths := make(map[string]uint32, len(pools))
	for name, p := range pools {
		depths[name] = p.Depth
	}
	return depths
}
