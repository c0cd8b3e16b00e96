// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package tools implements the tools-facing queries over a loaded
// graph and invocation log: `deps`, `query`, `clean`, `compdb`,
// `targets`, and `recompact`. `deps`, `query`, `compdb` and `targets`
// only read; `clean` and `recompact` write to the invocation log. None
// of them runs a step; they exist so scripts and editors can
// introspect a build graph without re-running it.
//
// Grounded on subcmd/query and subcmd/digraph: both read the already-
// loaded graph/log and print a plain-text or JSON report, never
// scheduling any work themselves.
package tools

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"shuriken.build/shk/graph"
	"shuriken.build/shk/invocationlog"
	"shuriken.build/shk/path"
)

// Queries answers every tools-facing query against a fixed graph,
// path interner and invocation log.
type Queries struct {
	Graph    *graph.Graph
	Interner *path.Interner
	Log      invocationlog.Log
}

// DepsEntry is one line of `deps` output: a step's recorded input
// fingerprints, the closest shk analogue to ninja's `-t deps`.
type DepsEntry struct {
	Output string   `json:"output"`
	Inputs []string `json:"inputs"`
}

// Deps reports, for every step that produces one of targets (or every
// non-phony step if targets is empty), the inputs recorded the last
// time it ran.
func (q *Queries) Deps(targets []string) ([]DepsEntry, error) {
	steps, err := q.resolveOrAll(targets)
	if err != nil {
		return nil, err
	}
	var out []DepsEntry
	for _, i := range steps {
		step := q.Graph.Step(i)
		if step.Phony {
			continue
		}
		entry, ok := q.Log.Lookup(step.IdentityHash)
		if !ok {
			continue
		}
		inputs := make([]string, len(entry.Inputs))
		for j, f := range entry.Inputs {
			inputs[j] = f.Path
		}
		sort.Strings(inputs)
		for _, out2 := range entry.Outputs {
			out = append(out, DepsEntry{Output: out2.Path, Inputs: inputs})
		}
	}
	return out, nil
}

// QueryResult is one step's producer/consumer neighborhood, the
// information `query <path>` reports about a single file.
type QueryResult struct {
	Path      string   `json:"path"`
	Producer  string   `json:"producer,omitempty"`
	Consumers []string `json:"consumers,omitempty"`
}

// Query reports the producing command and consuming commands for a
// single path.
func (q *Queries) Query(p string) (*QueryResult, error) {
	h, ok := q.Interner.Lookup(p)
	if !ok {
		return nil, fmt.Errorf("tools: unknown path %q", p)
	}
	res := &QueryResult{Path: p}
	if i := q.Graph.StepsProducing(h); i >= 0 {
		res.Producer = q.Graph.Step(i).Command
	}
	for _, i := range q.Graph.StepsConsuming(h) {
		res.Consumers = append(res.Consumers, q.Graph.Step(i).Command)
	}
	sort.Strings(res.Consumers)
	return res, nil
}

// TargetEntry is one declared output of a non-phony step, listed by
// Targets in manifest order, alongside whether its step is a default
// target.
type TargetEntry struct {
	Path      string `json:"path"`
	Command   string `json:"command"`
	IsDefault bool   `json:"is_default"`
}

// Targets lists every non-phony step's declared outputs.
func (q *Queries) Targets() []TargetEntry {
	defaultSteps := make(map[int]bool)
	for _, i := range q.Graph.DefaultTargets() {
		defaultSteps[i] = true
	}
	var out []TargetEntry
	for i, step := range q.Graph.Steps() {
		if step.Phony {
			continue
		}
		for _, h := range step.DeclaredOutputs {
			out = append(out, TargetEntry{
				Path:      q.Interner.Path(h),
				Command:   step.Command,
				IsDefault: defaultSteps[i],
			})
		}
	}
	return out
}

// CompDBEntry is one compilation-database record, following the de
// facto `compile_commands.json` schema editors and clang tooling
// consume.
type CompDBEntry struct {
	Directory string `json:"directory"`
	Command   string `json:"command"`
	File      string `json:"file"`
}

// CompDB writes a compile_commands.json-shaped database covering
// every non-phony step that declares at least one input, to w. Each
// entry's file is the step's first declared input.
func (q *Queries) CompDB(dir string, w io.Writer) error {
	var entries []CompDBEntry
	for _, step := range q.Graph.Steps() {
		if step.Phony || len(step.DeclaredInputs) == 0 {
			continue
		}
		entries = append(entries, CompDBEntry{
			Directory: dir,
			Command:   step.Command,
			File:      q.Interner.Path(step.DeclaredInputs[0]),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// Clean logically deletes the invocation log entries for targets (or
// every step if targets is empty), returning the number cleaned. It
// does not remove the steps' output files; that is `clean`'s caller's
// job once it has the list of paths via Targets.
func (q *Queries) Clean(targets []string) (int, error) {
	steps, err := q.resolveOrAll(targets)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, i := range steps {
		step := q.Graph.Step(i)
		if step.Phony {
			continue
		}
		if _, ok := q.Log.Lookup(step.IdentityHash); ok {
			if err := q.Log.CleanedCommand(step.IdentityHash); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (q *Queries) resolveOrAll(targets []string) ([]int, error) {
	if len(targets) == 0 {
		steps := make([]int, len(q.Graph.Steps()))
		for i := range steps {
			steps[i] = i
		}
		return steps, nil
	}
	var out []int
	for _, t := range targets {
		h, ok := q.Interner.Lookup(t)
		if !ok {
			return nil, fmt.Errorf("tools: unknown target %q", t)
		}
		i := q.Graph.StepsProducing(h)
		if i < 0 {
			return nil, fmt.Errorf("tools: no rule produces target %q", t)
		}
		out = append(out, i)
	}
	return out, nil
}

// Recompactor is satisfied by invocationlog.DiskLog; tools.Recompact
// accepts the narrow interface so it can be tested against a fake.
type Recompactor interface {
	ShouldRecompact() bool
	Recompact() error
}

// Recompact rewrites the log from scratch if density heuristics
// recommend it (or always, if force is set), returning whether a
// recompaction was actually performed.
func Recompact(log Recompactor, force bool) (bool, error) {
	if !force && !log.ShouldRecompact() {
		return false, nil
	}
	if err := log.Recompact(); err != nil {
		return false, err
	}
	return true, nil
}
