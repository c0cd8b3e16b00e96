// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package manifest is the seam between a build-file format and the
// dependency graph: a Loader turns whatever's on disk into a flat
// list of steps with fully expanded commands, leaving variable
// evaluation, rule inheritance and include resolution to the loader
// implementation rather than to graph or engine.
//
// Grounded on the division of labor between toolsupport/ninjautil's
// manifest/rule-table evaluation and build/plan.go, which only ever
// consumes already-expanded nodes and edges; shk keeps that boundary
// but narrows the collaborator's output type down to manifest.Step.
package manifest

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sort"

	"shuriken.build/shk/fingerprint"
	"shuriken.build/shk/graph"
	"shuriken.build/shk/path"
)

// Step is the loader-facing description of one build action, before
// its paths have been interned into graph.Step.
type Step struct {
	Command     string
	Pool        string
	Inputs      []string
	Outputs     []string
	Phony       bool
	Generator   bool
	Restat      bool
	Description string
}

// Build is everything a Loader extracts from a manifest: the flat
// step list, any pool depth declarations, and the paths named as
// default build targets (empty means "infer from the graph").
type Build struct {
	Steps          []Step
	Pools          map[string]uint32
	DefaultTargets []string
}

// Loader turns a manifest source (a file on disk, a generated
// in-memory document, whatever the implementation wants) into a Build.
type Loader interface {
	Load(ctx context.Context) (*Build, error)
}

// IdentityHash computes a step's stable identity: the fingerprint
// that keys its entry in the invocation log. It covers the command,
// pool and sorted canonical input/output paths, so reordering a
// manifest's declared inputs/outputs never changes a step's identity,
// but changing the command or pool does.
//
// Grounded on build/step.go's calculateCmdHash, generalized from
// sha256-over-proto to sha1-over-a-flat-byte-encoding so its output
// fits fingerprint.Hash's 20-byte width.
func IdentityHash(command, pool string, inputs, outputs []string) fingerprint.Hash {
	sortedIn := make([]string, len(inputs))
	for i, in := range inputs {
		sortedIn[i] = path.Clean(in)
	}
	sortedOut := make([]string, len(outputs))
	for i, out := range outputs {
		sortedOut[i] = path.Clean(out)
	}
	sort.Strings(sortedIn)
	sort.Strings(sortedOut)

	h := sha1.New()
	fmt.Fprintf(h, "cmd\x00%s\x00pool\x00%s\x00", command, pool)
	for _, in := range sortedIn {
		fmt.Fprintf(h, "in\x00%s\x00", in)
	}
	for _, out := range sortedOut {
		fmt.Fprintf(h, "out\x00%s\x00", out)
	}
	var sum fingerprint.Hash
	copy(sum[:], h.Sum(nil))
	return sum
}

// ToGraph interns every step's paths and builds a *graph.Graph from a
// loaded Build.
func ToGraph(interner *path.Interner, b *Build) (*graph.Graph, error) {
	pools := make(map[string]graph.Pool, len(b.Pools))
	for name, depth := range b.Pools {
		pools[name] = graph.Pool{Name: name, Depth: depth}
	}

	steps := make([]*graph.Step, len(b.Steps))
	for i, s := range b.Steps {
		steps[i] = &graph.Step{
			IdentityHash:    IdentityHash(s.Command, s.Pool, s.Inputs, s.Outputs),
			Command:         s.Command,
			PoolName:        s.Pool,
			DeclaredInputs:  interner.InternAll(s.Inputs),
			DeclaredOutputs: interner.InternAll(s.Outputs),
			Phony:           s.Phony,
			Generator:       s.Generator,
			Restat:          s.Restat,
			Description:     s.Description,
		}
	}
	g, err := graph.New(interner, steps, pools)
	if err != nil {
		return nil, err
	}
	if len(b.DefaultTargets) > 0 {
		defaults := make([]int, 0, len(b.DefaultTargets))
		for _, t := range b.DefaultTargets {
			h, ok := interner.Lookup(t)
			if !ok {
				return nil, fmt.Errorf("manifest: default target %q is not the output of any step", t)
			}
			i := g.StepsProducing(h)
			if i < 0 {
				return nil, fmt.Errorf("manifest: default target %q is not the output of any step", t)
			}
			defaults = append(defaults, i)
		}
		g.SetDefaultTargets(defaults)
	}
	return g, nil
}
