// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package graph is the in-memory representation of build steps and
// the dependency graph the manifest collaborator's output implies:
// nodes are build steps and files, edges run producer to consumer by
// path.
//
// Grounded on toolsupport/ninjautil.Node/Edge (the node/in-edge/out-edges
// shape) and build/plan.go's targetInfo bookkeeping, with the
// binding/variable-evaluation machinery those types carried dropped —
// manifest parsing is out of scope here, so a Step's command is
// already a fully expanded string by the time graph.New sees it.
package graph

import (
	"fmt"
	"sort"

	"shuriken.build/shk/fingerprint"
	"shuriken.build/shk/path"
)

// Pool bounds how many commands may run concurrently under a given
// name. Depth 0 means unlimited (within the engine's own global
// parallelism cap).
type Pool struct {
	Name  string
	Depth uint32
}

// ConsolePool is the built-in pool name that always has depth 1 and
// additionally grants the running command ownership of the terminal.
const ConsolePool = "console"

// Step is a single build action: a command plus its declared inputs
// and outputs. IdentityHash is the fingerprint of the step itself —
// command, pool, flags and sorted canonical input/output paths — and
// never changes across builds unless the manifest changes; it is the
// key into the invocation log.
type Step struct {
	IdentityHash    fingerprint.Hash
	Command         string
	PoolName        string
	DeclaredInputs  []path.Handle
	DeclaredOutputs []path.Handle
	Phony           bool
	Generator       bool
	Restat          bool
	Description     string
}

// DuplicateProducerError reports that more than one non-phony step
// declares the same output, which the dependency graph forbids.
type DuplicateProducerError struct {
	Path   string
	First  int
	Second int
}

func (e *DuplicateProducerError) Error() string {
	return fmt.Sprintf("graph: multiple rules generate %s (steps %d and %d)", e.Path, e.First, e.Second)
}

// CycleError reports a dependency cycle discovered while topologically
// sorting the graph.
type CycleError struct {
	Paths []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph: dependency cycle: %v", e.Paths)
}

// Graph is the step/file dependency graph built from a manifest's
// steps and pools.
type Graph struct {
	interner *path.Interner
	steps    []*Step
	pools    map[string]Pool

	producer map[path.Handle]int   // output handle -> step index (non-phony only)
	consumers map[path.Handle][]int // input handle -> step indices reading it

	explicitDefaults []int // set by SetDefaultTargets; nil means "use the heuristic"
}

// New builds a Graph from steps and pools, returning a
// *DuplicateProducerError if two non-phony steps produce the same
// output.
func New(interner *path.Interner, steps []*Step, pools map[string]Pool) (*Graph, error) {
	g := &Graph{
		interner:  interner,
		steps:     steps,
		pools:     pools,
		producer:  make(map[path.Handle]int),
		consumers: make(map[path.Handle][]int),
	}
	if g.pools == nil {
		g.pools = map[string]Pool{}
	}
	g.pools[ConsolePool] = Pool{Name: ConsolePool, Depth: 1}

	for i, s := range steps {
		if !s.Phony {
			for _, out := range s.DeclaredOutputs {
				if prev, ok := g.producer[out]; ok {
					return nil, &DuplicateProducerError{Path: interner.Path(out), First: prev, Second: i}
				}
				g.producer[out] = i
			}
		}
		for _, in := range s.DeclaredInputs {
			g.consumers[in] = append(g.consumers[in], i)
		}
	}
	return g, nil
}

// Step returns the step at index i.
func (g *Graph) Step(i int) *Step { return g.steps[i] }

// Steps returns every step in the graph, in manifest order.
func (g *Graph) Steps() []*Step { return g.steps }

// Pool returns the pool definition for name, or the zero-depth
// unlimited pool if name is unknown.
func (g *Graph) Pool(name string) Pool {
	if p, ok := g.pools[name]; ok {
		return p
	}
	return Pool{Name: name}
}

// Pools returns every pool declared in the manifest, including the
// built-in console pool.
func (g *Graph) Pools() map[string]Pool {
	return g.pools
}

// StepsProducing returns the index of the step that produces path, or
// -1 if no non-phony step does.
func (g *Graph) StepsProducing(p path.Handle) int {
	if i, ok := g.producer[p]; ok {
		return i
	}
	return -1
}

// StepsConsuming returns the indices of steps that declare path as an
// input.
func (g *Graph) StepsConsuming(p path.Handle) []int {
	return g.consumers[p]
}

// Dependents returns the indices of steps that directly depend on
// step i's outputs.
func (g *Graph) Dependents(i int) []int {
	seen := map[int]bool{}
	var out []int
	for _, o := range g.steps[i].DeclaredOutputs {
		for _, consumer := range g.consumers[o] {
			if !seen[consumer] {
				seen[consumer] = true
				out = append(out, consumer)
			}
		}
	}
	sort.Ints(out)
	return out
}

// Predecessors returns the indices of steps that produce one of step
// i's declared inputs.
func (g *Graph) Predecessors(i int) []int {
	seen := map[int]bool{}
	var out []int
	for _, in := range g.steps[i].DeclaredInputs {
		if p, ok := g.producer[in]; ok && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}

// TopologicalOrder returns step indices such that every step appears
// after all of its predecessors, or a *CycleError if the graph
// (restricted to the given roots, or the whole graph if roots is nil)
// contains a cycle.
func (g *Graph) TopologicalOrder(roots []int) ([]int, error) {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make([]int, len(g.steps))
	var order []int
	var stack []int

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case visited:
			return nil
		case visiting:
			cyclePaths := make([]string, 0, len(stack))
			for _, s := range stack {
				cyclePaths = append(cyclePaths, g.steps[s].Command)
			}
			return &CycleError{Paths: cyclePaths}
		}
		state[i] = visiting
		stack = append(stack, i)
		for _, p := range g.Predecessors(i) {
			if err := visit(p); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = visited
		order = append(order, i)
		return nil
	}

	if roots == nil {
		for i := range g.steps {
			roots = append(roots, i)
		}
	}
	for _, r := range roots {
		if err := visit(r); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// SetDefaultTargets records the steps a manifest explicitly named as
// default targets, so DefaultTargets reports exactly those instead of
// falling back to the terminal-output heuristic.
func (g *Graph) SetDefaultTargets(steps []int) {
	g.explicitDefaults = steps
}

// DefaultTargets returns the steps a build with no explicit targets
// should run. If the manifest declared default targets explicitly
// (via SetDefaultTargets), those are returned verbatim. Otherwise it
// falls back to every step index that produces at least one output no
// other step consumes as an input — i.e. the graph's terminal outputs
// — sorted for determinism.
func (g *Graph) DefaultTargets() []int {
	if g.explicitDefaults != nil {
		return g.explicitDefaults
	}
	consumed := make(map[path.Handle]bool)
	for in := range g.consumers {
		consumed[in] = true
	}
	var out []int
	seen := map[int]bool{}
	for i, s := range g.steps {
		if s.Phony {
			continue
		}
		for _, o := range s.DeclaredOutputs {
			if !consumed[o] && !seen[i] {
				seen[i] = true
				out = append(out, i)
			}
		}
	}
	sort.Ints(out)
	return out
}
