// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package manifest

import (
	"testing"

	"shuriken.build/shk/path"
)

func TestIdentityHashIgnoresInputOrder(t *testing.T) {
	h1 := IdentityHash("cc -c a.c -o a.o", "", []string{"a.c", "a.h"}, []string{"a.o"})
	h2 := IdentityHash("cc -c a.c -o a.o", "", []string{"a.h", "a.c"}, []string{"a.o"})
	if h1 != h2 {
		t.Errorf("IdentityHash differs by input order: %x vs %x", h1, h2)
	}
}

func TestIdentityHashChangesWithCommand(t *testing.T) {
	h1 := IdentityHash("cc -c a.c -o a.o", "", []string{"a.c"}, []string{"a.o"})
	h2 := IdentityHash("cc -O2 -c a.c -o a.o", "", []string{"a.c"}, []string{"a.o"})
	if h1 == h2 {
		t.Errorf("IdentityHash same for different commands")
	}
}

func TestToGraphInternsAndForcesConsolePool(t *testing.T) {
	interner := path.New()
	b := &Build{
		Steps: []Step{
			{Command: "cc -c a.c -o a.o", Inputs: []string{"a.c"}, Outputs: []string{"a.o"}},
		},
	}
	g, err := ToGraph(interner, b)
	if err != nil {
		t.Fatalf("ToGraph: %v", err)
	}
	if len(g.Steps()) != 1 {
		t.Fatalf("Steps() = %d, want 1", len(g.Steps()))
	}
	pool := g.Pool("console")
	if pool.Depth != 1 {
		t.Errorf("console pool depth = %d, want 1", pool.Depth)
	}
}

func TestToGraphRejectsDuplicateProducers(t *testing.T) {
	interner := path.New()
	b := &Build{
		Steps: []Step{
			{Command: "cc a", Outputs: []string{"out"}},
			{Command: "cc b", Outputs: []string{"out"}},
		},
	}
	if _, err := ToGraph(interner, b); err == nil {
		t.Errorf("ToGraph: want error for duplicate producer, got nil")
	}
}
