// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package simpleloader

import (
	"strings"
	"testing"
)

func TestParseBasicBuildStep(t *testing.T) {
	src := `
# comment
pool link depth=2
build a.o : cc -c a.c -o a.o | a.c a.h pool=link restat
default a.o
`
	b, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(b.Steps) != 1 {
		t.Fatalf("Steps = %d, want 1", len(b.Steps))
	}
	s := b.Steps[0]
	if s.Command != "cc -c a.c -o a.o" {
		t.Errorf("Command = %q", s.Command)
	}
	if len(s.Outputs) != 1 || s.Outputs[0] != "a.o" {
		t.Errorf("Outputs = %v", s.Outputs)
	}
	if len(s.Inputs) != 2 {
		t.Errorf("Inputs = %v, want 2 entries", s.Inputs)
	}
	if s.Pool != "link" {
		t.Errorf("Pool = %q, want link", s.Pool)
	}
	if !s.Restat {
		t.Errorf("Restat = false, want true")
	}
	if b.Pools["link"] != 2 {
		t.Errorf("Pools[link] = %d, want 2", b.Pools["link"])
	}
	if len(b.DefaultTargets) != 1 || b.DefaultTargets[0] != "a.o" {
		t.Errorf("DefaultTargets = %v", b.DefaultTargets)
	}
}

func TestParseRejectsMissingColon(t *testing.T) {
	if _, err := Parse(strings.NewReader("build a.o cc a.c\n")); err == nil {
		t.Errorf("Parse: want error for missing ':'")
	}
}

func TestParsePhonyStep(t *testing.T) {
	b, err := Parse(strings.NewReader("build all : phony | a.o b.o\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !b.Steps[0].Phony {
		t.Errorf("Phony = false, want true")
	}
}
