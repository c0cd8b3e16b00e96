// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package simpleloader is a minimal manifest.Loader for a
// line-oriented build-step format, used by engine tests and the
// "build" CLI command's -f flag. It exists to exercise the
// manifest.Loader seam end to end without reimplementing ninja's
// manifest language, which is explicitly out of scope: a Ninja-syntax
// loader is a drop-in replacement behind the same interface.
//
// Format, one step per non-blank, non-comment line:
//
//	build <outputs...> : <command> | <inputs...> [pool=<name>] [restat] [generator] [phony]
//
// A line beginning with "pool " instead declares a pool's depth:
//
//	pool <name> depth=<n>
package simpleloader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"shuriken.build/shk/manifest"
)

// Loader reads a simpleloader-format manifest from a file path.
type Loader struct {
	Path string
}

// New returns a Loader for the manifest at path.
func New(path string) *Loader { return &Loader{Path: path} }

func (l *Loader) Load(ctx context.Context) (*manifest.Build, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("simpleloader: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a simpleloader-format manifest from r.
func Parse(r io.Reader) (*manifest.Build, error) {
	b := &manifest.Build{Pools: map[string]uint32{}}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "pool "):
			name, depth, err := parsePoolLine(line)
			if err != nil {
				return nil, fmt.Errorf("simpleloader: line %d: %w", lineNo, err)
			}
			b.Pools[name] = depth
		case strings.HasPrefix(line, "default "):
			b.DefaultTargets = append(b.DefaultTargets, strings.Fields(strings.TrimPrefix(line, "default "))...)
		case strings.HasPrefix(line, "build "):
			step, err := parseBuildLine(line)
			if err != nil {
				return nil, fmt.Errorf("simpleloader: line %d: %w", lineNo, err)
			}
			b.Steps = append(b.Steps, step)
		default:
			return nil, fmt.Errorf("simpleloader: line %d: unrecognized statement %q", lineNo, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("simpleloader: %w", err)
	}
	return b, nil
}

func parsePoolLine(line string) (string, uint32, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || !strings.HasPrefix(fields[2], "depth=") {
		return "", 0, fmt.Errorf("malformed pool statement %q", line)
	}
	depth, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "depth="), 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("malformed pool depth in %q: %w", line, err)
	}
	return fields[1], uint32(depth), nil
}

func parseBuildLine(line string) (manifest.Step, error) {
	rest := strings.TrimPrefix(line, "build ")
	colonIdx := strings.Index(rest, ":")
	if colonIdx < 0 {
		return manifest.Step{}, fmt.Errorf("malformed build statement, missing ':': %q", line)
	}
	outputs := strings.Fields(rest[:colonIdx])
	if len(outputs) == 0 {
		return manifest.Step{}, fmt.Errorf("build statement has no outputs: %q", line)
	}

	after := strings.TrimSpace(rest[colonIdx+1:])
	cmdPart := after
	var tail string
	if i := strings.Index(after, "|"); i >= 0 {
		cmdPart = after[:i]
		tail = after[i+1:]
	}
	command := strings.TrimSpace(cmdPart)
	if command == "" {
		return manifest.Step{}, fmt.Errorf("build statement has no command: %q", line)
	}

	step := manifest.Step{Command: command, Outputs: outputs}
	if command == "phony" {
		step.Phony = true
		step.Command = ""
	}
	for _, field := range strings.Fields(tail) {
		switch {
		case field == "restat":
			step.Restat = true
		case field == "generator":
			step.Generator = true
		case field == "phony":
			step.Phony = true
		case strings.HasPrefix(field, "pool="):
			step.Pool = strings.TrimPrefix(field, "pool=")
		default:
			step.Inputs = append(step.Inputs, field)
		}
	}
	return step, nil
}
