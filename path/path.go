// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package path canonicalizes file paths and interns them into small,
// stable, comparable handles.
//
// Canonicalization is purely lexical: "./", "//" and ".." segments are
// collapsed the way filepath.Clean collapses them. Symlinks are never
// resolved, matching the racy-stat fingerprinting model, which only
// ever cares about the path string a command declared, not what it
// might point to.
package path

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Handle is an opaque, comparable identifier for a canonicalized path.
// Two handles from the same Interner are equal iff the paths they were
// produced from are lexically identical after canonicalization. The
// zero Handle is never returned by Intern and can be used as a sentinel
// for "no path".
type Handle int32

// Interner canonicalizes and deduplicates paths, handing back stable,
// small integer handles. It is insert-only: once assigned, a handle
// never changes meaning and is never reused. Create one with New; the
// zero value is not usable.
//
// Grounded on the teacher's symtab (string interning over a sync.Map)
// generalized from "intern string, get back the string" to "intern
// string, get back a small integer handle" so the rest of the engine
// can use handles as map keys and array indices instead of strings.
type Interner struct {
	mu     sync.RWMutex
	byPath map[string]Handle
	paths  []string // index 0 unused, so Handle(0) stays invalid.
}

// New creates an empty Interner.
func New() *Interner {
	return &Interner{
		byPath: make(map[string]Handle),
		paths:  []string{""},
	}
}

// Clean canonicalizes p the way Intern would, without interning it.
// The result is slash-separated and lexically clean; it is never
// empty (an empty input cleans to ".").
func Clean(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

// Intern canonicalizes p and returns its handle, assigning a new one
// the first time a given canonical path is seen.
func (in *Interner) Intern(p string) Handle {
	clean := Clean(p)

	in.mu.RLock()
	if h, ok := in.byPath[clean]; ok {
		in.mu.RUnlock()
		return h
	}
	in.mu.RUnlock()

	in.mu.Lock()
	defer in.mu.Unlock()
	if h, ok := in.byPath[clean]; ok {
		return h
	}
	h := Handle(len(in.paths))
	in.paths = append(in.paths, clean)
	in.byPath[clean] = h
	return h
}

// InternAll interns every path in ps, preserving order.
func (in *Interner) InternAll(ps []string) []Handle {
	hs := make([]Handle, len(ps))
	for i, p := range ps {
		hs[i] = in.Intern(p)
	}
	return hs
}

// Lookup returns the handle for an already-canonicalized path without
// interning it, reporting whether it was found.
func (in *Interner) Lookup(p string) (Handle, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	h, ok := in.byPath[Clean(p)]
	return h, ok
}

// Path returns the canonical path string a handle was assigned for.
// It panics if h was not produced by this Interner; handles are never
// valid across different Interner instances.
func (in *Interner) Path(h Handle) string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if h <= 0 || int(h) >= len(in.paths) {
		panic(fmt.Sprintf("path: handle %d not known to this interner", h))
	}
	return in.paths[h]
}

// Len returns the number of distinct paths interned so far.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.paths) - 1
}
