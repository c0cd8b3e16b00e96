// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package path

import "testing"

func TestCleanCollapsesLexically(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"foo/bar", "foo/bar"},
		{"./foo/bar", "foo/bar"},
		{"foo//bar", "foo/bar"},
		{"foo/../bar", "bar"},
		{"foo/./bar", "foo/bar"},
		{"", "."},
	} {
		if got := Clean(tc.in); got != tc.want {
			t.Errorf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInternSamePathSameHandle(t *testing.T) {
	in := New()
	a := in.Intern("foo/bar")
	b := in.Intern("./foo/bar")
	if a != b {
		t.Errorf("Intern(foo/bar) = %d, Intern(./foo/bar) = %d, want equal", a, b)
	}
	if a == 0 {
		t.Errorf("Intern returned the zero handle, want nonzero")
	}
}

func TestInternDistinctPathsDistinctHandles(t *testing.T) {
	in := New()
	a := in.Intern("foo")
	b := in.Intern("bar")
	if a == b {
		t.Errorf("Intern(foo) == Intern(bar) == %d, want distinct", a)
	}
}

func TestPathRoundTrip(t *testing.T) {
	in := New()
	h := in.Intern("a/b/../c")
	if got, want := in.Path(h), "a/c"; got != want {
		t.Errorf("Path(h) = %q, want %q", got, want)
	}
}

func TestPathPanicsOnForeignHandle(t *testing.T) {
	in := New()
	defer func() {
		if recover() == nil {
			t.Errorf("Path did not panic on an unknown handle")
		}
	}()
	in.Path(Handle(999))
}

func TestLookupMissing(t *testing.T) {
	in := New()
	in.Intern("a")
	if _, ok := in.Lookup("b"); ok {
		t.Errorf("Lookup(b) found a handle, want not found")
	}
	if _, ok := in.Lookup("a"); !ok {
		t.Errorf("Lookup(a) found nothing, want the handle")
	}
}

func TestInternAllPreservesOrder(t *testing.T) {
	in := New()
	hs := in.InternAll([]string{"a", "b", "a"})
	if hs[0] != hs[2] {
		t.Errorf("InternAll: handle for repeated path %d != %d", hs[0], hs[2])
	}
	if hs[0] == hs[1] {
		t.Errorf("InternAll: distinct paths got same handle %d", hs[0])
	}
}

func TestLen(t *testing.T) {
	in := New()
	in.Intern("a")
	in.Intern("b")
	in.Intern("a")
	if got, want := in.Len(), 2; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
}
