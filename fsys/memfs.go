// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fsys

import (
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// MemFS is an in-memory FileSystem fake. Its clock is fully controlled
// by the test via Advance/SetNow, which is what lets fingerprint tests
// exercise the racy-stat age gate deterministically.
//
// Grounded on hashfs's in-memory File/Dir representation
// (hashfs/filesystem.go), trimmed to what fsys.FileSystem needs plus
// the synthetic inode/ctime bookkeeping fingerprint tests require.
type MemFS struct {
	mu      sync.Mutex
	now     time.Time
	nextIno uint64
	nodes   map[string]*memNode
}

type memNode struct {
	isDir   bool
	data    []byte
	entries map[string]bool
	mode    fs.FileMode
	mtime   time.Time
	ctime   time.Time
	ino     uint64
}

// NewMemFS creates an empty in-memory filesystem with its clock set to
// t0.
func NewMemFS(t0 time.Time) *MemFS {
	return &MemFS{
		now:   t0,
		nodes: map[string]*memNode{".": {isDir: true, entries: map[string]bool{}, mode: fs.ModeDir | 0755}},
	}
}

// Advance moves the fake clock forward by d.
func (m *MemFS) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// SetNow pins the fake clock to t.
func (m *MemFS) SetNow(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

func clean(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

func (m *MemFS) parentEntries(path string) (*memNode, string, bool) {
	dir := clean(filepath.Dir(path))
	base := filepath.Base(path)
	p, ok := m.nodes[dir]
	return p, base, ok && p.isDir
}

// WriteFile creates or overwrites path with data, bumping its mtime
// and ctime to the current fake time and assigning a fresh inode only
// the first time the path is created.
func (m *MemFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = clean(path)
	parent, base, ok := m.parentEntries(path)
	if !ok {
		return &fs.PathError{Op: "write", Path: path, Err: fs.ErrNotExist}
	}
	n, existed := m.nodes[path]
	if !existed {
		m.nextIno++
		n = &memNode{ino: m.nextIno}
		m.nodes[path] = n
		parent.entries[base] = true
	}
	n.isDir = false
	n.data = append([]byte(nil), data...)
	n.mode = perm
	n.mtime = m.now
	n.ctime = m.now
	return nil
}

// Mkdir creates an empty directory at path.
func (m *MemFS) Mkdir(path string, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = clean(path)
	parent, base, ok := m.parentEntries(path)
	if !ok {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrNotExist}
	}
	if _, exists := m.nodes[path]; exists {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrExist}
	}
	m.nextIno++
	m.nodes[path] = &memNode{
		isDir:   true,
		entries: map[string]bool{},
		mode:    fs.ModeDir | perm,
		mtime:   m.now,
		ctime:   m.now,
		ino:     m.nextIno,
	}
	parent.entries[base] = true
	return nil
}

// Remove deletes path, which must be a file or an empty directory.
func (m *MemFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = clean(path)
	n, ok := m.nodes[path]
	if !ok {
		return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrNotExist}
	}
	if n.isDir && len(n.entries) > 0 {
		return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrInvalid}
	}
	parent, base, _ := m.parentEntries(path)
	delete(parent.entries, base)
	delete(m.nodes, path)
	return nil
}

// Stat returns metadata for path.
func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = clean(path)
	n, ok := m.nodes[path]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
	}
	return &memFileInfo{name: filepath.Base(path), n: n}, nil
}

// ReadDir lists the entry names of the directory at path.
func (m *MemFS) ReadDir(path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = clean(path)
	n, ok := m.nodes[path]
	if !ok || !n.isDir {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: fs.ErrNotExist}
	}
	names := make([]string, 0, len(n.entries))
	for name := range n.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ReadFile reads the contents of the regular file at path.
func (m *MemFS) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = clean(path)
	n, ok := m.nodes[path]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: path, Err: fs.ErrNotExist}
	}
	if n.isDir {
		return nil, &fs.PathError{Op: "read", Path: path, Err: fs.ErrInvalid}
	}
	return append([]byte(nil), n.data...), nil
}

// Now returns the fake filesystem's current clock value.
func (m *MemFS) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Ino exposes the synthetic inode MemFS assigned to path, for tests
// that want to assert on it directly.
func (m *MemFS) Ino(path string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[clean(path)]
	if !ok {
		return 0, false
	}
	return n.ino, true
}

type memFileInfo struct {
	name string
	n    *memNode
}

func (fi *memFileInfo) Name() string       { return fi.name }
func (fi *memFileInfo) Size() int64        { return int64(len(fi.n.data)) }
func (fi *memFileInfo) Mode() fs.FileMode  { return fi.n.mode }
func (fi *memFileInfo) ModTime() time.Time { return fi.n.mtime }
func (fi *memFileInfo) IsDir() bool        { return fi.n.isDir }
func (fi *memFileInfo) Sys() any           { return fi.n }

// Ino and CtimeSec let fingerprint.platformStat recover the synthetic
// inode and ctime MemFS assigns, the same fields a real OS stat would
// expose through syscall.Stat_t. They satisfy an unexported interface
// fingerprint type-asserts for before falling back to a real
// golang.org/x/sys/unix.Stat_t.
func (fi *memFileInfo) Ino() uint64     { return fi.n.ino }
func (fi *memFileInfo) CtimeSec() int64 { return fi.n.ctime.Unix() }
