// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package invocationlog

import (
	"sync"

	"shuriken.build/shk/fingerprint"
)

// MemLog is the in-memory realization of Log used by tests that don't
// want filesystem side effects. It mirrors the
// disk-backed Writer's bookkeeping (the same record-id assignment and
// backward-reference discipline) without ever touching a file.
type MemLog struct {
	mu sync.Mutex
	st *state
}

var _ Log = (*MemLog)(nil)

// NewMemLog creates an empty in-memory log.
func NewMemLog() *MemLog {
	return &MemLog{st: newState()}
}

func (m *MemLog) internPath(path string) int {
	if id, ok := m.st.pathRecordIDByPath[path]; ok {
		return id
	}
	return m.st.appendPathRecord(path)
}

// CreatedDirectory implements Log.
func (m *MemLog) CreatedDirectory(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, live := m.st.createdDirRecordID[path]; live {
		return nil
	}
	pathID := m.internPath(path)
	id := m.st.appendNonPathRecord()
	m.st.createdDirRecordID[path] = id
	m.st.pathByCreatedDirRecordID[id] = path
	_ = pathID
	return nil
}

// RemovedDirectory implements Log.
func (m *MemLog) RemovedDirectory(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, live := m.st.createdDirRecordID[path]; !live {
		return nil
	}
	delete(m.st.createdDirRecordID, path)
	m.st.appendNonPathRecord()
	return nil
}

// RanCommand implements Log.
func (m *MemLog) RanCommand(identity fingerprint.Hash, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range entry.Outputs {
		m.internPath(f.Path)
	}
	for _, f := range entry.Inputs {
		m.internPath(f.Path)
	}
	m.st.invocations[identity] = entry
	m.st.appendNonPathRecord()
	return nil
}

// CleanedCommand implements Log.
func (m *MemLog) CleanedCommand(identity fingerprint.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.st.invocations, identity)
	m.st.appendNonPathRecord()
	return nil
}

// Lookup implements Log.
func (m *MemLog) Lookup(identity fingerprint.Hash) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.st.invocations[identity]
	return e, ok
}

// LiveCreatedDirectories implements Log.
func (m *MemLog) LiveCreatedDirectories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.st.createdDirRecordID))
	for path := range m.st.createdDirRecordID {
		out = append(out, path)
	}
	return out
}

// Close implements Log. MemLog holds no resources.
func (m *MemLog) Close() error { return nil }
