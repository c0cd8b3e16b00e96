// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fsys is the abstract file-system surface that the
// fingerprint, invocationlog and runner packages stat, read, write and
// hash through. Its production implementation is a thin wrapper around
// the OS; tests substitute an in-memory one so the racy-stat algorithm
// can be driven with fabricated timestamps.
//
// Grounded on the teacher's hashfs.FileSystem abstraction (hashfs/filesystem.go,
// hashfs/osfs), generalized from hashfs's caching tree model down to the
// narrow stat/read/write/mkdir/remove surface the spec calls for.
package fsys

import (
	"io/fs"
	"os"
	"time"
)

// FileSystem is the narrow I/O surface the engine needs. It exists so
// production code can run against the real OS while tests run against
// an in-memory fake with fully controlled clocks.
type FileSystem interface {
	// Stat returns OS-level metadata for path, or an error satisfying
	// errors.Is(err, fs.ErrNotExist) if it does not exist.
	Stat(path string) (fs.FileInfo, error)

	// ReadDir lists directory entry names, unsorted.
	ReadDir(path string) ([]string, error)

	// ReadFile reads the entire contents of a regular file.
	ReadFile(path string) ([]byte, error)

	// WriteFile creates or truncates path and writes data to it.
	WriteFile(path string, data []byte, perm fs.FileMode) error

	// Mkdir creates a single directory; the parent must already exist.
	Mkdir(path string, perm fs.FileMode) error

	// Remove deletes a file or empty directory.
	Remove(path string) error

	// Now returns the current time, letting tests fake the clock the
	// racy-stat age gate reads from.
	Now() time.Time
}

// OS is the production FileSystem, backed directly by package os.
type OS struct{}

var _ FileSystem = OS{}

func (OS) Stat(path string) (fs.FileInfo, error) { return os.Lstat(path) }

func (OS) ReadDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (OS) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (OS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (OS) Mkdir(path string, perm fs.FileMode) error { return os.Mkdir(path, perm) }

func (OS) Remove(path string) error { return os.Remove(path) }

func (OS) Now() time.Time { return time.Now() }
