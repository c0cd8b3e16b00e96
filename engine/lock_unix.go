// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build unix

package engine

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// BuildDirLock guards a build output directory against two shk
// invocations running against it concurrently — a non-goal this repo
// carries anyway because a stray concurrent `shk build` silently
// corrupting the invocation log is a far worse failure mode than a
// clear "already locked" error.
//
// Grounded on the teacher's lock_unix.go: an flock(2) exclusive,
// non-blocking lock on a fixed filename inside the build directory.
type BuildDirLock struct {
	f *os.File
}

// LockBuildDir acquires the exclusive lock file ".shk_lock" inside
// dir, failing immediately (rather than blocking) if another process
// already holds it.
func LockBuildDir(dir string) (*BuildDirLock, error) {
	path := dir + string(os.PathSeparator) + ".shk_lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("engine: opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("engine: build directory %s is locked by another shk process", dir)
		}
		return nil, fmt.Errorf("engine: locking %s: %w", path, err)
	}
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	return &BuildDirLock{f: f}, nil
}

// Unlock releases the lock and closes the underlying file.
func (l *BuildDirLock) Unlock() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
