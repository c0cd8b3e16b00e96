// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build windows

package engine

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// BuildDirLock guards a build output directory against two shk
// invocations running against it concurrently.
//
// Grounded on the teacher's lock_windows.go: LockFileEx with
// LOCKFILE_FAIL_IMMEDIATELY on a fixed filename inside the build
// directory.
type BuildDirLock struct {
	f *os.File
}

// LockBuildDir acquires the exclusive lock file ".shk_lock" inside
// dir, failing immediately if another process already holds it.
func LockBuildDir(dir string) (*BuildDirLock, error) {
	path := dir + string(os.PathSeparator) + ".shk_lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("engine: opening lock file: %w", err)
	}
	ol := new(windows.Overlapped)
	err = windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, 1, 0, ol)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("engine: build directory %s is locked by another shk process", dir)
	}
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	return &BuildDirLock{f: f}, nil
}

// Unlock releases the lock and closes the underlying file.
func (l *BuildDirLock) Unlock() error {
	ol := new(windows.Overlapped)
	if err := windows.UnlockFileEx(windows.Handle(l.f.Fd()), 0, 1, 0, ol); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
