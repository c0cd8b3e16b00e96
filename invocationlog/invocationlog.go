// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package invocationlog is the durable, append-only record of what
// commands shk has run and the fingerprints of the files they read
// and produced. It is consulted by the dirtiness analyzer on every
// build and appended to by the scheduler after every step completes.
//
// Grounded on the teacher's toolsupport/ninjautil.DepsLog: the same
// "read loop truncates at the first bad record, writer keeps its own
// path-interning cache to avoid duplicate path records" shape, widened
// from ninja's single mtime-per-output deps record to shk's richer
// per-step Entry (full input and output fingerprints, created
// directories, logical deletes) and from a 1-bit record-kind header to
// a 2-bit one.
package invocationlog

import "shuriken.build/shk/fingerprint"

// FileFingerprint pairs a path with the Fingerprint observed for it at
// the time a step completed.
type FileFingerprint struct {
	Path        string
	Fingerprint fingerprint.Fingerprint
}

// Entry is the payload recorded for one executed step: the fingerprints
// of everything it wrote, followed by the fingerprints of everything
// it read. Order matters on disk (outputs precede inputs) even though
// callers address both by name.
type Entry struct {
	Outputs []FileFingerprint
	Inputs  []FileFingerprint
}

// Log is the contract both the disk-backed and in-memory
// implementations satisfy. Disk is used for real builds; the in-memory
// variant backs dry runs and tests that don't want filesystem
// side-effects.
type Log interface {
	// CreatedDirectory records that the build just created path as a
	// directory. Idempotent if path is already recorded as live.
	CreatedDirectory(path string) error

	// RemovedDirectory records removal of path, undoing a prior
	// CreatedDirectory. A no-op if path was not recorded as live.
	RemovedDirectory(path string) error

	// RanCommand records that the step identified by identity has run
	// and observed the fingerprints in entry. Overwrites any prior
	// entry for that identity.
	RanCommand(identity fingerprint.Hash, entry Entry) error

	// CleanedCommand logically deletes the entry for identity (used by
	// `shk -t clean`).
	CleanedCommand(identity fingerprint.Hash) error

	// Lookup returns the live entry for identity, if any.
	Lookup(identity fingerprint.Hash) (Entry, bool)

	// LiveCreatedDirectories returns the set of directories currently
	// recorded as created by the build, in no particular order.
	LiveCreatedDirectories() []string

	// Close releases any resources (in particular, the underlying file
	// for a disk-backed log).
	Close() error
}
