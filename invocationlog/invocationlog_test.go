// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package invocationlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"shuriken.build/shk/fingerprint"
)

func testFingerprint(seed int64) fingerprint.Fingerprint {
	var h fingerprint.Hash
	h[0] = byte(seed)
	return fingerprint.Fingerprint{
		Stat: fingerprint.Stat{
			Size:     uint64(seed),
			Inode:    uint64(seed),
			Mode:     0644,
			MtimeSec: seed,
			CtimeSec: seed,
			Exists:   true,
		},
		TimestampTaken: seed,
		ContentHash:    h,
	}
}

func testIdentity(seed byte) fingerprint.Hash {
	var h fingerprint.Hash
	h[len(h)-1] = seed
	return h
}

func TestDiskLogRanCommandSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "log")

	log1, err := Open(fname)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	identity := testIdentity(1)
	entry := Entry{
		Outputs: []FileFingerprint{{Path: "out/a.o", Fingerprint: testFingerprint(10)}},
		Inputs: []FileFingerprint{
			{Path: "src/a.c", Fingerprint: testFingerprint(20)},
			{Path: "src/a.h", Fingerprint: testFingerprint(21)},
		},
	}
	if err := log1.RanCommand(identity, entry); err != nil {
		t.Fatalf("RanCommand: %v", err)
	}
	if err := log1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	log2, err := Open(fname)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer log2.Close()
	got, ok := log2.Lookup(identity)
	if !ok {
		t.Fatalf("Lookup after reopen: not found")
	}
	if diff := cmp.Diff(entry, got); diff != "" {
		t.Errorf("Lookup after reopen mismatch (-want +got):\n%s", diff)
	}
}

func TestDiskLogCreatedDirectoryIdempotent(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "log")
	log, err := Open(fname)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	if err := log.CreatedDirectory("out"); err != nil {
		t.Fatalf("CreatedDirectory: %v", err)
	}
	if err := log.CreatedDirectory("out"); err != nil {
		t.Fatalf("CreatedDirectory (again): %v", err)
	}
	dirs := log.LiveCreatedDirectories()
	if len(dirs) != 1 || dirs[0] != "out" {
		t.Errorf("LiveCreatedDirectories = %v, want [out]", dirs)
	}
}

func TestDiskLogRemovedDirectoryUndoesCreate(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "log")
	log, err := Open(fname)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	if err := log.CreatedDirectory("out"); err != nil {
		t.Fatalf("CreatedDirectory: %v", err)
	}
	if err := log.RemovedDirectory("out"); err != nil {
		t.Fatalf("RemovedDirectory: %v", err)
	}
	if dirs := log.LiveCreatedDirectories(); len(dirs) != 0 {
		t.Errorf("LiveCreatedDirectories = %v, want empty", dirs)
	}

	// Removing something never recorded is a no-op, not an error.
	if err := log.RemovedDirectory("never-created"); err != nil {
		t.Errorf("RemovedDirectory(never-created) = %v, want nil", err)
	}
}

func TestDiskLogCleanedCommandDeletesEntry(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "log")
	log, err := Open(fname)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	identity := testIdentity(2)
	if err := log.RanCommand(identity, Entry{}); err != nil {
		t.Fatalf("RanCommand: %v", err)
	}
	if err := log.CleanedCommand(identity); err != nil {
		t.Fatalf("CleanedCommand: %v", err)
	}
	if _, ok := log.Lookup(identity); ok {
		t.Errorf("Lookup after CleanedCommand found an entry, want none")
	}
}

func TestDiskLogRecoversFromTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "log")
	log, err := Open(fname)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	identity := testIdentity(3)
	entry := Entry{Outputs: []FileFingerprint{{Path: "a.o", Fingerprint: testFingerprint(1)}}}
	if err := log.RanCommand(identity, entry); err != nil {
		t.Fatalf("RanCommand: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-append: append a few garbage bytes that look
	// like the start of a record header but are never completed.
	f, err := os.OpenFile(fname, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.Write([]byte{0xff, 0xff, 0xff, 0x7f, 0x01, 0x02}); err != nil {
		t.Fatalf("Write garbage: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close garbage writer: %v", err)
	}

	log2, err := Open(fname)
	if err != nil {
		t.Fatalf("reopen after truncated tail: %v", err)
	}
	defer log2.Close()
	got, ok := log2.Lookup(identity)
	if !ok {
		t.Fatalf("Lookup after recovery: not found")
	}
	if diff := cmp.Diff(entry, got); diff != "" {
		t.Errorf("Lookup after recovery mismatch (-want +got):\n%s", diff)
	}

	// A subsequent append must succeed and not re-corrupt the file.
	identity2 := testIdentity(4)
	if err := log2.RanCommand(identity2, Entry{}); err != nil {
		t.Fatalf("RanCommand after recovery: %v", err)
	}
	if _, ok := log2.Lookup(identity2); !ok {
		t.Errorf("Lookup(identity2) after append-after-recovery not found")
	}
}

func TestDiskLogRecompactDropsDeadRecordsButKeepsLiveOnes(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "log")
	log, err := Open(fname)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	keep := testIdentity(1)
	gone := testIdentity(2)
	keepEntry := Entry{Outputs: []FileFingerprint{{Path: "keep.o", Fingerprint: testFingerprint(1)}}}
	if err := log.RanCommand(keep, keepEntry); err != nil {
		t.Fatalf("RanCommand(keep): %v", err)
	}
	if err := log.RanCommand(gone, Entry{Outputs: []FileFingerprint{{Path: "gone.o", Fingerprint: testFingerprint(2)}}}); err != nil {
		t.Fatalf("RanCommand(gone): %v", err)
	}
	if err := log.CleanedCommand(gone); err != nil {
		t.Fatalf("CleanedCommand(gone): %v", err)
	}

	if err := log.Recompact(); err != nil {
		t.Fatalf("Recompact: %v", err)
	}

	got, ok := log.Lookup(keep)
	if !ok {
		t.Fatalf("Lookup(keep) after Recompact: not found")
	}
	if diff := cmp.Diff(keepEntry, got); diff != "" {
		t.Errorf("Lookup(keep) after Recompact mismatch (-want +got):\n%s", diff)
	}
	if _, ok := log.Lookup(gone); ok {
		t.Errorf("Lookup(gone) after Recompact found an entry, want none")
	}

	// The recompacted file must itself be readable from scratch.
	log2, err := Open(fname)
	if err != nil {
		t.Fatalf("reopen recompacted file: %v", err)
	}
	defer log2.Close()
	if _, ok := log2.Lookup(keep); !ok {
		t.Errorf("Lookup(keep) after reopening recompacted file: not found")
	}
}

func TestDiskLogShouldRecompactDensityHeuristic(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "log")
	log, err := Open(fname)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	for i := byte(0); i < 10; i++ {
		identity := testIdentity(i)
		if err := log.RanCommand(identity, Entry{}); err != nil {
			t.Fatalf("RanCommand: %v", err)
		}
		if err := log.CleanedCommand(identity); err != nil {
			t.Fatalf("CleanedCommand: %v", err)
		}
	}
	if !log.ShouldRecompact() {
		t.Errorf("ShouldRecompact() = false after %d dead entries, want true", 10)
	}
}

func TestMemLogSatisfiesSameContract(t *testing.T) {
	log := NewMemLog()
	identity := testIdentity(5)
	entry := Entry{Inputs: []FileFingerprint{{Path: "x", Fingerprint: testFingerprint(5)}}}
	if err := log.RanCommand(identity, entry); err != nil {
		t.Fatalf("RanCommand: %v", err)
	}
	got, ok := log.Lookup(identity)
	if !ok {
		t.Fatalf("Lookup: not found")
	}
	if diff := cmp.Diff(entry, got); diff != "" {
		t.Errorf("Lookup mismatch (-want +got):\n%s", diff)
	}
}
