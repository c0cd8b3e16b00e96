// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package invocationlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"shuriken.build/shk/fingerprint"
)

// recompactionFactor is the density heuristic from the spec: once the
// number of records ever written exceeds this multiple of the number
// of records that are actually still live, recompaction is
// recommended. A factor between 2 and 4 is required; 3 splits the
// difference.
const recompactionFactor = 3

// DiskLog is the durable, append-only, recompactable Log. Only one
// DiskLog should ever have a given file open for writing at a time;
// shk enforces this with a separate build-directory lock file, not by
// this package (no cross-process coordination is attempted here).
//
// Grounded on toolsupport/ninjautil.DepsLog: Open replays the whole
// file up front exactly like NewDepsLog's read loop, the writer keeps
// the same kind of path-id cache DepsLog.uniquePathIdx maintains, and
// a truncated tail is recovered from rather than treated as fatal.
type DiskLog struct {
	mu    sync.Mutex
	fname string
	f     *os.File
	st    *state
}

var _ Log = (*DiskLog)(nil)

// Open reads fname (creating it with a fresh header if it does not
// exist) and returns a DiskLog ready to append to. If the file's tail
// is corrupt, Open truncates the file to its last well-formed record
// before returning, matching the spec's crash-recovery policy.
func Open(fname string) (*DiskLog, error) {
	data, err := os.ReadFile(fname)
	notExist := errors.Is(err, fs.ErrNotExist)
	if err != nil && !notExist {
		return nil, fmt.Errorf("invocationlog: reading %s: %w", fname, err)
	}

	var pr *parseResult
	if notExist || len(data) == 0 {
		pr = &parseResult{state: newState(), consumedBytes: 0}
	} else {
		pr, err = parse(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(fname, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("invocationlog: opening %s: %w", fname, err)
	}

	consumed := pr.consumedBytes
	if consumed == 0 {
		// Either the file didn't exist, was empty, or its header was
		// invalid: start over with a fresh one.
		if err := f.Truncate(0); err != nil {
			f.Close()
			return nil, err
		}
		if _, err := f.WriteAt([]byte(fileMagic), 0); err != nil {
			f.Close()
			return nil, err
		}
		var verBuf bytes.Buffer
		binary.Write(&verBuf, binary.LittleEndian, formatVersion)
		if _, err := f.WriteAt(verBuf.Bytes(), int64(len(fileMagic))); err != nil {
			f.Close()
			return nil, err
		}
		consumed = headerSize
		pr.state = newState()
	} else if int64(consumed) < int64(len(data)) {
		if err := f.Truncate(int64(consumed)); err != nil {
			f.Close()
			return nil, err
		}
	}
	if _, err := f.Seek(int64(consumed), 0); err != nil {
		f.Close()
		return nil, err
	}

	return &DiskLog{fname: fname, f: f, st: pr.state}, nil
}

func (d *DiskLog) appendRecord(kind recordKind, payload []byte) error {
	if len(payload)%4 != 0 {
		return fmt.Errorf("invocationlog: payload length %d not 4-byte aligned", len(payload))
	}
	header := encodeHeader(kind, len(payload))
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(header))
	copy(buf[4:], payload)
	if _, err := d.f.Write(buf); err != nil {
		return err
	}
	return d.f.Sync()
}

func (d *DiskLog) internPath(path string) (int, error) {
	if id, ok := d.st.pathRecordIDByPath[path]; ok {
		return id, nil
	}
	id := d.st.recordCount
	if err := d.appendRecord(kindPath, encodePathPayload(path)); err != nil {
		return 0, err
	}
	d.st.appendPathRecord(path)
	return id, nil
}

// CreatedDirectory implements Log.
func (d *DiskLog) CreatedDirectory(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createdDirectoryLocked(path)
}

func (d *DiskLog) createdDirectoryLocked(path string) error {
	if _, live := d.st.createdDirRecordID[path]; live {
		return nil
	}
	pathID, err := d.internPath(path)
	if err != nil {
		return err
	}
	id := d.st.recordCount
	if err := d.appendRecord(kindCreatedDir, encodeCreatedDirPayload(pathID)); err != nil {
		return err
	}
	d.st.appendNonPathRecord()
	d.st.createdDirRecordID[path] = id
	d.st.pathByCreatedDirRecordID[id] = path
	return nil
}

// RemovedDirectory implements Log.
func (d *DiskLog) RemovedDirectory(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	refID, live := d.st.createdDirRecordID[path]
	if !live {
		return nil
	}
	if err := d.appendRecord(kindDeleted, encodeDeletedCreatedDirPayload(refID)); err != nil {
		return err
	}
	d.st.appendNonPathRecord()
	delete(d.st.createdDirRecordID, path)
	return nil
}

// RanCommand implements Log.
func (d *DiskLog) RanCommand(identity fingerprint.Hash, entry Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ranCommandLocked(identity, entry)
}

func (d *DiskLog) ranCommandLocked(identity fingerprint.Hash, entry Entry) error {
	outs := make([]invocationFileEntry, len(entry.Outputs))
	for i, f := range entry.Outputs {
		id, err := d.internPath(f.Path)
		if err != nil {
			return err
		}
		outs[i] = invocationFileEntry{pathRecordID: id, fp: f.Fingerprint}
	}
	ins := make([]invocationFileEntry, len(entry.Inputs))
	for i, f := range entry.Inputs {
		id, err := d.internPath(f.Path)
		if err != nil {
			return err
		}
		ins[i] = invocationFileEntry{pathRecordID: id, fp: f.Fingerprint}
	}
	if err := d.appendRecord(kindInvocation, encodeInvocationPayload(identity, outs, ins)); err != nil {
		return err
	}
	d.st.appendNonPathRecord()
	d.st.invocations[identity] = entry
	return nil
}

// CleanedCommand implements Log.
func (d *DiskLog) CleanedCommand(identity fingerprint.Hash) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, live := d.st.invocations[identity]; !live {
		return nil
	}
	if err := d.appendRecord(kindDeleted, encodeDeletedInvocationPayload(identity)); err != nil {
		return err
	}
	d.st.appendNonPathRecord()
	delete(d.st.invocations, identity)
	return nil
}

// Lookup implements Log.
func (d *DiskLog) Lookup(identity fingerprint.Hash) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.st.invocations[identity]
	return e, ok
}

// LiveCreatedDirectories implements Log.
func (d *DiskLog) LiveCreatedDirectories() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.st.createdDirRecordID))
	for path := range d.st.createdDirRecordID {
		out = append(out, path)
	}
	return out
}

// Close implements Log.
func (d *DiskLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

// ShouldRecompact reports whether the log has accumulated enough dead
// records (CreatedDir/Invocation entries superseded or deleted, plus
// their now-unreferenced Path records) to be worth rewriting from
// scratch.
func (d *DiskLog) ShouldRecompact() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.recordCount > d.st.liveLogicalEntries()*recompactionFactor
}

// Recompact rewrites the log file from scratch, keeping only the
// currently-live created directories and invocation entries and
// dropping every dead Path, Deleted, and superseded record. The
// rewrite is staged in a sibling file and renamed over fname, so a
// crash mid-recompaction leaves the original log intact.
func (d *DiskLog) Recompact() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	liveDirs := make([]string, 0, len(d.st.createdDirRecordID))
	for path := range d.st.createdDirRecordID {
		liveDirs = append(liveDirs, path)
	}
	sort.Strings(liveDirs)

	liveInvocations := make([]fingerprint.Hash, 0, len(d.st.invocations))
	for identity := range d.st.invocations {
		liveInvocations = append(liveInvocations, identity)
	}
	sort.Slice(liveInvocations, func(i, j int) bool {
		return bytes.Compare(liveInvocations[i][:], liveInvocations[j][:]) < 0
	})
	entries := make(map[fingerprint.Hash]Entry, len(liveInvocations))
	for _, identity := range liveInvocations {
		entries[identity] = d.st.invocations[identity]
	}

	tmpName := d.fname + ".recompact"
	f, err := os.OpenFile(tmpName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("invocationlog: creating recompaction file: %w", err)
	}
	if _, err := f.Write([]byte(fileMagic)); err != nil {
		f.Close()
		os.Remove(tmpName)
		return err
	}
	var verBuf bytes.Buffer
	binary.Write(&verBuf, binary.LittleEndian, formatVersion)
	if _, err := f.Write(verBuf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmpName)
		return err
	}

	oldF := d.f
	d.f = f
	d.st = newState()

	var writeErr error
	for _, path := range liveDirs {
		if writeErr = d.createdDirectoryLocked(path); writeErr != nil {
			break
		}
	}
	for _, identity := range liveInvocations {
		if writeErr != nil {
			break
		}
		writeErr = d.ranCommandLocked(identity, entries[identity])
	}
	if writeErr != nil {
		f.Close()
		os.Remove(tmpName)
		d.f = oldF
		return writeErr
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpName)
		d.f = oldF
		return err
	}
	oldF.Close()
	if err := os.Rename(tmpName, d.fname); err != nil {
		return fmt.Errorf("invocationlog: renaming recompacted log into place: %w", err)
	}
	return nil
}
