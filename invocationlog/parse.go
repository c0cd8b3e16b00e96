// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package invocationlog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"shuriken.build/shk/fingerprint"
)

// state is the in-memory result of replaying a log from the start. It
// is shared by the parser (building it up from a reader) and by the
// in-memory Log implementation (building it up directly from calls).
type state struct {
	// recordPath[i] is the path a Path record at record-id i encoded,
	// or "" if record i was not a Path record. isPathRecord
	// disambiguates a real empty path (never produced in practice)
	// from a non-Path record.
	recordPath   []string
	isPathRecord []bool

	// pathRecordIDByPath lets a writer avoid emitting a duplicate Path
	// record for a path it has already seen, live or not: paths are
	// never deleted, only the entries referencing them are.
	pathRecordIDByPath map[string]int

	// pathByCreatedDirRecordID maps a CreatedDir record's own id back
	// to the path it recorded, so a later Deleted record undoing it
	// can be resolved.
	pathByCreatedDirRecordID map[int]string

	// createdDirRecordID holds the record-id of the live CreatedDir
	// record for each currently-live created directory.
	createdDirRecordID map[string]int

	// invocations holds the live Entry for each currently-live step
	// identity.
	invocations map[fingerprint.Hash]Entry

	// recordCount is the total number of records seen (or written),
	// i.e. the record-id the next record will be assigned.
	recordCount int
}

func newState() *state {
	return &state{
		pathRecordIDByPath:       make(map[string]int),
		pathByCreatedDirRecordID: make(map[int]string),
		createdDirRecordID:       make(map[string]int),
		invocations:              make(map[fingerprint.Hash]Entry),
	}
}

func (s *state) liveLogicalEntries() int {
	return len(s.createdDirRecordID) + len(s.invocations)
}

func (s *state) appendPathRecord(path string) int {
	id := s.recordCount
	s.recordPath = append(s.recordPath, path)
	s.isPathRecord = append(s.isPathRecord, true)
	s.pathRecordIDByPath[path] = id
	s.recordCount++
	return id
}

func (s *state) appendNonPathRecord() int {
	id := s.recordCount
	s.recordPath = append(s.recordPath, "")
	s.isPathRecord = append(s.isPathRecord, false)
	s.recordCount++
	return id
}

func (s *state) resolvePathID(id int, referringID int) (string, bool) {
	if id < 0 || id >= referringID || id >= len(s.isPathRecord) || !s.isPathRecord[id] {
		return "", false
	}
	return s.recordPath[id], true
}

// parseResult is the outcome of reading an existing log file: the
// replayed state, whether the file was well-formed enough to simply
// append to (truncated is true whenever recovery discarded trailing
// bytes), and consumedBytes, the byte offset of the clean prefix a
// writer should truncate the physical file to before appending.
//
// consumedBytes is 0 when even the header was invalid or absent: the
// whole file is garbage (or doesn't exist) and the writer must start
// over with a fresh header.
type parseResult struct {
	state         *state
	truncated     bool
	consumedBytes int
}

// parse streams r from the beginning, replaying every record into a
// fresh state. Any structurally invalid record — bad length, bad
// kind, a forward or dangling record-id reference — truncates reading
// at the start of that record and is not treated as an error: this is
// the expected recovery path after a crash mid-append.
func parse(r io.Reader) (*parseResult, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(fileMagic))
	n, err := io.ReadFull(br, magic)
	if err != nil || n != len(magic) || !bytes.Equal(magic, []byte(fileMagic)) {
		return &parseResult{state: newState()}, nil
	}
	var version int32
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil || version != formatVersion {
		return &parseResult{state: newState()}, nil
	}

	st := newState()
	truncated := false
	consumed := headerSize
	for {
		var headerBits uint32
		if err := binary.Read(br, binary.LittleEndian, &headerBits); err != nil {
			if err != io.EOF {
				truncated = true
			}
			break
		}
		header := recordHeader(headerBits)
		payloadLen := header.payloadLen()
		if payloadLen < 0 || payloadLen > maxRecordBytes || payloadLen%4 != 0 {
			truncated = true
			break
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(br, payload); err != nil {
			truncated = true
			break
		}
		if !applyRecord(st, header.kind(), payload) {
			truncated = true
			break
		}
		consumed += 4 + payloadLen
	}
	return &parseResult{state: st, truncated: truncated, consumedBytes: consumed}, nil
}

// applyRecord replays one record's payload into st, returning false if
// the record is structurally invalid (st is left as it was before the
// call in that case; the caller stops reading).
func applyRecord(st *state, kind recordKind, payload []byte) bool {
	id := st.recordCount
	switch kind {
	case kindPath:
		st.appendPathRecord(decodePathPayload(payload))
		return true

	case kindCreatedDir:
		if len(payload) != 4 {
			return false
		}
		refID := decodeCreatedDirPayload(payload)
		path, ok := st.resolvePathID(refID, id)
		if !ok {
			return false
		}
		st.createdDirRecordID[path] = id
		st.pathByCreatedDirRecordID[id] = path
		st.appendNonPathRecord()
		return true

	case kindInvocation:
		identity, outs, ins, ok := decodeInvocationPayload(payload)
		if !ok {
			return false
		}
		// An empty list stays nil, so an Entry written without inputs
		// or outputs replays exactly as it was written.
		var entry Entry
		if len(outs) > 0 {
			entry.Outputs = make([]FileFingerprint, len(outs))
		}
		if len(ins) > 0 {
			entry.Inputs = make([]FileFingerprint, len(ins))
		}
		for i, e := range outs {
			path, ok := st.resolvePathID(e.pathRecordID, id)
			if !ok {
				return false
			}
			entry.Outputs[i] = FileFingerprint{Path: path, Fingerprint: e.fp}
		}
		for i, e := range ins {
			path, ok := st.resolvePathID(e.pathRecordID, id)
			if !ok {
				return false
			}
			entry.Inputs[i] = FileFingerprint{Path: path, Fingerprint: e.fp}
		}
		st.invocations[identity] = entry
		st.appendNonPathRecord()
		return true

	case kindDeleted:
		dk, ok := classifyDeletedPayload(payload)
		if !ok {
			return false
		}
		switch dk {
		case deletedCreatedDir:
			refID := int(binary.LittleEndian.Uint32(payload))
			if refID < 0 || refID >= id {
				return false
			}
			path, ok := st.pathByCreatedDirRecordID[refID]
			if !ok {
				return false
			}
			if st.createdDirRecordID[path] == refID {
				delete(st.createdDirRecordID, path)
			}
		case deletedInvocation:
			var identity fingerprint.Hash
			copy(identity[:], payload)
			delete(st.invocations, identity)
		}
		st.appendNonPathRecord()
		return true

	default:
		return false
	}
}
