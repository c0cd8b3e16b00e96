// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package invocationlog

import (
	"encoding/binary"

	"shuriken.build/shk/fingerprint"
)

// fileMagic and formatVersion make up the on-disk header. Any mismatch
// (wrong magic, wrong version) causes the reader to treat the file as
// empty, matching a from-scratch log rather than a hard error.
const (
	fileMagic      = "# shkinvocationlog\n"
	formatVersion  = int32(1)
	headerSize     = len(fileMagic) + 4
	maxRecordBytes = 1<<30 - 1
)

type recordKind uint32

const (
	kindPath recordKind = iota
	kindCreatedDir
	kindInvocation
	kindDeleted
)

const kindBits = 2
const kindMask = uint32(1)<<kindBits - 1

// recordHeader packs a record's kind into the low 2 bits and its
// payload length (always a multiple of 4) into the rest.
type recordHeader uint32

func encodeHeader(kind recordKind, payloadLen int) recordHeader {
	return recordHeader(uint32(payloadLen)<<kindBits | (uint32(kind) & kindMask))
}

func (h recordHeader) kind() recordKind { return recordKind(uint32(h) & kindMask) }
func (h recordHeader) payloadLen() int  { return int(uint32(h) >> kindBits) }

// fingerprintSize is the fixed on-disk width of an encoded Fingerprint.
// It must be a multiple of 4 so every record built from it stays
// 4-byte aligned without extra padding.
const fingerprintSize = 8 + 8 + 4 + 8 + 8 + 4 + 8 + sha1Size

const sha1Size = 20

func encodeFingerprint(buf []byte, fp fingerprint.Fingerprint) {
	binary.LittleEndian.PutUint64(buf[0:8], fp.Stat.Size)
	binary.LittleEndian.PutUint64(buf[8:16], fp.Stat.Inode)
	binary.LittleEndian.PutUint32(buf[16:20], fp.Stat.Mode)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(fp.Stat.MtimeSec))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(fp.Stat.CtimeSec))
	exists := uint32(0)
	if fp.Stat.Exists {
		exists = 1
	}
	binary.LittleEndian.PutUint32(buf[36:40], exists)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(fp.TimestampTaken))
	copy(buf[48:48+sha1Size], fp.ContentHash[:])
}

func decodeFingerprint(buf []byte) fingerprint.Fingerprint {
	var fp fingerprint.Fingerprint
	fp.Stat.Size = binary.LittleEndian.Uint64(buf[0:8])
	fp.Stat.Inode = binary.LittleEndian.Uint64(buf[8:16])
	fp.Stat.Mode = binary.LittleEndian.Uint32(buf[16:20])
	fp.Stat.MtimeSec = int64(binary.LittleEndian.Uint64(buf[20:28]))
	fp.Stat.CtimeSec = int64(binary.LittleEndian.Uint64(buf[28:36]))
	fp.Stat.Exists = binary.LittleEndian.Uint32(buf[36:40]) != 0
	fp.TimestampTaken = int64(binary.LittleEndian.Uint64(buf[40:48]))
	copy(fp.ContentHash[:], buf[48:48+sha1Size])
	return fp
}

func align4(n int) int { return (n + 3) &^ 3 }

func encodePathPayload(path string) []byte {
	raw := len(path) + 1 // NUL terminator.
	padded := align4(raw)
	buf := make([]byte, padded)
	copy(buf, path)
	return buf
}

func decodePathPayload(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

func encodeCreatedDirPayload(pathRecordID int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(pathRecordID))
	return buf
}

func decodeCreatedDirPayload(buf []byte) int {
	return int(binary.LittleEndian.Uint32(buf))
}

// invocationFileEntry is one (path record id, fingerprint) pair as it
// appears in an Invocation record's output or input list.
type invocationFileEntry struct {
	pathRecordID int
	fp           fingerprint.Fingerprint
}

const invocationFileEntrySize = 4 + fingerprintSize

func encodeInvocationPayload(identity fingerprint.Hash, outputs, inputs []invocationFileEntry) []byte {
	size := sha1Size + 4 + len(outputs)*invocationFileEntrySize + len(inputs)*invocationFileEntrySize
	buf := make([]byte, size)
	copy(buf[0:sha1Size], identity[:])
	binary.LittleEndian.PutUint32(buf[sha1Size:sha1Size+4], uint32(len(outputs)))
	off := sha1Size + 4
	for _, e := range outputs {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(e.pathRecordID))
		encodeFingerprint(buf[off+4:off+4+fingerprintSize], e.fp)
		off += invocationFileEntrySize
	}
	for _, e := range inputs {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(e.pathRecordID))
		encodeFingerprint(buf[off+4:off+4+fingerprintSize], e.fp)
		off += invocationFileEntrySize
	}
	return buf
}

// decodeInvocationPayload parses an Invocation payload. ok is false if
// the payload is malformed (too short, or a length inconsistent with
// the declared output count), signaling the caller to truncate.
func decodeInvocationPayload(buf []byte) (identity fingerprint.Hash, outputs, inputs []invocationFileEntry, ok bool) {
	if len(buf) < sha1Size+4 {
		return identity, nil, nil, false
	}
	copy(identity[:], buf[0:sha1Size])
	outputCount := int(binary.LittleEndian.Uint32(buf[sha1Size : sha1Size+4]))
	off := sha1Size + 4
	rest := len(buf) - off
	if outputCount < 0 || outputCount*invocationFileEntrySize > rest {
		return identity, nil, nil, false
	}
	if rest%invocationFileEntrySize != 0 {
		return identity, nil, nil, false
	}
	total := rest / invocationFileEntrySize
	inputCount := total - outputCount
	if inputCount < 0 {
		return identity, nil, nil, false
	}
	outputs = make([]invocationFileEntry, outputCount)
	for i := 0; i < outputCount; i++ {
		outputs[i].pathRecordID = int(binary.LittleEndian.Uint32(buf[off : off+4]))
		outputs[i].fp = decodeFingerprint(buf[off+4 : off+4+fingerprintSize])
		off += invocationFileEntrySize
	}
	inputs = make([]invocationFileEntry, inputCount)
	for i := 0; i < inputCount; i++ {
		inputs[i].pathRecordID = int(binary.LittleEndian.Uint32(buf[off : off+4]))
		inputs[i].fp = decodeFingerprint(buf[off+4 : off+4+fingerprintSize])
		off += invocationFileEntrySize
	}
	return identity, outputs, inputs, true
}

// deletedKind distinguishes the two shapes a Deleted record's payload
// can take, disambiguated purely by length.
type deletedKind int

const (
	deletedCreatedDir deletedKind = iota // payload: 4-byte record id.
	deletedInvocation                    // payload: sha1Size-byte step identity.
)

func encodeDeletedCreatedDirPayload(recordID int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(recordID))
	return buf
}

func encodeDeletedInvocationPayload(identity fingerprint.Hash) []byte {
	buf := make([]byte, sha1Size)
	copy(buf, identity[:])
	return buf
}

func classifyDeletedPayload(buf []byte) (deletedKind, bool) {
	switch len(buf) {
	case 4:
		return deletedCreatedDir, true
	case sha1Size:
		return deletedInvocation, true
	default:
		return 0, false
	}
}
