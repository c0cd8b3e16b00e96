// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build !unix

package fingerprint

import "io/fs"

// platformStat is the non-unix fallback: there is no POSIX inode, and
// ctime is approximated from mtime, matching the teacher's
// //go:build windows shims elsewhere (subcmd/ninja/lock_windows.go,
// runtimex/os_windows.go) that accept a narrower view of the world on
// Windows. Fakes that implement syntheticStat still take priority so
// cross-platform tests behave identically.
func platformStat(info fs.FileInfo) Stat {
	base := Stat{
		Size:     uint64(info.Size()),
		Mode:     uint32(info.Mode()),
		MtimeSec: info.ModTime().Unix(),
		CtimeSec: info.ModTime().Unix(),
	}
	if synth, ok := info.(syntheticStat); ok {
		base.Inode = synth.Ino()
		base.CtimeSec = synth.CtimeSec()
	}
	return base
}
