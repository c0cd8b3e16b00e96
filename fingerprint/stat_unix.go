// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build unix

package fingerprint

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

// platformStat extracts the Stat-subset fields from a *syscall.Stat_t
// by way of golang.org/x/sys/unix, the same field set hashfs's
// isHardlink check reads off of syscall.Stat_t. Fakes (such as
// fsys.MemFS) that expose Ino()/CtimeSec() directly take priority so
// tests can drive the algorithm without a real filesystem.
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
		return base
	}
	if st, ok := info.Sys().(*unix.Stat_t); ok {
		base.Inode = st.Ino
		base.CtimeSec = int64(st.Ctim.Sec)
	}
	return base
}
