// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build !linux

package main

import "fmt"

// readLoadAverage has no portable source on non-Linux platforms in
// this tree; LimitedRunner only calls it when -l is nonzero, so the
// default (-l 0) never touches this path.
func readLoadAverage() (float64, error) {
	return 0, fmt.Errorf("load average reporting is not implemented on this platform")
}
