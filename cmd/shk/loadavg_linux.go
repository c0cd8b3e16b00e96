// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build linux

package main

import (
	"fmt"
	"os"
)

// readLoadAverage reads the 1-minute load average from /proc/loadavg,
// the same source getloadavg(3) uses on Linux.
func readLoadAverage() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	var one float64
	if _, err := fmt.Sscanf(string(data), "%f", &one); err != nil {
		return 0, fmt.Errorf("parsing /proc/loadavg: %w", err)
	}
	return one, nil
}
