// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ui

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

var consoleMode uint32

// Init initializes the stdout settings.
// It enables virtual terminal processing for ANSI escape sequence.
func Init() {
	var mode uint32
	err := windows.GetConsoleMode(windows.Handle(os.Stdout.Fd()), &mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ui: GetConsoleMode: %v\n", err)
		return
	}
	consoleMode = mode
	if mode&windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING != 0 {
		return
	}
	mode |= windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING
	if err := windows.SetConsoleMode(windows.Handle(os.Stdout.Fd()), mode); err != nil {
		fmt.Fprintf(os.Stderr, "ui: SetConsoleMode 0x%x: %v\n", mode, err)
	}
}

// Restore restores the stdout settings.
func Restore() {
	if consoleMode == 0 {
		return
	}
	if err := windows.SetConsoleMode(windows.Handle(os.Stdout.Fd()), consoleMode); err != nil {
		fmt.Fprintf(os.Stderr, "ui: SetConsoleMode 0x%x: %v\n", consoleMode, err)
	}
}
