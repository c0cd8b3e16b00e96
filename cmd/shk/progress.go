// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"fmt"
	"sync"

	"shuriken.build/shk/ui"
)

// spinnerProgress reports step lifecycle events through the process's
// default ui.UI, printing one status line per start and per finish.
// It implements engine.Progress.
type spinnerProgress struct {
	mu      sync.Mutex
	running int
	done    int
}

func newSpinnerProgress() *spinnerProgress {
	return &spinnerProgress{}
}

func (p *spinnerProgress) StepStarted(i int, desc string) {
	p.mu.Lock()
	p.running++
	running := p.running
	p.mu.Unlock()
	ui.Default.PrintLines(fmt.Sprintf("[%d running] %s", running, desc))
}

func (p *spinnerProgress) StepFinished(i int, desc string, skipped bool, err error) {
	if skipped {
		return
	}
	p.mu.Lock()
	p.running--
	p.done++
	done := p.done
	p.mu.Unlock()
	if err != nil {
		ui.Default.PrintLines(fmt.Sprintf("[%d done] FAILED: %s: %v", done, desc, err))
		return
	}
	ui.Default.PrintLines(fmt.Sprintf("[%d done] %s", done, desc))
}
