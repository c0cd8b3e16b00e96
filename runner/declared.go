// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runner

import "context"

// declaredTracer is the fallback used whenever strace isn't available
// (non-Linux, or strace missing from PATH): it runs the command
// unmodified and reports its declared inputs/outputs as observed,
// since nothing actually watched the syscalls.
type declaredTracer struct{}

// NewDeclaredTracer returns a Tracer that trusts the manifest's
// declared inputs/outputs instead of observing them.
func NewDeclaredTracer() Tracer { return declaredTracer{} }

func (declaredTracer) Wrap(ctx context.Context, cmd Command) ([]string, func() ([]string, []string, error)) {
	return cmd.Argv, func() ([]string, []string, error) {
		return cmd.DeclaredInputs, cmd.DeclaredOutputs, nil
	}
}
