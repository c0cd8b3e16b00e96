// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build !linux

package runner

// NewPlatformTracer returns the best available Tracer for this
// platform. strace-based tracing only exists on Linux; everywhere
// else falls back to trusting declared inputs/outputs.
func NewPlatformTracer() Tracer { return NewDeclaredTracer() }
