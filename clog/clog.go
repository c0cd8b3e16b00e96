// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package clog provides context-aware logging for the build engine.
//
// It stores a *Logger on a context.Context so that every log line
// written while handling a step, a log record, or a CLI command carries
// whatever labels (step id, build id, record offset) the caller attached
// to the context, without threading a logger argument through every
// call. The actual sink is github.com/charmbracelet/log.
package clog

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

type contextKeyType int

var contextKey contextKeyType

// New creates a new Logger with no labels attached.
func New(ctx context.Context) *Logger {
	return &Logger{sink: log.Default()}
}

// NewContext returns a context with logger attached.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, contextKey, logger)
}

// NewSpan returns a context whose logger carries the given labels in
// addition to any labels already present.
func NewSpan(ctx context.Context, labels map[string]string) context.Context {
	logger, _ := ctx.Value(contextKey).(*Logger)
	return NewContext(ctx, logger.with(labels))
}

// FromContext returns the logger stored in ctx, or a bare default
// logger if none was ever attached.
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(contextKey).(*Logger)
	if !ok || logger == nil {
		return &Logger{sink: log.Default()}
	}
	return logger
}

// Logger writes log lines with a fixed set of labels.
type Logger struct {
	sink   *log.Logger
	labels map[string]string
}

func (l *Logger) with(labels map[string]string) *Logger {
	sink := log.Default()
	if l != nil && l.sink != nil {
		sink = l.sink
	}
	merged := make(map[string]string, len(labels))
	if l != nil {
		for k, v := range l.labels {
			merged[k] = v
		}
	}
	for k, v := range labels {
		merged[k] = v
	}
	return &Logger{sink: sink, labels: merged}
}

func (l *Logger) kv() []any {
	if l == nil {
		return nil
	}
	kv := make([]any, 0, len(l.labels)*2)
	for k, v := range l.labels {
		kv = append(kv, k, v)
	}
	return kv
}

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) {
	sink := log.Default()
	if l != nil && l.sink != nil {
		sink = l.sink
	}
	sink.With(l.kv()...).Info(fmt.Sprintf(format, args...))
}

// Warningf logs at warning level.
func (l *Logger) Warningf(format string, args ...any) {
	sink := log.Default()
	if l != nil && l.sink != nil {
		sink = l.sink
	}
	sink.With(l.kv()...).Warn(fmt.Sprintf(format, args...))
}

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...any) {
	sink := log.Default()
	if l != nil && l.sink != nil {
		sink = l.sink
	}
	sink.With(l.kv()...).Error(fmt.Sprintf(format, args...))
}

// Fatalf logs at fatal level and exits the process.
func (l *Logger) Fatalf(format string, args ...any) {
	sink := log.Default()
	if l != nil && l.sink != nil {
		sink = l.sink
	}
	sink.With(l.kv()...).Fatal(fmt.Sprintf(format, args...))
}

// Infof logs at info level using the logger attached to ctx.
func Infof(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Infof(format, args...)
}

// Warningf logs at warning level using the logger attached to ctx.
func Warningf(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Warningf(format, args...)
}

// Errorf logs at error level using the logger attached to ctx.
func Errorf(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Errorf(format, args...)
}

// Fatalf logs at fatal level using the logger attached to ctx and exits.
func Fatalf(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Fatalf(format, args...)
}
