// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build linux

package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"shuriken.build/shk/clog"
)

var (
	straceOnce sync.Once
	stracePath string
)

func straceAvailable() bool {
	straceOnce.Do(func() {
		var err error
		stracePath, err = exec.LookPath("strace")
		if err != nil {
			fmt.Fprintf(os.Stderr, "runner: strace not found, falling back to declared inputs/outputs: %v\n", err)
		}
	})
	return stracePath != ""
}

var traceSeq atomic.Int64

// straceTracer observes file accesses by running the command under
// `strace -f -e trace=file` and parsing the resulting log, falling
// back to the declared tracer when strace isn't on PATH.
//
// Grounded on toolsupport/straceutil.Strace: the trace-file-per-invocation
// plumbing and the syscall-line parser (scanStraceData/parseTraceLine)
// are ported directly from it, folded into this package instead of
// living on as a separate donor package since nothing else in the
// tree has any use for strace output parsing.
type straceTracer struct{}

// NewPlatformTracer returns the best available Tracer for this
// platform: strace on Linux when present, the declared-paths fallback
// otherwise.
func NewPlatformTracer() Tracer {
	if !straceAvailable() {
		return NewDeclaredTracer()
	}
	return &straceTracer{}
}

func (t *straceTracer) Wrap(ctx context.Context, cmd Command) ([]string, func() ([]string, []string, error)) {
	id := fmt.Sprintf("%s-%d", cmd.ID, traceSeq.Add(1))
	st := newStraceProcess(ctx, id, cmd.Argv, cmd.Dir)
	argv := st.args()
	return argv, func() ([]string, []string, error) {
		defer st.close()
		inputs, outputs, err := st.postProcess()
		if err != nil {
			return cmd.DeclaredInputs, cmd.DeclaredOutputs, nil
		}
		return inputs, outputs, nil
	}
}

// straceProcess tracks one command run under strace: the argv it
// rewrites the command to, and the temp file strace writes its trace
// to, which postProcess reads back and parses.
type straceProcess struct {
	ctx  context.Context
	argv []string
	dir  string

	fname string
}

func newStraceProcess(ctx context.Context, id string, argv []string, dir string) *straceProcess {
	return &straceProcess{
		ctx:   ctx,
		argv:  argv,
		dir:   dir,
		fname: filepath.Join(os.TempDir(), fmt.Sprintf("%s.trace", id)),
	}
}

func (s *straceProcess) close() {
	if err := os.Remove(s.fname); err != nil {
		clog.Warningf(s.ctx, "runner: removing strace output %s: %v", s.fname, err)
	}
}

// args returns the argv to exec in place of the command's own: the
// command wrapped in a strace invocation that traces file-related
// syscalls into s.fname.
func (s *straceProcess) args() []string {
	argv := []string{
		stracePath,
		"-f",
		"-e", "trace=file",
		"-o", s.fname,
	}
	return append(argv, s.argv...)
}

// postProcess reads the strace output file and returns the inputs and
// outputs the command touched. For every input that is a symlink, its
// target is added as a further input (the link itself stays listed,
// and a target that is itself a link is followed in turn). Paths may
// be absolute or relative to s.dir.
func (s *straceProcess) postProcess() (inputs, outputs []string, err error) {
	b, err := os.ReadFile(s.fname)
	if err != nil {
		return nil, nil, err
	}
	inputs, outputs = scanStraceData(s.ctx, b)
	for i := 0; i < len(inputs); i++ {
		target, err := os.Readlink(filepath.Join(s.dir, inputs[i]))
		if err == nil {
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(inputs[i]), target)
			}
			inputs = append(inputs, target)
		}
	}
	sort.Strings(inputs)
	sort.Strings(outputs)
	return inputs, outputs, nil
}

// scanStraceData walks strace's "file" trace lines and classifies
// every path touched as an input or an output, tracking renames,
// links and deletes as it goes so a path that starts as an output
// (e.g. a temp file later renamed into place) isn't also reported as
// an input.
func scanStraceData(ctx context.Context, buf []byte) ([]string, []string) {
	var inputs []string
	var outputs []string
	iseen := make(map[string]bool)
	oseen := make(map[string]bool)
	for len(buf) > 0 {
		var line []byte
		line, buf = nextTraceLine(buf)
		syscall, fnames, wr := parseTraceLine(ctx, line)
		if len(fnames) == 0 || fnames[0] == "" || fnames[0] == "." {
			continue
		}
		if strings.HasPrefix(fnames[0], "/proc/") || strings.HasPrefix(fnames[0], "/dev/") {
			continue
		}
		if !wr {
			if iseen[fnames[0]] || oseen[fnames[0]] {
				continue
			}
			inputs = append(inputs, fnames[0])
			iseen[fnames[0]] = true
			continue
		}
		switch syscall {
		case "rename", "renameat":
			outputs = removeString(outputs, fnames[0])
			if !oseen[fnames[1]] {
				outputs = append(outputs, fnames[1])
				oseen[fnames[1]] = true
			}
			for _, fname := range fnames {
				if iseen[fname] {
					inputs = removeString(inputs, fname)
				}
			}
		case "linkat":
			if !iseen[fnames[0]] {
				inputs = append(inputs, fnames[0])
				iseen[fnames[0]] = true
			}
			if !oseen[fnames[1]] {
				outputs = append(outputs, fnames[1])
				oseen[fnames[1]] = true
			}
			if iseen[fnames[1]] {
				inputs = removeString(inputs, fnames[1])
			}
		case "unlink", "unlinkat":
			outputs = removeString(outputs, fnames[0])
		default:
			if !oseen[fnames[0]] {
				outputs = append(outputs, fnames[0])
				oseen[fnames[0]] = true
				if iseen[fnames[0]] {
					inputs = removeString(inputs, fnames[0])
				}
			}
		}
	}
	return inputs, outputs
}

func removeString(ss []string, s string) []string {
	var out []string
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func nextTraceLine(buf []byte) (line, remain []byte) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return buf, nil
	}
	return buf[:i], buf[i+1:]
}

// parseTraceLine parses one line of `strace -f -e trace=file` output,
// e.g. `1234 openat(AT_FDCWD, "foo.c", O_RDONLY) = 3`, returning the
// syscall name, the path argument(s) it names, and whether the
// syscall is one that writes its path rather than just reading it.
// Lines with a negative (failed) return value are ignored; there is
// no portable way to ask strace for successful calls only across the
// strace versions this has to support.
func parseTraceLine(ctx context.Context, line []byte) (syscall string, fnames []string, wr bool) {
	i := bytes.LastIndexByte(line, '=')
	if i < 0 {
		return "", nil, false
	}
	ret := bytes.TrimSpace(line[i+1:])
	if bytes.HasPrefix(ret, []byte{'-'}) {
		return "", nil, false
	}

	i = bytes.IndexByte(line, ' ')
	if i < 0 {
		return "", nil, false
	}
	buf := line[i+1:]
	i = bytes.IndexByte(buf, '(')
	if i < 0 {
		return "", nil, false
	}
	syscall = string(bytes.TrimSpace(buf[:i]))
	buf = buf[i+1:]
	switch syscall {
	case "access", "chdir", "execve", "lstat", "readlink", "stat", "statfs", "listxattr":
		fname, _ := extractTracePath(buf, false)
		return syscall, []string{fname}, false

	case "faccessat", "faccessat2", "newfstatat", "readlinkat", "statx":
		fname, _ := extractTracePath(buf, true)
		return syscall, []string{fname}, false

	case "creat", "unlink", "chmod", "chown", "mkdir", "rmdir":
		fname, _ := extractTracePath(buf, false)
		return syscall, []string{fname}, true

	case "symlink", "link":
		_, buf := extractTracePath(buf, false)
		buf = bytes.TrimPrefix(buf, []byte(", "))
		targetName, _ := extractTracePath(buf, false)
		return syscall, []string{targetName}, true

	case "open":
		fname, buf := extractTracePath(buf, false)
		return syscall, []string{fname}, !bytes.Contains(buf, []byte("O_RDONLY"))

	case "openat":
		fname, buf := extractTracePath(buf, true)
		return syscall, []string{fname}, !bytes.Contains(buf, []byte("O_RDONLY"))

	case "unlinkat", "mkdirat":
		fname, _ := extractTracePath(buf, true)
		return syscall, []string{fname}, true

	case "rename":
		oldname, buf := extractTracePath(buf, false)
		buf = bytes.TrimPrefix(buf, []byte(", "))
		newname, _ := extractTracePath(buf, false)
		return syscall, []string{oldname, newname}, true

	case "linkat", "renameat":
		oldname, buf := extractTracePath(buf, true)
		buf = bytes.TrimPrefix(buf, []byte(", "))
		newname, _ := extractTracePath(buf, true)
		return syscall, []string{oldname, newname}, true

	case "utimensat", "getcwd", "????":
		return syscall, nil, false
	default:
		clog.Warningf(ctx, "runner: unrecognized strace syscall %q", syscall)
		return syscall, nil, false
	}
}

// extractTracePath reads a double-quoted path argument from the front
// of buf, optionally skipping a leading dirfd argument (e.g.
// AT_FDCWD,) first, and returns it along with the remainder of buf.
func extractTracePath(buf []byte, skipAt bool) (string, []byte) {
	if skipAt {
		i := bytes.IndexByte(buf, ',')
		if i < 0 {
			return "", buf
		}
		buf = buf[i+1:]
	}
	buf = bytes.TrimSpace(buf)
	if len(buf) == 0 || buf[0] != '"' {
		return "", nil
	}
	buf = buf[1:]
	i := bytes.IndexByte(buf, '"')
	if i < 0 {
		return "", nil
	}
	return string(buf[:i]), buf[i+1:]
}
