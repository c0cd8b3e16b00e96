// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package dirty computes, for a single build step, whether it must be
// re-executed — comparing the invocation log's last-recorded
// fingerprints for that step's identity against the live filesystem,
// never against the manifest's declared inputs directly. That is what
// lets a step's actually-observed inputs (a superset of what it
// declares) participate in the dirtiness decision.
//
// Grounded on the teacher's build/deps.go and build/mtimecheck.go (the
// "recheck the prior invocation's recorded deps against the current
// filesystem" shape siso itself uses to decide whether a restat-style
// rebuild can be skipped), reduced to the spec's single-step algorithm
// and backed directly by the fingerprint package's racy-stat matcher.
package dirty

import (
	"shuriken.build/shk/fingerprint"
	"shuriken.build/shk/fsys"
	"shuriken.build/shk/invocationlog"
)

// RefreshCandidate is a fingerprint the analyzer recommends rewriting
// to the invocation log even though the step did not run, because
// checking it required a content hash recomputation that a cheap stat
// won't need to repeat next time.
type RefreshCandidate struct {
	Path        string
	Fingerprint fingerprint.Fingerprint
}

// Analysis is the verdict for one step.
type Analysis struct {
	Dirty     bool
	ToRefresh []RefreshCandidate
}

// Analyze decides whether the step identified by identity must be
// re-run, consulting log for its last recorded invocation and fs for
// the live state of the files that invocation touched.
func Analyze(fs fsys.FileSystem, log invocationlog.Log, identity fingerprint.Hash) (Analysis, error) {
	prior, ok := log.Lookup(identity)
	if !ok {
		return Analysis{Dirty: true}, nil
	}

	type checked struct {
		path string
		fp   fingerprint.Fingerprint
		res  fingerprint.MatchesResult
	}
	all := make([]checked, 0, len(prior.Outputs)+len(prior.Inputs))
	dirty := false

	for _, f := range prior.Outputs {
		res, err := fingerprint.Matches(fs, f.Path, f.Fingerprint)
		if err != nil {
			return Analysis{}, err
		}
		if !res.Clean {
			dirty = true
		}
		all = append(all, checked{path: f.Path, fp: f.Fingerprint, res: res})
	}
	for _, f := range prior.Inputs {
		res, err := fingerprint.Matches(fs, f.Path, f.Fingerprint)
		if err != nil {
			return Analysis{}, err
		}
		if !res.Clean {
			dirty = true
		}
		all = append(all, checked{path: f.Path, fp: f.Fingerprint, res: res})
	}

	if dirty {
		return Analysis{Dirty: true}, nil
	}

	var toRefresh []RefreshCandidate
	for _, c := range all {
		if c.res.ShouldUpdate {
			toRefresh = append(toRefresh, RefreshCandidate{Path: c.path, Fingerprint: c.fp})
		}
	}
	return Analysis{Dirty: false, ToRefresh: toRefresh}, nil
}
