// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fingerprint

import (
	"context"

	"golang.org/x/sync/errgroup"

	"shuriken.build/shk/fsys"
	"shuriken.build/shk/runtimex"
)

// RefreshItem is one (path, prior fingerprint) pair queued for a
// should_update refresh after a build step completes.
type RefreshItem struct {
	Path string
	Old  Fingerprint
}

// RefreshBatch recomputes every item's fingerprint concurrently,
// bounded at runtimex.NumCPU() workers, and returns the refreshed
// fingerprints in the same order as items.
//
// Grounded on hashfs/digester.go's worker pool, simplified from its
// lazy background-queue design (digester.start/worker/lazyCompute) to
// a straightforward bounded parallel-for: refreshing should_update
// fingerprints after a build is not on hashfs's hot per-syscall path,
// it happens once per completed step, so a simple errgroup suffices.
func RefreshBatch(ctx context.Context, fs fsys.FileSystem, now int64, items []RefreshItem) ([]Fingerprint, error) {
	out := make([]Fingerprint, len(items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtimex.NumCPU())
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fp, err := Take(fs, now, item.Path)
			if err != nil {
				return err
			}
			out[i] = fp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
