// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"os"

	"github.com/maruel/subcommands"
)

func application() *subcommands.DefaultApplication {
	return &subcommands.DefaultApplication{
		Name:  "shk",
		Title: "shuriken: a correct, fast, Ninja-compatible build executor",
		Commands: []*subcommands.Command{
			cmdBuild(),
			cmdClean(),
			cmdTargets(),
			cmdQuery(),
			cmdDeps(),
			cmdCompDB(),
			cmdRecompact(),
			subcommands.CmdHelp,
		},
	}
}

func main() {
	os.Exit(subcommands.Run(application(), os.Args[1:]))
}
