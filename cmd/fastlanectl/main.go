// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Command fastlanectl is an operator CLI for submitting, inspecting,
// stopping, and retrying Jobs against a running fastlane HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/fastlane-run/fastlane/cmd/fastlanectl/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	root := commands.NewRootCmd(version)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
