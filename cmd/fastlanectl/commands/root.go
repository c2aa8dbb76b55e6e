// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package commands implements the fastlanectl CLI's subcommands using
// cobra, the same root-command-plus-subcommand shape
// jholhewres-goclaw's copilot CLI uses for its operator-facing
// commands.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fastlane-run/fastlane/internal/apiclient"
)

// NewRootCmd builds the fastlanectl root command with every
// subcommand registered and the --server/--token persistent flags
// every subcommand needs to reach the API.
//
// Parameters:
//   - version: build-time version string.
//
// Returns:
//   - *cobra.Command: ready-to-execute root command.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "fastlanectl",
		Short:   "fastlanectl - operator CLI for the fastlane job runner",
		Version: version,
		Long: `fastlanectl submits, inspects, stops, and retries Jobs against a
running fastlane HTTP API.

Examples:
  fastlanectl submit build --image alpine --command echo,hi
  fastlanectl get build job_01H...
  fastlanectl stop build job_01H...
  fastlanectl retry build job_01H...
  fastlanectl logs build job_01H... --stream stdout`,
	}

	root.PersistentFlags().String("server", envOr("FASTLANE_SERVER", "http://localhost:8080"), "fastlane API base URL")
	root.PersistentFlags().String("token", os.Getenv("FASTLANE_TOKEN"), "bearer token for the fastlane API")

	root.AddCommand(
		newSubmitCmd(),
		newGetCmd(),
		newListCmd(),
		newStopCmd(),
		newRetryCmd(),
		newLogsCmd(),
	)

	return root
}

// envOr returns the named environment variable's value, or def when
// unset.
func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// clientFrom builds an apiclient.Client from the root command's
// persistent --server/--token flags.
func clientFrom(cmd *cobra.Command) (*apiclient.Client, error) {
	server, err := cmd.Root().PersistentFlags().GetString("server")
	if err != nil {
		return nil, err
	}
	token, err := cmd.Root().PersistentFlags().GetString("token")
	if err != nil {
		return nil, err
	}
	return apiclient.New(server, token), nil
}
