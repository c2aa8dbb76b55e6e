// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package commands

import (
	"github.com/spf13/cobra"
)

// newListCmd creates the `fastlanectl list` command.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every known Task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFrom(cmd)
			if err != nil {
				return err
			}

			tasks, err := client.ListTasks(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(cmd, tasks)
		},
	}
}
