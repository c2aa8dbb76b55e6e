// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStopCmd creates the `fastlanectl stop` command.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <task_id> <job_id>",
		Short: "Stop a Job's running Execution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFrom(cmd)
			if err != nil {
				return err
			}

			if err := client.StopJob(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "stop requested")
			return nil
		},
	}
}
