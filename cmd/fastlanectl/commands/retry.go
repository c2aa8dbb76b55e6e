// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRetryCmd creates the `fastlanectl retry` command.
func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task_id> <job_id>",
		Short: "Force a terminal Job to run again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFrom(cmd)
			if err != nil {
				return err
			}

			if err := client.RetryJob(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "retry requested")
			return nil
		},
	}
}
