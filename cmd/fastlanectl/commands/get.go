// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package commands

import (
	"github.com/spf13/cobra"
)

// newGetCmd creates the `fastlanectl get` command.
func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task_id> <job_id>",
		Short: "Show one Job's detail, including its Execution history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFrom(cmd)
			if err != nil {
				return err
			}

			job, err := client.GetJob(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			return printJSON(cmd, job)
		},
	}
}
