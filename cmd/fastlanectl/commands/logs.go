// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newLogsCmd creates the `fastlanectl logs` command.
func newLogsCmd() *cobra.Command {
	var stream string

	cmd := &cobra.Command{
		Use:   "logs <task_id> <job_id>",
		Short: "Print the last Execution's captured log tail",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFrom(cmd)
			if err != nil {
				return err
			}

			out, err := client.Logs(cmd.Context(), args[0], args[1], stream)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&stream, "stream", "logs", `which stream to print: "stdout", "stderr", or "logs" for combined`)

	return cmd
}
