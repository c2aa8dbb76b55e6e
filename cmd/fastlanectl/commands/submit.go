// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fastlane-run/fastlane/internal/apiclient"
	"github.com/fastlane-run/fastlane/internal/model"
)

// newSubmitCmd creates the `fastlanectl submit` command, building a
// Submission from flags and posting it to POST /tasks/{task_id}/.
func newSubmitCmd() *cobra.Command {
	var (
		image    string
		command  []string
		envs     map[string]string
		retries  int
		timeout  time.Duration
		startIn  time.Duration
		cronExpr string
		emails   []string
		webhooks []string
	)

	cmd := &cobra.Command{
		Use:   "submit <task_id>",
		Short: "Create a Job under a Task, immediate or scheduled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFrom(cmd)
			if err != nil {
				return err
			}

			sub := apiclient.Submission{
				Image:   image,
				Command: command,
				Envs:    envs,
				Retries: retries,
				Timeout: timeout,
				StartIn: startIn,
				Cron:    cronExpr,
				Notify:  model.NotifyTargets{Emails: emails, Webhooks: webhooks},
			}

			job, err := client.CreateJob(cmd.Context(), args[0], sub)
			if err != nil {
				return err
			}

			return printJSON(cmd, job)
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "container image to run (required)")
	cmd.Flags().StringSliceVar(&command, "command", nil, "container command, comma-separated")
	cmd.Flags().StringToStringVar(&envs, "env", nil, "environment variables, key=value, repeatable")
	cmd.Flags().IntVar(&retries, "retries", 0, "retry budget on failure")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "wall-clock timeout per Execution")
	cmd.Flags().DurationVar(&startIn, "start-in", 0, "delay before the first Execution")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression for recurring Jobs")
	cmd.Flags().StringSliceVar(&emails, "notify-email", nil, "email address notified on terminal state, repeatable")
	cmd.Flags().StringSliceVar(&webhooks, "notify-webhook", nil, "webhook URL notified on terminal state, repeatable")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}

// printJSON writes v to the command's stdout as indented JSON.
func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
