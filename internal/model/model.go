// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package model defines the durable Task/Job/Execution types that the
// scheduler, dispatcher, runner, and monitor operate on.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

type (
	// Task is a named logical unit shared by many Jobs. Tasks are
	// effectively append-only: a Task lives as long as any Job
	// references its task_id.
	Task struct {
		TaskID         string    `json:"task_id" bson:"task_id"`
		CreatedAt      time.Time `json:"created_at" bson:"created_at"`
		LastModifiedAt time.Time `json:"last_modified_at" bson:"last_modified_at"`
	}

	// ScheduleKind tags the variant carried by Schedule.
	ScheduleKind string

	// Schedule is a tagged variant: immediate jobs run as soon as they
	// are enqueued, "at" jobs run once at a fixed time, and "cron" jobs
	// re-arm themselves after every terminal Execution.
	Schedule struct {
		Kind ScheduleKind `json:"kind" bson:"kind"`

		// When is set only for ScheduleAt.
		When time.Time `json:"when,omitempty" bson:"when,omitempty"`

		// Expr and Next are set only for ScheduleCron.
		Expr string    `json:"expr,omitempty" bson:"expr,omitempty"`
		Next time.Time `json:"next,omitempty" bson:"next,omitempty"`

		// Taken marks a ScheduleAt trigger that has already fired, so the
		// scheduler's due-job sweep does not pick it up a second time.
		Taken bool `json:"taken,omitempty" bson:"taken,omitempty"`
	}

	// NotifyTargets carries the addresses and URLs a Job's terminal
	// state is reported to.
	NotifyTargets struct {
		Emails   []string `json:"emails,omitempty" bson:"emails,omitempty"`
		Webhooks []string `json:"webhooks,omitempty" bson:"webhooks,omitempty"`
	}

	// Spec is the frozen execution request carried by a Job.
	Spec struct {
		Image      string            `json:"image" bson:"image"`
		Command    []string          `json:"command" bson:"command"`
		Envs       map[string]string `json:"envs,omitempty" bson:"envs,omitempty"`
		Metadata   map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
		Retries    int               `json:"retries" bson:"retries"`
		Expiration *time.Time        `json:"expiration,omitempty" bson:"expiration,omitempty"`
		Timeout    time.Duration     `json:"timeout" bson:"timeout"`
		Notify     NotifyTargets     `json:"notify" bson:"notify"`
	}

	// JobStatus is the derived lifecycle state of a Job.
	JobStatus string

	// Job is a single client submission that yields one or more
	// Executions.
	Job struct {
		JobID          string      `json:"job_id" bson:"job_id"`
		TaskID         string      `json:"task_id" bson:"task_id"`
		Spec           Spec        `json:"spec" bson:"spec"`
		Schedule       Schedule    `json:"schedule" bson:"schedule"`
		Executions     []Execution `json:"executions" bson:"executions"`
		Status         JobStatus   `json:"status" bson:"status"`
		SkippedTriggers int        `json:"skipped_triggers" bson:"skipped_triggers"`
		Version        int         `json:"version" bson:"version"`
		CreatedAt      time.Time   `json:"created_at" bson:"created_at"`
		LastModifiedAt time.Time   `json:"last_modified_at" bson:"last_modified_at"`
	}

	// ExecutionStatus is the lifecycle state of one container attempt.
	ExecutionStatus string

	// Execution is one container invocation attempt for a Job.
	Execution struct {
		ExecutionID   string          `json:"execution_id" bson:"execution_id"`
		ContainerID   string          `json:"container_id,omitempty" bson:"container_id,omitempty"`
		ContainerHost string          `json:"container_host,omitempty" bson:"container_host,omitempty"`
		Image         string          `json:"image" bson:"image"`
		Command       []string        `json:"command" bson:"command"`
		Status        ExecutionStatus `json:"status" bson:"status"`
		PollCount     int             `json:"poll_count" bson:"poll_count"`
		StartedAt     *time.Time      `json:"started_at,omitempty" bson:"started_at,omitempty"`
		FinishedAt    *time.Time      `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
		ExitCode      *int            `json:"exit_code,omitempty" bson:"exit_code,omitempty"`
		Stdout        []byte          `json:"stdout,omitempty" bson:"stdout,omitempty"`
		Stderr        []byte          `json:"stderr,omitempty" bson:"stderr,omitempty"`
		Error         string          `json:"error,omitempty" bson:"error,omitempty"`
		StopRequested bool            `json:"stop_requested,omitempty" bson:"stop_requested,omitempty"`
	}
)

const (
	ScheduleImmediate ScheduleKind = "immediate"
	ScheduleAt        ScheduleKind = "at"
	ScheduleCron      ScheduleKind = "cron"
)

const (
	JobEnqueued  JobStatus = "enqueued"
	JobScheduled JobStatus = "scheduled"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobExpired   JobStatus = "expired"
	JobStopped   JobStatus = "stopped"
)

const (
	ExecPulling   ExecutionStatus = "pulling"
	ExecCreated   ExecutionStatus = "created"
	ExecRunning   ExecutionStatus = "running"
	ExecDone      ExecutionStatus = "done"
	ExecFailed    ExecutionStatus = "failed"
	ExecTimedOut  ExecutionStatus = "timedout"
	ExecStopped   ExecutionStatus = "stopped"
	ExecExpired   ExecutionStatus = "expired"
)

// IsTerminal reports whether s is a terminal Execution status.
//
// Returns:
//   - bool: true for done/failed/timedout/stopped/expired.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecDone, ExecFailed, ExecTimedOut, ExecStopped, ExecExpired:
		return true
	default:
		return false
	}
}

// LatestExecution returns a pointer to the Job's most recent Execution,
// or nil when the Job has never been attempted.
//
// Returns:
//   - *Execution: pointer into j.Executions' backing array, or nil.
func (j *Job) LatestExecution() *Execution {
	if len(j.Executions) == 0 {
		return nil
	}
	return &j.Executions[len(j.Executions)-1]
}

// RetryBudget returns how many Executions this Job may still record
// before it must become terminal, per spec.md's "executions length <=
// retries + 1" invariant.
//
// Returns:
//   - int: remaining attempts, including the one about to be recorded.
func (j *Job) RetryBudget() int {
	return j.Spec.Retries + 1 - len(j.Executions)
}

// redactedValue replaces a blacklisted environment variable's value
// wherever a Job is rendered outside the Store.
const redactedValue = "[redacted]"

// RedactEnvs masks Envs entries whose name matches one of blacklist's
// glob patterns (case-insensitive), the env-redaction boundary
// SPEC_FULL names for the HTTP job-detail response: format at the
// boundary, keep the Store's own copy untouched. A Job with no
// matching entries, or an empty blacklist, is returned unchanged.
//
// Parameters:
//   - blacklist: glob patterns (path.Match syntax) matched against
//     env var names, e.g. "*_SECRET", "AWS_*".
//
// Returns:
//   - None. j.Spec.Envs is redacted in place.
func (j *Job) RedactEnvs(blacklist []string) {
	if len(blacklist) == 0 || len(j.Spec.Envs) == 0 {
		return
	}

	for name := range j.Spec.Envs {
		if envNameBlacklisted(name, blacklist) {
			j.Spec.Envs[name] = redactedValue
		}
	}
}

func envNameBlacklisted(name string, blacklist []string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range blacklist {
		if ok, err := filepath.Match(strings.ToLower(pattern), lower); err == nil && ok {
			return true
		}
	}
	return false
}
