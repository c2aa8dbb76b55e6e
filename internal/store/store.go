// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package store defines the Store interface the core consumes (spec §6)
// and the errors its implementations return. The document-store
// implementation lives in store/mongo; store/memstore is an in-memory
// fake used by core unit tests; store/audit is a GORM-backed side store
// for lifecycle audit rows, not the system of record.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/fastlane-run/fastlane/internal/model"
)

// ErrNotFound is returned when a Task or Job lookup finds no record.
var ErrNotFound = errors.New("store: not found")

// ErrVersionConflict is returned by UpdateJob when the caller's expected
// version no longer matches the stored Job, i.e. another writer won the
// compare-and-set race. Spec §5: "a losing writer observes the new
// status and becomes a no-op."
var ErrVersionConflict = errors.New("store: version conflict")

// Store is the durable system of record for Tasks, Jobs, and
// Executions. Spec §1 names it an external collaborator; the core only
// depends on this interface.
type Store interface {
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
	ListTasks(ctx context.Context) ([]*model.Task, error)

	CreateJob(ctx context.Context, j *model.Job) error
	// UpdateJob persists j only if the stored Job's Version equals
	// expectedVersion, then increments the stored Version. Returns
	// ErrVersionConflict on a losing race.
	UpdateJob(ctx context.Context, j *model.Job, expectedVersion int) error
	GetJob(ctx context.Context, taskID, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, taskID string) ([]*model.Job, error)
	// ListDueJobs returns scheduled Jobs whose next trigger is <= now.
	ListDueJobs(ctx context.Context, now time.Time) ([]*model.Job, error)
	// ListNonTerminalExecutions returns every Job that currently has a
	// non-terminal Execution, for the Healer's startup sweep.
	ListNonTerminalExecutions(ctx context.Context) ([]*model.Job, error)

	// AppendExecution appends e to the named Job's Executions, enforcing
	// the "at most one non-terminal Execution per Job" invariant.
	AppendExecution(ctx context.Context, jobID string, e model.Execution) error
	// CompareAndSetExecutionStatus transitions the Execution executionID
	// of jobID from "from" to "to" iff its current status equals "from".
	// Returns (false, nil) on a losing race, never an error, so replay
	// of a stale message is a clean no-op (spec §4.6, §5).
	CompareAndSetExecutionStatus(ctx context.Context, jobID, executionID string, from, to model.ExecutionStatus) (bool, error)
	// UpdateExecution persists the full content of an Execution record
	// (e.g. container_id, logs, exit_code) without a status CAS.
	UpdateExecution(ctx context.Context, jobID string, e model.Execution) error

	// CountRunningByHost returns the number of Executions currently in
	// ExecRunning on the given container host, for Dispatcher selection.
	CountRunningByHost(ctx context.Context, host string) (int, error)
}
