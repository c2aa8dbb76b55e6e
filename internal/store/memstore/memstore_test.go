// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastlane-run/fastlane/internal/model"
	"github.com/fastlane-run/fastlane/internal/store"
)

func newJob(id string) *model.Job {
	return &model.Job{
		JobID:  id,
		TaskID: "task-1",
		Status: model.JobEnqueued,
		Spec:   model.Spec{Image: "alpine", Command: []string{"echo", "hi"}, Retries: 1},
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newJob("job-1")
	require.NoError(t, s.CreateJob(ctx, j))
	assert.Equal(t, 1, j.Version)

	got, err := s.GetJob(ctx, "task-1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)
}

func TestUpdateJob_VersionConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("job-1")
	require.NoError(t, s.CreateJob(ctx, j))

	// A losing writer using a stale version must become a no-op error,
	// not corrupt state (spec §5).
	stale := *j
	stale.Status = model.JobRunning
	err := s.UpdateJob(ctx, &stale, 99)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	got, _ := s.GetJob(ctx, "task-1", "job-1")
	assert.Equal(t, model.JobEnqueued, got.Status)
}

func TestAppendExecution_RejectsOverlap(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("job-1")
	require.NoError(t, s.CreateJob(ctx, j))

	require.NoError(t, s.AppendExecution(ctx, "job-1", model.Execution{ExecutionID: "e1", Status: model.ExecRunning}))

	// A Job has at most one Execution in non-terminal state at any time.
	err := s.AppendExecution(ctx, "job-1", model.Execution{ExecutionID: "e2", Status: model.ExecRunning})
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestCompareAndSetExecutionStatus_LosingRaceIsNoOp(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("job-1")
	require.NoError(t, s.CreateJob(ctx, j))
	require.NoError(t, s.AppendExecution(ctx, "job-1", model.Execution{ExecutionID: "e1", Status: model.ExecCreated}))

	ok, err := s.CompareAndSetExecutionStatus(ctx, "job-1", "e1", model.ExecCreated, model.ExecRunning)
	require.NoError(t, err)
	assert.True(t, ok)

	// Delivering the same transition twice must be a clean no-op, never
	// an error (idempotence, spec §8).
	ok, err = s.CompareAndSetExecutionStatus(ctx, "job-1", "e1", model.ExecCreated, model.ExecRunning)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListDueJobs_CronAndAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	cronJob := newJob("cron-1")
	cronJob.Status = model.JobScheduled
	cronJob.Schedule = model.Schedule{Kind: model.ScheduleCron, Expr: "* * * * *", Next: now.Add(-time.Minute)}
	require.NoError(t, s.CreateJob(ctx, cronJob))

	futureJob := newJob("at-future")
	futureJob.Status = model.JobScheduled
	futureJob.Schedule = model.Schedule{Kind: model.ScheduleAt, When: now.Add(time.Hour)}
	require.NoError(t, s.CreateJob(ctx, futureJob))

	due, err := s.ListDueJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "cron-1", due[0].JobID)
}

func TestCountRunningByHost(t *testing.T) {
	s := New()
	ctx := context.Background()

	j1 := newJob("job-1")
	require.NoError(t, s.CreateJob(ctx, j1))
	require.NoError(t, s.AppendExecution(ctx, "job-1", model.Execution{ExecutionID: "e1", Status: model.ExecRunning, ContainerHost: "host-a"}))

	j2 := newJob("job-2")
	require.NoError(t, s.CreateJob(ctx, j2))
	require.NoError(t, s.AppendExecution(ctx, "job-2", model.Execution{ExecutionID: "e2", Status: model.ExecRunning, ContainerHost: "host-a"}))

	count, err := s.CountRunningByHost(ctx, "host-a")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = s.CountRunningByHost(ctx, "host-b")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
