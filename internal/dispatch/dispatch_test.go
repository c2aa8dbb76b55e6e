// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastlane-run/fastlane/internal/model"
	"github.com/fastlane-run/fastlane/internal/store/memstore"
)

func newJob(taskID string) *model.Job {
	return &model.Job{JobID: "job-1", TaskID: taskID, Spec: model.Spec{Image: "busybox"}}
}

func TestSelect_PicksLeastLoadedHost(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	require.NoError(t, ms.CreateTask(ctx, &model.Task{TaskID: "t1"}))
	require.NoError(t, ms.CreateJob(ctx, &model.Job{JobID: "busy", TaskID: "t1", Spec: model.Spec{Image: "busybox"}}))
	require.NoError(t, ms.AppendExecution(ctx, "busy", model.Execution{ExecutionID: "e1", ContainerHost: "host-a", Status: model.ExecRunning}))

	pool := Pool{Name: "default", Match: regexp.MustCompile(".*"), Hosts: []string{"host-a", "host-b"}, MaxRunning: 10}
	d := New(ms, []Pool{pool}, pool)

	host, err := d.Select(ctx, newJob("t1"))
	require.NoError(t, err)
	assert.Equal(t, "host-b", host)
}

func TestSelect_TieBreaksLexicographically(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	pool := Pool{Name: "default", Match: regexp.MustCompile(".*"), Hosts: []string{"host-z", "host-a"}, MaxRunning: 10}
	d := New(ms, []Pool{pool}, pool)

	host, err := d.Select(ctx, newJob("t1"))
	require.NoError(t, err)
	assert.Equal(t, "host-a", host)
}

func TestSelect_SaturatedPoolReturnsErrPoolSaturated(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	require.NoError(t, ms.CreateJob(ctx, &model.Job{JobID: "busy", TaskID: "t1", Spec: model.Spec{Image: "busybox"}}))
	require.NoError(t, ms.AppendExecution(ctx, "busy", model.Execution{ExecutionID: "e1", ContainerHost: "host-a", Status: model.ExecRunning}))

	pool := Pool{Name: "default", Match: regexp.MustCompile(".*"), Hosts: []string{"host-a"}, MaxRunning: 1}
	d := New(ms, []Pool{pool}, pool)

	_, err := d.Select(ctx, newJob("t1"))
	assert.ErrorIs(t, err, ErrPoolSaturated)
}

func TestSelect_DisabledHostExcluded(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	pool := Pool{
		Name:     "default",
		Match:    regexp.MustCompile(".*"),
		Hosts:    []string{"host-a", "host-b"},
		Disabled: map[string]bool{"host-a": true},
	}
	d := New(ms, []Pool{pool}, pool)

	host, err := d.Select(ctx, newJob("t1"))
	require.NoError(t, err)
	assert.Equal(t, "host-b", host)
}

func TestSelect_FallsBackToDefaultPool(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	special := Pool{Name: "special", Match: regexp.MustCompile("^special-"), Hosts: []string{"host-special"}}
	def := Pool{Name: "default", Match: regexp.MustCompile(".*"), Hosts: []string{"host-default"}}
	d := New(ms, []Pool{special, def}, def)

	host, err := d.Select(ctx, newJob("ordinary-task"))
	require.NoError(t, err)
	assert.Equal(t, "host-default", host)
}

func TestCircuitBreaker_TripsAfterThresholdAndCoolsDown(t *testing.T) {
	b := NewCircuitBreaker(2, 10*time.Millisecond)

	assert.False(t, b.Tripped("host-a"))
	b.RecordFailure("host-a")
	assert.False(t, b.Tripped("host-a"))
	b.RecordFailure("host-a")
	assert.True(t, b.Tripped("host-a"))

	time.Sleep(15 * time.Millisecond)
	assert.False(t, b.Tripped("host-a"))
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(2, time.Minute)

	b.RecordFailure("host-a")
	b.RecordSuccess("host-a")
	b.RecordFailure("host-a")
	assert.False(t, b.Tripped("host-a"))
}
