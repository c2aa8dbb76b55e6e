// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package runner

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastlane-run/fastlane/internal/e"
	"github.com/fastlane-run/fastlane/internal/model"
	"github.com/fastlane-run/fastlane/internal/queue/memqueue"
	"github.com/fastlane-run/fastlane/internal/runtime"
	"github.com/fastlane-run/fastlane/internal/store/memstore"
)

type fakeRuntime struct {
	pullErr   error
	createErr error
	startErr  error
	created   string
}

func (f *fakeRuntime) Pull(ctx context.Context, host, image string) error { return f.pullErr }

func (f *fakeRuntime) Create(ctx context.Context, host string, spec runtime.CreateSpec) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = "container-123"
	return f.created, nil
}

func (f *fakeRuntime) Start(ctx context.Context, host, containerID string) error { return f.startErr }

func (f *fakeRuntime) Stop(ctx context.Context, host, containerID string, timeout time.Duration) error {
	return nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, host, containerID string) (runtime.InspectResult, error) {
	return runtime.InspectResult{}, nil
}

func (f *fakeRuntime) Logs(ctx context.Context, host, containerID string) (io.ReadCloser, io.ReadCloser, error) {
	return io.NopCloser(nil), io.NopCloser(nil), nil
}

func (f *fakeRuntime) Rename(ctx context.Context, host, containerID, newName string) error { return nil }

func (f *fakeRuntime) List(ctx context.Context, host, namePrefix string) ([]string, error) {
	return nil, nil
}

func (f *fakeRuntime) Remove(ctx context.Context, host, containerID string) error { return nil }

func newTestJob() *model.Job {
	return &model.Job{
		JobID:  "job-1",
		TaskID: "task-1",
		Spec:   model.Spec{Image: "busybox", Command: []string{"true"}, Envs: map[string]string{"FOO": "bar"}},
	}
}

func TestRun_HappyPathEnqueuesMonitor(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	job := newTestJob()
	require.NoError(t, st.CreateJob(ctx, job))

	q := memqueue.New()
	r := New(st, &fakeRuntime{}, q, nil)

	require.NoError(t, r.Run(ctx, job, "host-a"))

	got, err := st.GetJob(ctx, "", job.JobID)
	require.NoError(t, err)
	require.Len(t, got.Executions, 1)
	exec := got.Executions[0]
	assert.Equal(t, model.ExecRunning, exec.Status)
	assert.Equal(t, "container-123", exec.ContainerID)
	assert.NotNil(t, exec.StartedAt)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRun_PermanentPullFailureMarksExecutionFailed(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	job := newTestJob()
	require.NoError(t, st.CreateJob(ctx, job))

	q := memqueue.New()
	r := New(st, &fakeRuntime{pullErr: e.Classify(e.KindRuntimePermanent, assertErr("image not found"))}, q, nil)

	require.NoError(t, r.Run(ctx, job, "host-a"))

	got, err := st.GetJob(ctx, "", job.JobID)
	require.NoError(t, err)
	require.Len(t, got.Executions, 1)
	assert.Equal(t, model.ExecFailed, got.Executions[0].Status)
	assert.NotEmpty(t, got.Executions[0].Error)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestRun_TransientPullFailurePropagatesForRetry(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	job := newTestJob()
	require.NoError(t, st.CreateJob(ctx, job))

	r := New(st, &fakeRuntime{pullErr: assertErr("connection reset")}, memqueue.New(), nil)

	err := r.Run(ctx, job, "host-a")
	require.Error(t, err)

	got, gErr := st.GetJob(ctx, "", job.JobID)
	require.NoError(t, gErr)
	assert.Equal(t, model.ExecPulling, got.Executions[0].Status)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
