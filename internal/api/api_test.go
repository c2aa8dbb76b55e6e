// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastlane-run/fastlane/internal/api/authn"
	"github.com/fastlane-run/fastlane/internal/model"
	"github.com/fastlane-run/fastlane/internal/queue/memqueue"
	"github.com/fastlane-run/fastlane/internal/runtime"
	"github.com/fastlane-run/fastlane/internal/store/memstore"
)

type fakeRuntime struct{}

func (f *fakeRuntime) Pull(ctx context.Context, host, image string) error { return nil }
func (f *fakeRuntime) Create(ctx context.Context, host string, spec runtime.CreateSpec) (string, error) {
	return "", nil
}
func (f *fakeRuntime) Start(ctx context.Context, host, containerID string) error { return nil }
func (f *fakeRuntime) Stop(ctx context.Context, host, containerID string, timeout time.Duration) error {
	return nil
}
func (f *fakeRuntime) Inspect(ctx context.Context, host, containerID string) (runtime.InspectResult, error) {
	return runtime.InspectResult{}, nil
}
func (f *fakeRuntime) Logs(ctx context.Context, host, containerID string) (io.ReadCloser, io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("hello\n")), io.NopCloser(strings.NewReader("")), nil
}
func (f *fakeRuntime) Rename(ctx context.Context, host, containerID, newName string) error { return nil }
func (f *fakeRuntime) List(ctx context.Context, host, namePrefix string) ([]string, error) {
	return nil, nil
}
func (f *fakeRuntime) Remove(ctx context.Context, host, containerID string) error { return nil }

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memstore.New()
	jobsQ := memqueue.New()
	issuer := authn.New("test-secret")
	s := New(st, jobsQ, &fakeRuntime{}, issuer)

	token, err := issuer.IssueToken("client-1", time.Hour)
	require.NoError(t, err)

	return s, token
}

func TestCreateJob_ImmediateJobIsAcceptedAndEnqueued(t *testing.T) {
	s, token := newTestServer(t)
	r := s.Router()

	body := `{"image":"demo:latest","command":["echo","hi"]}`
	req := httptest.NewRequest(http.MethodPost, "/fastlane/tasks/task-1", strings.NewReader(body))
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	n, err := s.Jobs.Len(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCreateJob_MissingAuthIsRejected(t *testing.T) {
	s, _ := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/fastlane/tasks/task-1", strings.NewReader(`{"image":"demo"}`))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateJob_InvalidBodyIsRejected(t *testing.T) {
	s, token := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/fastlane/tasks/task-1", strings.NewReader(`{}`))
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJob_UnknownReturnsNotFound(t *testing.T) {
	s, token := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/fastlane/tasks/task-1/jobs/missing", nil)
	req.Header.Set("Authorization", token)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStopJob_WithoutRunningExecutionIsConflict(t *testing.T) {
	ctx := context.Background()
	s, token := newTestServer(t)
	require.NoError(t, s.Store.CreateJob(ctx, &model.Job{JobID: "job-1", TaskID: "task-1"}))

	r := s.Router()
	req := httptest.NewRequest(http.MethodPost, "/fastlane/tasks/task-1/jobs/job-1/stop", nil)
	req.Header.Set("Authorization", token)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRetryJob_TerminalJobIsRequeuedWithNewStatus(t *testing.T) {
	ctx := context.Background()
	s, token := newTestServer(t)
	require.NoError(t, s.Store.CreateJob(ctx, &model.Job{JobID: "job-1", TaskID: "task-1", Status: model.JobFailed}))
	require.NoError(t, s.Store.AppendExecution(ctx, "job-1", model.Execution{ExecutionID: "e1", Status: model.ExecFailed}))

	r := s.Router()
	req := httptest.NewRequest(http.MethodPost, "/fastlane/tasks/task-1/jobs/job-1/retry", nil)
	req.Header.Set("Authorization", token)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	job, err := s.Store.GetJob(ctx, "task-1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobScheduled, job.Status)

	n, err := s.Jobs.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestListTasks_ReturnsCreatedTask(t *testing.T) {
	ctx := context.Background()
	s, token := newTestServer(t)
	require.NoError(t, s.Store.CreateTask(ctx, &model.Task{TaskID: "task-1"}))

	r := s.Router()
	req := httptest.NewRequest(http.MethodGet, "/fastlane/tasks", nil)
	req.Header.Set("Authorization", token)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Data []model.Task `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "task-1", out.Data[0].TaskID)
}
