// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastlane-run/fastlane/internal/model"
)

func TestCreateJob_DecodesJobFromEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fastlane/tasks/task-1", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("Authorization"))

		var sub Submission
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
		assert.Equal(t, "demo:latest", sub.Image)

		job, _ := json.Marshal(model.Job{JobID: "job-1", TaskID: "task-1"})
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"code":0,"message":"ok","data":%s}`, job)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token")

	job, err := c.CreateJob(context.Background(), "task-1", Submission{Image: "demo:latest"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.JobID)
}

func TestDoJSON_NonSuccessCodeReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"code":40400,"message":"job not found","data":null}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token")

	_, err := c.GetJob(context.Background(), "task-1", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")
}

func TestStopJob_NoBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fastlane/tasks/task-1/jobs/job-1/stop", r.URL.Path)
		fmt.Fprint(w, `{"code":0,"message":"ok"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token")

	require.NoError(t, c.StopJob(context.Background(), "task-1", "job-1"))
}

func TestLogs_ReturnsRawPlainTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fastlane/tasks/task-1/jobs/job-1/logs", r.URL.Path)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "hello from the container\n")
	}))
	defer srv.Close()

	c := New(srv.URL, "test-token")

	out, err := c.Logs(context.Background(), "task-1", "job-1", "logs")
	require.NoError(t, err)
	assert.Equal(t, "hello from the container\n", out)
}
