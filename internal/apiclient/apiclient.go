// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package apiclient is a thin resty-backed HTTP client over
// internal/api's route table, the same client.R() usage
// app/job/monitor/ip.go and internal/notify/webhook use, giving
// cmd/fastlanectl a single place that knows the wire shape of
// requests/responses instead of every subcommand building its own.
package apiclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/fastlane-run/fastlane/internal/model"
)

// Client talks to a running fastlane HTTP API over a bearer token.
type Client struct {
	http *resty.Client
}

// New creates a Client against baseURL, authenticating every request
// with token.
//
// Parameters:
//   - baseURL: e.g. "http://localhost:8080".
//   - token: bearer token issued by the service's authn.Issuer.
//
// Returns:
//   - *Client: ready-to-use client.
func New(baseURL, token string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Authorization", token).
			SetHeader("Content-Type", "application/json"),
	}
}

// envelope mirrors internal/api's {"code":...,"data":...} response
// shape.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Submission is the JSON body submitted to create or update a Job,
// matching internal/api's submission struct field-for-field.
type Submission struct {
	Image      string              `json:"image"`
	Command    []string            `json:"command,omitempty"`
	Envs       map[string]string   `json:"envs,omitempty"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
	Retries    int                 `json:"retries,omitempty"`
	Timeout    time.Duration       `json:"timeout,omitempty"`
	Expiration *time.Time          `json:"expiration,omitempty"`
	StartAt    *time.Time          `json:"startAt,omitempty"`
	StartIn    time.Duration       `json:"startIn,omitempty"`
	Cron       string              `json:"cron,omitempty"`
	Notify     model.NotifyTargets `json:"notify,omitempty"`
}

// CreateJob submits sub as a new Job under taskID.
//
// Parameters:
//   - ctx: request context.
//   - taskID: task the Job is created under.
//   - sub: submission payload.
//
// Returns:
//   - *model.Job: the created Job, as returned by the API.
//   - error: transport, non-2xx status, or decode error.
func (c *Client) CreateJob(ctx context.Context, taskID string, sub Submission) (*model.Job, error) {
	var job model.Job
	if err := c.doJSON(ctx, "POST", "/fastlane/tasks/"+taskID, sub, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJob replaces a non-running Job's spec/schedule.
func (c *Client) UpdateJob(ctx context.Context, taskID, jobID string, sub Submission) (*model.Job, error) {
	var job model.Job
	if err := c.doJSON(ctx, "PUT", "/fastlane/tasks/"+taskID+"/jobs/"+jobID, sub, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches one Job's detail.
func (c *Client) GetJob(ctx context.Context, taskID, jobID string) (*model.Job, error) {
	var job model.Job
	if err := c.doJSON(ctx, "GET", "/fastlane/tasks/"+taskID+"/jobs/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListTasks fetches every known Task.
func (c *Client) ListTasks(ctx context.Context) ([]*model.Task, error) {
	var tasks []*model.Task
	if err := c.doJSON(ctx, "GET", "/fastlane/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// StopJob requests a running Job's current Execution be stopped.
func (c *Client) StopJob(ctx context.Context, taskID, jobID string) error {
	return c.doJSON(ctx, "POST", "/fastlane/tasks/"+taskID+"/jobs/"+jobID+"/stop", nil, nil)
}

// RetryJob forces a terminal Job to run again. The retry route
// acknowledges with a bare status code, not a Job body, so callers
// that need the updated Job should follow up with GetJob.
func (c *Client) RetryJob(ctx context.Context, taskID, jobID string) error {
	return c.doJSON(ctx, "POST", "/fastlane/tasks/"+taskID+"/jobs/"+jobID+"/retry", nil, nil)
}

// Logs fetches one stream ("stdout", "stderr", or "logs" for
// combined) of the last Execution. Unlike the other routes, this one
// is served as a plain-text body rather than the {"code","data"}
// envelope, matching internal/api's readStream handler.
func (c *Client) Logs(ctx context.Context, taskID, jobID, stream string) (string, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/fastlane/tasks/" + taskID + "/jobs/" + jobID + "/" + stream)
	if err != nil {
		return "", errors.Wrap(err, "apiclient: get logs")
	}
	if resp.IsError() {
		return "", errors.Errorf("apiclient: get logs: status %d", resp.StatusCode())
	}
	return string(resp.Body()), nil
}

// doJSON issues one request and decodes its envelope's data field into
// out, or returns the server's error message wrapped with its status
// code when the call did not succeed.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "apiclient: %s %s", method, path)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return errors.Wrapf(err, "apiclient: decode response from %s %s", method, path)
	}

	if resp.IsError() {
		return errors.Errorf("apiclient: %s %s: %s (code %d)", method, path, env.Message, env.Code)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}

	return errors.Wrap(json.Unmarshal(env.Data, out), "apiclient: decode data")
}
