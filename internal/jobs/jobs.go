// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package jobs wires the Dispatcher and Runner into the worker
// handler the "jobs" queue drains, per spec §4.7's routing table
// (Dispatcher -> Runner for jobs).
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sk-pkg/logger"

	"github.com/fastlane-run/fastlane/internal/backoff"
	"github.com/fastlane-run/fastlane/internal/dispatch"
	"github.com/fastlane-run/fastlane/internal/queue"
	"github.com/fastlane-run/fastlane/internal/runner"
	"github.com/fastlane-run/fastlane/internal/store"
)

// item is the body popped from the "jobs" queue, written by the
// Scheduler, the Monitor's retry path, and the Healer's recovery
// sweep alike.
type item struct {
	JobID  string `json:"job_id"`
	TaskID string `json:"task_id"`
}

// Handler dispatches one popped Job to a host and runs it.
type Handler struct {
	Store      store.Store
	Dispatcher *dispatch.Dispatcher
	Runner     *runner.Runner
	Self       queue.Queue // the "jobs" queue itself, for pool-saturation requeue.
	Backoff    backoff.Policy
	Logger     *logger.Manager
}

// New creates a Handler with the pool-saturation back-off policy.
//
// Parameters:
//   - st: durable Store, used to reload the Job by ID.
//   - d: Dispatcher used to select a host.
//   - r: Runner used to execute the Job once a host is selected.
//   - self: the "jobs" queue, for delayed requeue on saturation.
//   - log: logger manager.
//
// Returns:
//   - *Handler: initialized handler.
func New(st store.Store, d *dispatch.Dispatcher, r *runner.Runner, self queue.Queue, log *logger.Manager) *Handler {
	return &Handler{Store: st, Dispatcher: d, Runner: r, Self: self, Backoff: backoff.PoolSaturated(), Logger: log}
}

// Step processes one "jobs" queue message: reload the Job, select a
// host, and run it.
//
// Parameters:
//   - ctx: request context.
//   - body: JSON-encoded item.
//
// Returns:
//   - error: non-nil when the attempt should be retried (transient
//     dispatch/runtime failure); pool saturation, an unknown Job, and a
//     Job whose latest Execution is still in flight are handled
//     internally and return nil so the worker pool
//     acks the message instead of spinning on an immediate release.
func (h *Handler) Step(ctx context.Context, body []byte) error {
	var it item
	if err := json.Unmarshal(body, &it); err != nil {
		return errors.Wrap(err, "jobs: decode item")
	}

	job, err := h.Store.GetJob(ctx, it.TaskID, it.JobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "jobs: load job")
	}

	if exec := job.LatestExecution(); exec != nil && !exec.Status.IsTerminal() {
		return nil
	}

	host, err := h.Dispatcher.Select(ctx, job)
	if err != nil {
		if err == dispatch.ErrPoolSaturated {
			return h.requeue(ctx, it)
		}
		return errors.Wrap(err, "jobs: select host")
	}

	return errors.Wrap(h.Runner.Run(ctx, job, host), "jobs: run")
}

func (h *Handler) requeue(ctx context.Context, it item) error {
	body, err := json.Marshal(it)
	if err != nil {
		return errors.Wrap(err, "jobs: marshal requeue item")
	}

	h.Logger.Info(ctx, "jobs: pool saturated, requeuing", zap.String("job_id", it.JobID))

	return errors.Wrap(
		h.Self.PushAt(ctx, queue.Item{Kind: "job.dispatch", Body: body}, time.Now().Add(h.Backoff.Delay(0))),
		"jobs: requeue after saturation",
	)
}
