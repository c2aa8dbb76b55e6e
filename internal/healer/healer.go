// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package healer re-derives in-flight work from the Store at process
// start, since queue messages are ephemeral hints and may be lost
// across a restart (spec §4.5). It is idempotent by construction: the
// monitor/runner handlers it re-enqueues into are themselves safe to
// replay on an already-advanced Execution.
package healer

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sk-pkg/logger"

	"github.com/fastlane-run/fastlane/internal/model"
	"github.com/fastlane-run/fastlane/internal/queue"
	"github.com/fastlane-run/fastlane/internal/store"
)

// Healer re-enqueues every Job with a non-terminal Execution once at
// startup.
type Healer struct {
	Store  store.Store
	Jobs   queue.Queue
	Monitor queue.Queue
	Logger *logger.Manager
}

// New creates a Healer.
//
// Parameters:
//   - st: durable Store.
//   - jobs: "jobs" queue, used when an Execution has no container_id yet.
//   - monitorQueue: "monitor" queue, used when an Execution already has
//     a container_id.
//   - log: logger manager.
//
// Returns:
//   - *Healer: initialized healer.
func New(st store.Store, jobs, monitorQueue queue.Queue, log *logger.Manager) *Healer {
	return &Healer{Store: st, Jobs: jobs, Monitor: monitorQueue, Logger: log}
}

// Run lists every Job with a non-terminal Execution and re-enqueues
// one recovery message per Job (spec §4.5).
//
// Parameters:
//   - ctx: request context.
//
// Returns:
//   - error: wrapped Store error; partial failures on individual Jobs
//     are logged and skipped so one bad record doesn't block recovery
//     of the rest.
func (h *Healer) Run(ctx context.Context) error {
	jobs, err := h.Store.ListNonTerminalExecutions(ctx)
	if err != nil {
		return errors.Wrap(err, "healer: list non-terminal executions")
	}

	for _, job := range jobs {
		exec := job.LatestExecution()
		if exec == nil {
			continue
		}

		if err := h.heal(ctx, job, exec); err != nil {
			h.Logger.Error(ctx, "healer: failed to re-enqueue job", zap.String("job_id", job.JobID), zap.Error(err))
		}
	}

	return nil
}

func (h *Healer) heal(ctx context.Context, job *model.Job, exec *model.Execution) error {
	if exec.ContainerID != "" {
		body, err := json.Marshal(map[string]string{"job_id": job.JobID, "execution_id": exec.ExecutionID})
		if err != nil {
			return errors.Wrap(err, "healer: marshal monitor item")
		}
		return errors.Wrap(queue.Push(ctx, h.Monitor, queue.Item{Kind: "execution.monitor", Body: body}), "healer: enqueue monitor")
	}

	body, err := json.Marshal(map[string]string{"job_id": job.JobID, "task_id": job.TaskID})
	if err != nil {
		return errors.Wrap(err, "healer: marshal jobs item")
	}
	return errors.Wrap(queue.Push(ctx, h.Jobs, queue.Item{Kind: "job.dispatch", Body: body}), "healer: enqueue jobs")
}
