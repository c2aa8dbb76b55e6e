// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package monitor polls one Execution to a terminal state. It is
// grounded on app/monitor/handler.go's ticker-driven poll/cleanup
// shape, retargeted from "stream logs forever" to "poll one Execution
// until it exits or times out" (spec §4.4).
package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sk-pkg/logger"

	"github.com/fastlane-run/fastlane/internal/backoff"
	"github.com/fastlane-run/fastlane/internal/model"
	"github.com/fastlane-run/fastlane/internal/monitor/logtail"
	"github.com/fastlane-run/fastlane/internal/queue"
	"github.com/fastlane-run/fastlane/internal/runtime"
	"github.com/fastlane-run/fastlane/internal/scheduler"
	"github.com/fastlane-run/fastlane/internal/store"
	"github.com/fastlane-run/fastlane/internal/store/audit"
)

// ProcessedNamePrefix marks a container Monitor has finished with, the
// hint internal/pruner looks for (spec §4.4 step 4, §4.5).
const ProcessedNamePrefix = "fastlane-processed-"

// Monitor polls one Execution per invocation of Step and decides its
// next transition: still running (re-poll later), timed out, or
// exited (terminal, possibly with a retry re-enqueue).
type Monitor struct {
	Store   store.Store
	Runtime runtime.ContainerRuntime
	Jobs    queue.Queue
	Self    queue.Queue // the "monitor" queue, for re-polling.
	Notify  queue.Queue
	Webhooks queue.Queue
	Logger  *logger.Manager
	Audit   *audit.Recorder // optional; nil when Config.Audit.Enable is false.

	PollBackoff backoff.Policy
	RetryBackoff backoff.Policy
	TailBytes   int
}

// WithAudit attaches the audit Recorder appending a row for every
// terminal Execution transition (spec.md §3), left unset by New so
// tests can build a Monitor without a SQL-backed store.
//
// Returns:
//   - *Monitor: the same Monitor, for chaining.
func (m *Monitor) WithAudit(r *audit.Recorder) *Monitor {
	m.Audit = r
	return m
}

// New creates a Monitor with the standard poll/retry back-off policies
// (spec §4.4, §9).
//
// Parameters:
//   - st: durable Store.
//   - rt: ContainerRuntime used to inspect/stop/logs/rename.
//   - jobs: "jobs" queue, for retry re-enqueue.
//   - self: "monitor" queue, for re-polling.
//   - notify: "notify" queue, for terminal-state notices.
//   - webhooks: "webhooks" queue, for terminal-state webhook delivery.
//   - log: logger manager.
//
// Returns:
//   - *Monitor: initialized monitor.
func New(st store.Store, rt runtime.ContainerRuntime, jobs, self, notify, webhooks queue.Queue, log *logger.Manager) *Monitor {
	return &Monitor{
		Store: st, Runtime: rt, Jobs: jobs, Self: self, Notify: notify, Webhooks: webhooks, Logger: log,
		PollBackoff: backoff.MonitorPoll(), RetryBackoff: backoff.RetryOnFailure(),
		TailBytes: logtail.DefaultMaxBytes,
	}
}

type item struct {
	JobID       string `json:"job_id"`
	ExecutionID string `json:"execution_id"`
}

// Step processes one "monitor" queue message, implementing spec
// §4.4's poll cycle.
//
// Parameters:
//   - ctx: request context.
//   - body: JSON-encoded item naming the Job/Execution to poll.
//
// Returns:
//   - error: nil on any clean outcome, including a stale-message
//     no-op; a non-nil error means the caller should Release, not Ack,
//     the message.
func (m *Monitor) Step(ctx context.Context, body []byte) error {
	var it item
	if err := json.Unmarshal(body, &it); err != nil {
		return errors.Wrap(err, "monitor: decode item")
	}

	job, err := m.Store.GetJob(ctx, "", it.JobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "monitor: load job")
	}

	exec := findExecution(job, it.ExecutionID)
	if exec == nil || exec.Status.IsTerminal() {
		// The Store already reflects a terminal state; this message is
		// a stale replay and becomes a clean no-op (spec §5, §4.6).
		return nil
	}

	insp, err := m.Runtime.Inspect(ctx, exec.ContainerHost, exec.ContainerID)
	if err != nil {
		return errors.Wrap(err, "monitor: inspect container")
	}

	if exec.StopRequested {
		return m.finalizeStopped(ctx, job, exec)
	}

	if insp.Running {
		return m.handleRunning(ctx, job, exec)
	}

	return m.handleExited(ctx, job, exec, insp)
}

func (m *Monitor) handleRunning(ctx context.Context, job *model.Job, exec *model.Execution) error {
	if exec.StartedAt != nil && job.Spec.Timeout > 0 && time.Since(*exec.StartedAt) >= job.Spec.Timeout {
		if err := m.Runtime.Stop(ctx, exec.ContainerHost, exec.ContainerID, 10*time.Second); err != nil {
			m.Logger.Warn(ctx, "monitor: failed to stop timed-out container", zap.Error(err))
		}
		now := time.Now()
		exec.Status = model.ExecTimedOut
		exec.FinishedAt = &now
		if err := m.Store.UpdateExecution(ctx, job.JobID, *exec); err != nil {
			return errors.Wrap(err, "monitor: persist timeout")
		}
		return m.finalize(ctx, job, exec)
	}

	exec.PollCount++
	if err := m.Store.UpdateExecution(ctx, job.JobID, *exec); err != nil {
		return errors.Wrap(err, "monitor: persist poll count")
	}

	return m.reenqueueSelf(ctx, job.JobID, exec.ExecutionID, m.PollBackoff.Delay(exec.PollCount))
}

func (m *Monitor) handleExited(ctx context.Context, job *model.Job, exec *model.Execution, insp runtime.InspectResult) error {
	if stdout, stderr, err := m.Runtime.Logs(ctx, exec.ContainerHost, exec.ContainerID); err == nil {
		if out, cErr := logtail.Capture(stdout, m.TailBytes); cErr == nil {
			exec.Stdout = out
		}
		stdout.Close()
		if errOut, cErr := logtail.Capture(stderr, m.TailBytes); cErr == nil {
			exec.Stderr = errOut
		}
		stderr.Close()
	} else {
		m.Logger.Warn(ctx, "monitor: failed to fetch logs", zap.Error(err))
	}

	exitCode := insp.ExitCode
	exec.ExitCode = &exitCode
	now := time.Now()
	exec.FinishedAt = &now

	if exitCode == 0 {
		exec.Status = model.ExecDone
	} else {
		exec.Status = model.ExecFailed
		exec.Error = insp.Error
	}

	if err := m.Store.UpdateExecution(ctx, job.JobID, *exec); err != nil {
		return errors.Wrap(err, "monitor: persist exit status")
	}

	return m.finalize(ctx, job, exec)
}

func (m *Monitor) finalizeStopped(ctx context.Context, job *model.Job, exec *model.Execution) error {
	if err := m.Runtime.Stop(ctx, exec.ContainerHost, exec.ContainerID, 10*time.Second); err != nil {
		m.Logger.Warn(ctx, "monitor: failed to stop container on request", zap.Error(err))
	}

	now := time.Now()
	exec.Status = model.ExecStopped
	exec.FinishedAt = &now
	if err := m.Store.UpdateExecution(ctx, job.JobID, *exec); err != nil {
		return errors.Wrap(err, "monitor: persist stopped status")
	}

	job.Status = model.JobStopped
	if err := m.persistJob(ctx, job); err != nil {
		return err
	}
	return m.notifyTerminal(ctx, job, exec)
}

// finalize renames the container for the Pruner, then decides between
// a retry enqueue and a terminal notification (spec §4.4's retry
// decision).
func (m *Monitor) finalize(ctx context.Context, job *model.Job, exec *model.Execution) error {
	if err := m.Runtime.Rename(ctx, exec.ContainerHost, exec.ContainerID, ProcessedNamePrefix+string(exec.Status)+"-"+exec.ExecutionID); err != nil {
		m.Logger.Warn(ctx, "monitor: failed to rename processed container", zap.Error(err))
	}

	failed := exec.Status == model.ExecFailed || exec.Status == model.ExecTimedOut
	if failed && job.Status != model.JobExpired && job.RetryBudget() > 0 {
		return m.retry(ctx, job, exec)
	}

	if exec.Status == model.ExecDone {
		job.Status = model.JobDone
	} else {
		job.Status = model.JobFailed
	}

	if job.Schedule.Kind == model.ScheduleCron {
		if next, err := scheduler.NextCronFire(job.Schedule.Expr, time.Now()); err == nil {
			job.Schedule.Next = next
			job.Status = model.JobScheduled
		}
	}

	if err := m.persistJob(ctx, job); err != nil {
		return err
	}
	return m.notifyTerminal(ctx, job, exec)
}

func (m *Monitor) retry(ctx context.Context, job *model.Job, exec *model.Execution) error {
	job.Status = model.JobScheduled
	if err := m.persistJob(ctx, job); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"job_id": job.JobID, "task_id": job.TaskID})
	if err != nil {
		return errors.Wrap(err, "monitor: marshal retry item")
	}

	delay := m.RetryBackoff.Delay(len(job.Executions) - 1)
	return errors.Wrap(
		m.Jobs.PushAt(ctx, queue.Item{Kind: "job.retry", Body: body}, time.Now().Add(delay)),
		"monitor: enqueue retry",
	)
}

// persistJob writes job's Status/Schedule changes back to the Store.
// It re-fetches the current record first since the Execution writes
// that preceded this call already advanced the Store's version past
// what job was loaded with; compare-and-set then runs against that
// fresh version. A losing race means another handler already advanced
// this Job, so it is treated as a clean no-op rather than an error
// (spec §5).
func (m *Monitor) persistJob(ctx context.Context, job *model.Job) error {
	current, err := m.Store.GetJob(ctx, "", job.JobID)
	if err != nil {
		return errors.Wrap(err, "monitor: reload job before persisting status")
	}

	current.Status = job.Status
	current.Schedule = job.Schedule

	if err := m.Store.UpdateJob(ctx, current, current.Version); err != nil {
		if err == store.ErrVersionConflict {
			return nil
		}
		return errors.Wrap(err, "monitor: persist job status")
	}

	*job = *current
	return nil
}

func (m *Monitor) notifyTerminal(ctx context.Context, job *model.Job, exec *model.Execution) error {
	if m.Audit != nil {
		extra := map[string]any{"job_status": string(job.Status)}
		if exec.ExitCode != nil {
			extra["exit_code"] = *exec.ExitCode
		}
		// Record already logs its own failures; a broken audit store
		// must never block the notify/webhook fan-out that follows.
		_ = m.Audit.Record(ctx, job.TaskID, job.JobID, exec.ExecutionID, "execution."+string(exec.Status), "execution reached a terminal status", extra)
	}

	body, err := json.Marshal(map[string]string{"job_id": job.JobID, "execution_id": exec.ExecutionID, "status": string(exec.Status)})
	if err != nil {
		return errors.Wrap(err, "monitor: marshal notify item")
	}

	if err := queue.Push(ctx, m.Notify, queue.Item{Kind: "job.terminal", Body: body}); err != nil {
		return errors.Wrap(err, "monitor: enqueue notify")
	}

	if len(job.Spec.Notify.Webhooks) > 0 {
		if err := queue.Push(ctx, m.Webhooks, queue.Item{Kind: "job.terminal", Body: body}); err != nil {
			return errors.Wrap(err, "monitor: enqueue webhook")
		}
	}

	return nil
}

func (m *Monitor) reenqueueSelf(ctx context.Context, jobID, executionID string, delay time.Duration) error {
	body, err := json.Marshal(item{JobID: jobID, ExecutionID: executionID})
	if err != nil {
		return errors.Wrap(err, "monitor: marshal self item")
	}
	return errors.Wrap(
		m.Self.PushAt(ctx, queue.Item{Kind: "execution.monitor", Body: body}, time.Now().Add(delay)),
		"monitor: re-enqueue poll",
	)
}

func findExecution(job *model.Job, executionID string) *model.Execution {
	for i := range job.Executions {
		if job.Executions[i].ExecutionID == executionID {
			return &job.Executions[i]
		}
	}
	return nil
}
