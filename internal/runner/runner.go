// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package runner materializes one Execution on a chosen host: pull,
// create, start, enqueue for monitoring. The create and start steps each
// end in a Store write (spec §4.3), so a crash between steps leaves a recoverable
// intermediate state the Healer can pick up from container_id
// presence.
package runner

import (
	"context"
	"crypto/rand"
	"encoding/json"
	mathrand "math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sk-pkg/logger"

	"github.com/fastlane-run/fastlane/internal/e"
	"github.com/fastlane-run/fastlane/internal/model"
	"github.com/fastlane-run/fastlane/internal/queue"
	"github.com/fastlane-run/fastlane/internal/runtime"
	"github.com/fastlane-run/fastlane/internal/store"
)

// MonitorDelay is the initial delay before the freshly started
// Execution's first monitor poll (spec §4.3 step 5).
const MonitorDelay = time.Second

// Runner drives one Job's next Execution from pulling through
// starting the container.
type Runner struct {
	Store   store.Store
	Runtime runtime.ContainerRuntime
	Monitor queue.Queue
	Logger  *logger.Manager

	// entropy backs ULID generation; overridable in tests for
	// deterministic IDs.
	entropy *ulid.MonotonicEntropy
}

// New creates a Runner.
//
// Parameters:
//   - st: durable Store.
//   - rt: ContainerRuntime used to pull/create/start containers.
//   - monitorQueue: the "monitor" queue new Executions are enqueued on.
//   - log: logger manager.
//
// Returns:
//   - *Runner: initialized runner.
func New(st store.Store, rt runtime.ContainerRuntime, monitorQueue queue.Queue, log *logger.Manager) *Runner {
	return &Runner{
		Store:   st,
		Runtime: rt,
		Monitor: monitorQueue,
		Logger:  log,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Run executes the five steps of spec §4.3 for job on host.
//
// Parameters:
//   - ctx: request context.
//   - job: Job to run; its Spec is frozen and copied into the Execution.
//   - host: dispatch-selected container host.
//
// Returns:
//   - error: nil on success (Execution now running and enqueued for
//     monitoring), classified error otherwise. A KindRuntimePermanent
//     pull failure leaves the Execution failed, not propagated as a
//     caller-visible error, since it is a terminal outcome, not a
//     handler failure.
func (r *Runner) Run(ctx context.Context, job *model.Job, host string) error {
	exec := model.Execution{
		ExecutionID:   ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String(),
		ContainerHost: host,
		Image:         job.Spec.Image,
		Command:       job.Spec.Command,
		Status:        model.ExecPulling,
	}

	if err := r.Store.AppendExecution(ctx, job.JobID, exec); err != nil {
		return errors.Wrap(err, "runner: create execution record")
	}

	if err := r.pull(ctx, job, &exec); err != nil {
		return err
	}

	containerID, err := r.create(ctx, job, &exec, host)
	if err != nil {
		return err
	}
	exec.ContainerID = containerID

	if err := r.start(ctx, job, &exec, host); err != nil {
		return err
	}

	return r.enqueueMonitor(ctx, job, &exec)
}

func (r *Runner) pull(ctx context.Context, job *model.Job, exec *model.Execution) error {
	if err := r.Runtime.Pull(ctx, exec.ContainerHost, exec.Image); err != nil {
		kind := e.KindOf(err)
		if kind == e.KindTransientInfra {
			return errors.Wrap(err, "runner: pull image, will retry")
		}

		exec.Status = model.ExecFailed
		exec.Error = err.Error()
		now := time.Now()
		exec.FinishedAt = &now

		if uErr := r.Store.UpdateExecution(ctx, job.JobID, *exec); uErr != nil {
			r.Logger.Error(ctx, "runner: failed to persist pull failure", zap.Error(uErr))
		}
		return nil
	}

	exec.Status = model.ExecCreated
	return nil
}

func (r *Runner) create(ctx context.Context, job *model.Job, exec *model.Execution, host string) (string, error) {
	env := make([]string, 0, len(job.Spec.Envs))
	for k, v := range job.Spec.Envs {
		env = append(env, k+"="+v)
	}

	containerID, err := r.Runtime.Create(ctx, host, runtime.CreateSpec{
		Name:    "fastlane-" + exec.ExecutionID,
		Image:   job.Spec.Image,
		Command: job.Spec.Command,
		Env:     env,
	})
	if err != nil {
		return "", errors.Wrap(err, "runner: create container")
	}

	exec.ContainerID = containerID
	exec.Status = model.ExecCreated
	if err := r.Store.UpdateExecution(ctx, job.JobID, *exec); err != nil {
		return "", errors.Wrap(err, "runner: persist created container id")
	}

	return containerID, nil
}

func (r *Runner) start(ctx context.Context, job *model.Job, exec *model.Execution, host string) error {
	if err := r.Runtime.Start(ctx, host, exec.ContainerID); err != nil {
		return errors.Wrap(err, "runner: start container")
	}

	now := time.Now()
	exec.StartedAt = &now
	exec.Status = model.ExecRunning

	return errors.Wrap(r.Store.UpdateExecution(ctx, job.JobID, *exec), "runner: persist running status")
}

func (r *Runner) enqueueMonitor(ctx context.Context, job *model.Job, exec *model.Execution) error {
	body, err := json.Marshal(map[string]string{"job_id": job.JobID, "execution_id": exec.ExecutionID})
	if err != nil {
		return errors.Wrap(err, "runner: marshal monitor item")
	}

	return errors.Wrap(
		r.Monitor.PushAt(ctx, queue.Item{Kind: "execution.monitor", Body: body}, time.Now().Add(jitter(MonitorDelay))),
		"runner: enqueue monitor",
	)
}

// jitter adds up to 20% random spread to d so many freshly started
// Executions don't all land on the same monitor poll tick.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.2
	return d + time.Duration(mathrand.Float64()*spread-spread/2)
}
