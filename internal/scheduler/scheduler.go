// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package scheduler moves due Jobs from the time-ordered Store into the
// jobs queue (spec §4.1). It is grounded on the teacher's
// app/pkg/schedule ticker-and-distributed-lock shape, generalized from
// "named job handler" to "Job-record trigger evaluation": instead of N
// registered handlers each owning their own trigger type, one sweep
// evaluates every due Job record in the Store on each tick.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sk-pkg/logger"
	"github.com/sk-pkg/redis"
	"github.com/sk-pkg/util"

	"github.com/fastlane-run/fastlane/internal/e"
	"github.com/fastlane-run/fastlane/internal/model"
	"github.com/fastlane-run/fastlane/internal/queue"
	"github.com/fastlane-run/fastlane/internal/store"
	"github.com/fastlane-run/fastlane/internal/trace"
)

const (
	lockName            = "scheduler:sweep"
	defaultServerLockTTL = 30 // seconds; renewed every tick while held.
)

// Scheduler sweeps the Store for due Jobs on a fixed tick period and
// pushes them onto the jobs queue.
type Scheduler struct {
	Store      store.Store
	JobsQueue  queue.Queue
	NotifyQueue queue.Queue
	Logger     *logger.Manager
	Redis      *redis.Manager
	Trace      *trace.Generator
	TickPeriod time.Duration

	// OnOneServer enables a Redis lock so only one process's sweep runs
	// at a time, matching the spec's single-master non-goal even though
	// many worker processes may share Store/Queues.
	OnOneServer bool
}

// New creates a Scheduler with the given tick period, defaulting to 1s
// (spec §4.1).
//
// Parameters:
//   - st: durable Store.
//   - jobsQueue: the "jobs" queue to push due Jobs onto.
//   - notifyQueue: the "notify" queue for expiration notifications.
//   - log: logger manager.
//   - r: redis manager used for the single-server lock.
//   - t: trace ID generator.
//   - tickPeriod: sweep interval; zero defaults to one second.
//
// Returns:
//   - *Scheduler: initialized scheduler, not yet started.
func New(st store.Store, jobsQueue, notifyQueue queue.Queue, log *logger.Manager, r *redis.Manager, t *trace.Generator, tickPeriod time.Duration) *Scheduler {
	if tickPeriod <= 0 {
		tickPeriod = time.Second
	}
	return &Scheduler{
		Store:       st,
		JobsQueue:   jobsQueue,
		NotifyQueue: notifyQueue,
		Logger:      log,
		Redis:       r,
		Trace:       t,
		TickPeriod:  tickPeriod,
	}
}

// Start launches the sweep loop in a background goroutine and returns
// immediately.
//
// Parameters:
//   - ctx: parent context; canceling it stops the sweep loop.
//
// Returns:
//   - None.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.TickPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				if s.OnOneServer {
					s.unlock()
				}
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.OnOneServer && !s.lock() {
		return
	}

	runCtx := s.Trace.WithJob(ctx, "", "")

	now := time.Now().UTC()
	due, err := s.Store.ListDueJobs(runCtx, now)
	if err != nil {
		s.Logger.Error(runCtx, "scheduler: failed to list due jobs", zap.Error(err))
		return
	}

	for _, j := range due {
		s.trigger(runCtx, j, now)
	}
}

// trigger evaluates one due Job: expiration first, then overlap
// suppression for cron, then the atomic next-trigger advance plus
// enqueue that is this operation's commit point (spec §4.1).
func (s *Scheduler) trigger(ctx context.Context, j *model.Job, now time.Time) {
	jobCtx := s.Trace.WithJob(ctx, j.JobID, "")

	if j.Spec.Expiration != nil && j.Spec.Expiration.Before(now) {
		s.expire(jobCtx, j)
		return
	}

	if j.Schedule.Kind == model.ScheduleCron {
		if latest := j.LatestExecution(); latest != nil && !latest.Status.IsTerminal() {
			// Overlap suppression: the previous Execution is still
			// running when the next trigger fires, so this trigger is
			// skipped, not queued (spec §4.1).
			version := j.Version
			j.SkippedTriggers++
			if err := s.advanceCron(jobCtx, j, now); err != nil {
				s.Logger.Warn(jobCtx, "scheduler: failed to record skipped cron trigger", zap.Error(err))
				return
			}
			if err := s.Store.UpdateJob(jobCtx, j, version); err != nil && err != store.ErrVersionConflict {
				s.Logger.Warn(jobCtx, "scheduler: failed to record skipped cron trigger", zap.Error(err))
			}
			return
		}
	}

	version := j.Version
	switch j.Schedule.Kind {
	case model.ScheduleCron:
		if err := s.advanceCron(jobCtx, j, now); err != nil {
			s.Logger.Warn(jobCtx, "scheduler: cron advance lost race, skipping this tick", zap.Error(err))
			return
		}
	case model.ScheduleAt:
		j.Schedule.Taken = true
	}

	j.Status = model.JobEnqueued
	if err := s.Store.UpdateJob(jobCtx, j, version); err != nil {
		if err == store.ErrVersionConflict {
			// Another scheduler tick (or process) already won this
			// trigger; the commit point is the write, so losing the
			// race here is a clean no-op, not a duplicate enqueue.
			return
		}
		s.Logger.Error(jobCtx, "scheduler: failed to advance job trigger", zap.Error(err))
		return
	}

	if err := s.enqueueJob(jobCtx, j); err != nil {
		s.Logger.Error(jobCtx, "scheduler: failed to enqueue due job", zap.Error(err))
		return
	}

	s.Logger.Info(jobCtx, "scheduler: job enqueued", zap.String("job_id", j.JobID), zap.String("task_id", j.TaskID))
}

func (s *Scheduler) advanceCron(ctx context.Context, j *model.Job, now time.Time) error {
	next, err := NextCronFire(j.Schedule.Expr, now)
	if err != nil {
		return err
	}
	j.Schedule.Next = next
	return nil
}

func (s *Scheduler) expire(ctx context.Context, j *model.Job) {
	version := j.Version
	j.Status = model.JobExpired

	if err := s.Store.UpdateJob(ctx, j, version); err != nil {
		if err != store.ErrVersionConflict {
			s.Logger.Error(ctx, "scheduler: failed to mark job expired", zap.Error(err))
		}
		return
	}

	body, _ := json.Marshal(map[string]string{"job_id": j.JobID, "task_id": j.TaskID, "reason": "expired"})
	if err := queue.Push(ctx, s.NotifyQueue, queue.Item{Kind: "job.expired", Body: body}); err != nil {
		s.Logger.Error(ctx, "scheduler: failed to enqueue expiration notice", zap.Error(err))
	}
}

func (s *Scheduler) enqueueJob(ctx context.Context, j *model.Job) error {
	body, err := json.Marshal(map[string]string{"job_id": j.JobID, "task_id": j.TaskID})
	if err != nil {
		return e.Classify(e.KindJobLogic, err)
	}
	return queue.Push(ctx, s.JobsQueue, queue.Item{Kind: "job.dispatch", Body: body})
}

func (s *Scheduler) lock() bool {
	key := util.SpliceStr(s.Redis.Prefix, "scheduler:jobLock:", lockName)

	ok, err := s.Redis.Do("SET", key, "locked", "EX", defaultServerLockTTL, "NX")
	if ok != nil && err == nil {
		return true
	}

	// Renew an already-held lock so the holder stays elected across ticks.
	_, err = s.Redis.Do("EXPIRE", key, defaultServerLockTTL)
	return err == nil
}

func (s *Scheduler) unlock() {
	key := util.SpliceStr(s.Redis.Prefix, "scheduler:jobLock:", lockName)
	_, _ = s.Redis.Del(key)
}
