// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package api implements the HTTP surface spec.md §6 names as an
// external collaborator, translating REST requests into the core
// operations (Job.create/update/stop/retry, Store reads). Route
// grouping and the gin.Engine wiring are adapted from
// app/http/router's internal/external group split; fastlane collapses
// that into one authenticated group since it has no distinct
// public/trusted audiences the way dockmon's app-token clients do.
package api

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/sk-pkg/logger"

	"github.com/fastlane-run/fastlane/internal/api/authn"
	"github.com/fastlane-run/fastlane/internal/e"
	"github.com/fastlane-run/fastlane/internal/model"
	"github.com/fastlane-run/fastlane/internal/queue"
	"github.com/fastlane-run/fastlane/internal/runtime"
	"github.com/fastlane-run/fastlane/internal/scheduler"
	"github.com/fastlane-run/fastlane/internal/store"
	"github.com/fastlane-run/fastlane/internal/trace"
)

// Server holds the dependencies the HTTP handlers need.
type Server struct {
	Store   store.Store
	Jobs    queue.Queue
	Runtime runtime.ContainerRuntime
	Auth    *authn.Issuer
	Tracer  *trace.Generator
	Logger  *logger.Manager
	Redact  []string
	entropy *ulid.MonotonicEntropy
}

// New creates a Server.
//
// Parameters:
//   - st: durable Store.
//   - jobsQueue: "jobs" queue, pushed to on Job.create/Job.retry.
//   - rt: ContainerRuntime, used to serve live log reads.
//   - auth: bearer-token issuer/validator.
//
// Returns:
//   - *Server: initialized HTTP server dependency container.
func New(st store.Store, jobsQueue queue.Queue, rt runtime.ContainerRuntime, auth *authn.Issuer) *Server {
	return &Server{
		Store: st, Jobs: jobsQueue, Runtime: rt, Auth: auth,
		Tracer:  trace.New(),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// WithLogger attaches a logger used by the request-logging middleware,
// left unset by New so tests can build a Server without one.
//
// Returns:
//   - *Server: the same Server, for chaining.
func (s *Server) WithLogger(log *logger.Manager) *Server {
	s.Logger = log
	return s
}

// WithRedact sets the env-var name patterns masked out of every
// Job rendered in an HTTP response (spec.md §3's env-redaction
// invariant), left empty by New so tests see spec.Envs verbatim.
//
// Returns:
//   - *Server: the same Server, for chaining.
func (s *Server) WithRedact(blacklist []string) *Server {
	s.Redact = blacklist
	return s
}

// Router builds the gin.Engine exposing every route in spec.md §6's
// table under /fastlane.
//
// Returns:
//   - *gin.Engine: ready-to-serve router.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(s.traceMiddleware())
	r.Use(s.requestLogger())
	r.Use(gin.Recovery())

	api := r.Group("fastlane")
	api.Use(s.Auth.RequireAuth())
	{
		api.GET("tasks", s.listTasks)
		api.GET("tasks/:task_id", s.getTask)
		api.POST("tasks/:task_id", s.createJob)
		api.PUT("tasks/:task_id/jobs/:job_id", s.updateJob)
		api.GET("tasks/:task_id/jobs/:job_id", s.getJob)
		api.POST("tasks/:task_id/jobs/:job_id/stop", s.stopJob)
		api.POST("tasks/:task_id/jobs/:job_id/retry", s.retryJob)
		api.GET("tasks/:task_id/jobs/:job_id/stdout", s.readStream("stdout"))
		api.GET("tasks/:task_id/jobs/:job_id/stderr", s.readStream("stderr"))
		api.GET("tasks/:task_id/jobs/:job_id/logs", s.readStream("logs"))
		api.GET("tasks/:task_id/jobs/:job_id/stream", s.liveStream)
	}

	return r
}

// submission is the JSON body spec.md §6 names for Job creation.
type submission struct {
	Image      string            `json:"image" binding:"required"`
	Command    []string          `json:"command"`
	Envs       map[string]string `json:"envs"`
	Metadata   map[string]string `json:"metadata"`
	Retries    int               `json:"retries"`
	Timeout    time.Duration     `json:"timeout"`
	Expiration *time.Time        `json:"expiration"`
	StartAt    *time.Time        `json:"startAt"`
	StartIn    time.Duration     `json:"startIn"`
	Cron       string            `json:"cron"`
	Notify     model.NotifyTargets `json:"notify"`
}

func (s *Server) newJobID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.Store.ListTasks(c.Request.Context())
	if err != nil {
		respondErr(c, http.StatusInternalServerError, e.ERROR, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": e.SUCCESS, "data": tasks})
}

func (s *Server) getTask(c *gin.Context) {
	ctx := c.Request.Context()
	task, err := s.Store.GetTask(ctx, c.Param("task_id"))
	if err != nil {
		if err == store.ErrNotFound {
			respondErr(c, http.StatusNotFound, e.TaskNotFound, err)
			return
		}
		respondErr(c, http.StatusInternalServerError, e.ERROR, err)
		return
	}

	jobs, err := s.Store.ListJobs(ctx, task.TaskID)
	if err != nil {
		respondErr(c, http.StatusInternalServerError, e.ERROR, err)
		return
	}
	for _, j := range jobs {
		j.RedactEnvs(s.Redact)
	}

	c.JSON(http.StatusOK, gin.H{"code": e.SUCCESS, "data": gin.H{"task": task, "jobs": jobs}})
}

func (s *Server) createJob(c *gin.Context) {
	ctx := c.Request.Context()
	taskID := c.Param("task_id")

	var sub submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		respondErr(c, http.StatusBadRequest, e.InvalidJobSpec, err)
		return
	}

	if _, err := s.Store.GetTask(ctx, taskID); err == store.ErrNotFound {
		if err := s.Store.CreateTask(ctx, &model.Task{TaskID: taskID, CreatedAt: time.Now()}); err != nil {
			respondErr(c, http.StatusInternalServerError, e.ERROR, err)
			return
		}
	}

	sched, err := buildSchedule(sub)
	if err != nil {
		respondErr(c, http.StatusBadRequest, e.InvalidCronExpr, err)
		return
	}

	job := &model.Job{
		JobID:  s.newJobID(),
		TaskID: taskID,
		Spec: model.Spec{
			Image:      sub.Image,
			Command:    sub.Command,
			Envs:       sub.Envs,
			Metadata:   sub.Metadata,
			Retries:    sub.Retries,
			Timeout:    sub.Timeout,
			Expiration: sub.Expiration,
			Notify:     sub.Notify,
		},
		Schedule:  sched,
		Status:    model.JobScheduled,
		CreatedAt: time.Now(),
	}

	if err := s.Store.CreateJob(ctx, job); err != nil {
		respondErr(c, http.StatusInternalServerError, e.ERROR, err)
		return
	}

	if sched.Kind == model.ScheduleImmediate {
		if err := s.enqueueDispatch(ctx, job); err != nil {
			respondErr(c, http.StatusInternalServerError, e.ERROR, err)
			return
		}
	}

	job.RedactEnvs(s.Redact)
	c.JSON(http.StatusCreated, gin.H{"code": e.SUCCESS, "data": job})
}

func buildSchedule(sub submission) (model.Schedule, error) {
	switch {
	case sub.Cron != "":
		next, err := scheduler.NextCronFire(sub.Cron, time.Now())
		if err != nil {
			return model.Schedule{}, errors.Wrap(err, "invalid cron expression")
		}
		return model.Schedule{Kind: model.ScheduleCron, Expr: sub.Cron, Next: next}, nil
	case sub.StartAt != nil:
		return model.Schedule{Kind: model.ScheduleAt, When: *sub.StartAt}, nil
	case sub.StartIn > 0:
		return model.Schedule{Kind: model.ScheduleAt, When: time.Now().Add(sub.StartIn)}, nil
	default:
		return model.Schedule{Kind: model.ScheduleImmediate}, nil
	}
}

func (s *Server) enqueueDispatch(ctx context.Context, job *model.Job) error {
	body, err := json.Marshal(map[string]string{"job_id": job.JobID, "task_id": job.TaskID})
	if err != nil {
		return errors.Wrap(err, "api: marshal dispatch item")
	}
	return errors.Wrap(queue.Push(ctx, s.Jobs, queue.Item{Kind: "job.dispatch", Body: body}), "api: enqueue dispatch")
}

func (s *Server) updateJob(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := s.Store.GetJob(ctx, c.Param("task_id"), c.Param("job_id"))
	if err != nil {
		respondNotFoundOr500(c, err)
		return
	}

	if job.LatestExecution() != nil && !job.LatestExecution().Status.IsTerminal() {
		respondErr(c, http.StatusConflict, e.JobAlreadyTerminal, errors.New("job has a running execution"))
		return
	}

	var sub submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		respondErr(c, http.StatusBadRequest, e.InvalidJobSpec, err)
		return
	}

	sched, err := buildSchedule(sub)
	if err != nil {
		respondErr(c, http.StatusBadRequest, e.InvalidCronExpr, err)
		return
	}

	job.Spec = model.Spec{
		Image: sub.Image, Command: sub.Command, Envs: sub.Envs, Metadata: sub.Metadata,
		Retries: sub.Retries, Timeout: sub.Timeout, Expiration: sub.Expiration, Notify: sub.Notify,
	}
	job.Schedule = sched

	if err := s.Store.UpdateJob(ctx, job, job.Version); err != nil {
		respondConflictOr500(c, err)
		return
	}

	job.RedactEnvs(s.Redact)
	c.JSON(http.StatusOK, gin.H{"code": e.SUCCESS, "data": job})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.Store.GetJob(c.Request.Context(), c.Param("task_id"), c.Param("job_id"))
	if err != nil {
		respondNotFoundOr500(c, err)
		return
	}
	job.RedactEnvs(s.Redact)
	c.JSON(http.StatusOK, gin.H{"code": e.SUCCESS, "data": job})
}

func (s *Server) stopJob(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := s.Store.GetJob(ctx, c.Param("task_id"), c.Param("job_id"))
	if err != nil {
		respondNotFoundOr500(c, err)
		return
	}

	exec := job.LatestExecution()
	if exec == nil || exec.Status.IsTerminal() {
		respondErr(c, http.StatusConflict, e.JobAlreadyTerminal, errors.New("job has no running execution to stop"))
		return
	}

	exec.StopRequested = true
	if err := s.Store.UpdateExecution(ctx, job.JobID, *exec); err != nil {
		respondErr(c, http.StatusInternalServerError, e.ERROR, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": e.SUCCESS})
}

func (s *Server) retryJob(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := s.Store.GetJob(ctx, c.Param("task_id"), c.Param("job_id"))
	if err != nil {
		respondNotFoundOr500(c, err)
		return
	}

	if exec := job.LatestExecution(); exec != nil && !exec.Status.IsTerminal() {
		respondErr(c, http.StatusConflict, e.JobAlreadyTerminal, errors.New("job already has a running execution"))
		return
	}

	job.Status = model.JobScheduled
	if err := s.Store.UpdateJob(ctx, job, job.Version); err != nil {
		respondConflictOr500(c, err)
		return
	}

	if err := s.enqueueDispatch(ctx, job); err != nil {
		respondErr(c, http.StatusInternalServerError, e.ERROR, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": e.SUCCESS})
}

// readStream serves the last Execution's captured log tail, the
// Store-backed half of spec.md §6's stdout/stderr/logs routes.
func (s *Server) readStream(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := s.Store.GetJob(c.Request.Context(), c.Param("task_id"), c.Param("job_id"))
		if err != nil {
			respondNotFoundOr500(c, err)
			return
		}

		exec := job.LatestExecution()
		if exec == nil {
			respondErr(c, http.StatusNotFound, e.JobNotFound, errors.New("job has no executions"))
			return
		}

		switch kind {
		case "stdout":
			c.Data(http.StatusOK, "text/plain; charset=utf-8", exec.Stdout)
		case "stderr":
			c.Data(http.StatusOK, "text/plain; charset=utf-8", exec.Stderr)
		default:
			c.Data(http.StatusOK, "text/plain; charset=utf-8", append(append([]byte{}, exec.Stdout...), exec.Stderr...))
		}
	}
}

// liveStream serves spec.md §6's live log follow route as
// Server-Sent Events rather than a raw websocket upgrade, reading
// directly from the ContainerRuntime while the Execution is still
// running.
func (s *Server) liveStream(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := s.Store.GetJob(ctx, c.Param("task_id"), c.Param("job_id"))
	if err != nil {
		respondNotFoundOr500(c, err)
		return
	}

	exec := job.LatestExecution()
	if exec == nil || exec.Status.IsTerminal() {
		respondErr(c, http.StatusConflict, e.JobAlreadyTerminal, errors.New("job has no running execution to stream"))
		return
	}

	stdout, stderr, err := s.Runtime.Logs(ctx, exec.ContainerHost, exec.ContainerID)
	if err != nil {
		respondErr(c, http.StatusInternalServerError, e.ERROR, err)
		return
	}
	defer stdout.Close()
	defer stderr.Close()

	c.Stream(func(w io.Writer) bool {
		buf := make([]byte, 4096)
		n, readErr := stdout.Read(buf)
		if n > 0 {
			_, _ = w.Write(append([]byte("data: "), append(buf[:n:n], '\n', '\n')...))
		}
		return readErr == nil
	})
}

func respondErr(c *gin.Context, status, code int, err error) {
	c.JSON(status, gin.H{"code": code, "message": err.Error()})
}

func respondNotFoundOr500(c *gin.Context, err error) {
	if err == store.ErrNotFound {
		respondErr(c, http.StatusNotFound, e.JobNotFound, err)
		return
	}
	respondErr(c, http.StatusInternalServerError, e.ERROR, err)
}

func respondConflictOr500(c *gin.Context, err error) {
	if err == store.ErrVersionConflict {
		respondErr(c, http.StatusConflict, e.JobAlreadyTerminal, err)
		return
	}
	respondErr(c, http.StatusInternalServerError, e.ERROR, err)
}
