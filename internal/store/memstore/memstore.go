// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package memstore is an in-memory Store fake used by core unit tests;
// the fastlane service itself always runs on the mongo store. It implements the
// same compare-and-set semantics the spec requires of the real store
// (spec §5, §8) so tests exercising the scheduler/dispatcher/monitor
// against it observe realistic race behavior.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/fastlane-run/fastlane/internal/model"
	"github.com/fastlane-run/fastlane/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*model.Task
	jobs  map[string]*model.Job // keyed by job_id
}

// New creates an empty in-memory Store.
//
// Returns:
//   - *Store: initialized store ready for use.
func New() *Store {
	return &Store{
		tasks: make(map[string]*model.Task),
		jobs:  make(map[string]*model.Job),
	}
}

func (s *Store) CreateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.tasks[t.TaskID] = &cp
	return nil
}

func (s *Store) GetTask(_ context.Context, taskID string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTasks(_ context.Context) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CreateJob(_ context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneJob(j)
	cp.Version = 1
	s.jobs[j.JobID] = cp
	*j = *cloneJob(cp)
	return nil
}

func (s *Store) UpdateJob(_ context.Context, j *model.Job, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[j.JobID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return store.ErrVersionConflict
	}

	cp := cloneJob(j)
	cp.Version = expectedVersion + 1
	s.jobs[j.JobID] = cp
	*j = *cloneJob(cp)
	return nil
}

func (s *Store) GetJob(_ context.Context, taskID, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || (taskID != "" && j.TaskID != taskID) {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *Store) ListJobs(_ context.Context, taskID string) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Job, 0)
	for _, j := range s.jobs {
		if taskID == "" || j.TaskID == taskID {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (s *Store) ListDueJobs(_ context.Context, now time.Time) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Job, 0)
	for _, j := range s.jobs {
		if j.Status != model.JobScheduled {
			continue
		}
		switch j.Schedule.Kind {
		case model.ScheduleAt:
			if !j.Schedule.Taken && !j.Schedule.When.After(now) {
				out = append(out, cloneJob(j))
			}
		case model.ScheduleCron:
			if !j.Schedule.Next.IsZero() && !j.Schedule.Next.After(now) {
				out = append(out, cloneJob(j))
			}
		}
	}
	return out, nil
}

func (s *Store) ListNonTerminalExecutions(_ context.Context) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Job, 0)
	for _, j := range s.jobs {
		if e := j.LatestExecution(); e != nil && !e.Status.IsTerminal() {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (s *Store) AppendExecution(_ context.Context, jobID string, e model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if prev := j.LatestExecution(); prev != nil && !prev.Status.IsTerminal() {
		return store.ErrVersionConflict
	}

	j.Executions = append(j.Executions, e)
	j.Version++
	j.LastModifiedAt = time.Now()
	return nil
}

func (s *Store) CompareAndSetExecutionStatus(_ context.Context, jobID, executionID string, from, to model.ExecutionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return false, store.ErrNotFound
	}

	for i := range j.Executions {
		if j.Executions[i].ExecutionID != executionID {
			continue
		}
		if j.Executions[i].Status != from {
			return false, nil
		}
		j.Executions[i].Status = to
		j.Version++
		j.LastModifiedAt = time.Now()
		return true, nil
	}

	return false, store.ErrNotFound
}

func (s *Store) UpdateExecution(_ context.Context, jobID string, e model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}

	for i := range j.Executions {
		if j.Executions[i].ExecutionID == e.ExecutionID {
			j.Executions[i] = e
			j.Version++
			j.LastModifiedAt = time.Now()
			return nil
		}
	}

	return store.ErrNotFound
}

func (s *Store) CountRunningByHost(_ context.Context, host string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, j := range s.jobs {
		if e := j.LatestExecution(); e != nil && e.Status == model.ExecRunning && e.ContainerHost == host {
			count++
		}
	}
	return count, nil
}

func cloneJob(j *model.Job) *model.Job {
	cp := *j
	cp.Executions = append([]model.Execution(nil), j.Executions...)
	if j.Spec.Envs != nil {
		cp.Spec.Envs = make(map[string]string, len(j.Spec.Envs))
		for k, v := range j.Spec.Envs {
			cp.Spec.Envs[k] = v
		}
	}
	return &cp
}
