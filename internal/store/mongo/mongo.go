// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package mongo is the primary Store implementation, backed by the
// document store spec.md §6 names ("Document store holds Tasks, Jobs,
// Executions"). Method shapes follow the teacher's model-layer
// conventions (First/Create/Updates/List on a GORM model,
// app/model/collector/log.go) translated onto mongo-driver collections,
// with job_id/version driving the compare-and-set spec.md §5 requires.
package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fastlane-run/fastlane/internal/model"
	"github.com/fastlane-run/fastlane/internal/store"
)

// Store is a mongo-driver backed store.Store implementation.
type Store struct {
	tasks *mongo.Collection
	jobs  *mongo.Collection
}

// New wraps an already-connected *mongo.Database into a Store, creating
// the indexes the core's query patterns need (task_id lookups,
// next-trigger due-job sweeps, per-host running counts).
//
// Parameters:
//   - ctx: context bounding index creation.
//   - db: connected mongo database handle.
//
// Returns:
//   - *Store: initialized store.
//   - error: returned when index creation fails.
func New(ctx context.Context, db *mongo.Database) (*Store, error) {
	s := &Store{
		tasks: db.Collection("tasks"),
		jobs:  db.Collection("jobs"),
	}

	if _, err := s.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "task_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, errors.Wrap(err, "create tasks index")
	}

	if _, err := s.jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "job_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "task_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "schedule.next", Value: 1}}},
	}); err != nil {
		return nil, errors.Wrap(err, "create jobs index")
	}

	return s, nil
}

func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	_, err := s.tasks.InsertOne(ctx, t)
	return errors.Wrap(err, "create task")
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	var t model.Task
	err := s.tasks.FindOne(ctx, bson.M{"task_id": taskID}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get task")
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]*model.Task, error) {
	cur, err := s.tasks.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	defer cur.Close(ctx)

	var out []*model.Task
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode tasks")
	}
	return out, nil
}

func (s *Store) CreateJob(ctx context.Context, j *model.Job) error {
	j.Version = 1
	_, err := s.jobs.InsertOne(ctx, j)
	return errors.Wrap(err, "create job")
}

// UpdateJob performs the compare-and-set spec.md §5 requires: the write
// only applies when the stored document's version still equals
// expectedVersion, and the new document's version is bumped atomically
// by the same query.
func (s *Store) UpdateJob(ctx context.Context, j *model.Job, expectedVersion int) error {
	j.Version = expectedVersion + 1
	j.LastModifiedAt = time.Now()

	res, err := s.jobs.ReplaceOne(ctx,
		bson.M{"job_id": j.JobID, "version": expectedVersion},
		j,
	)
	if err != nil {
		return errors.Wrap(err, "update job")
	}
	if res.MatchedCount == 0 {
		if _, getErr := s.GetJob(ctx, j.TaskID, j.JobID); getErr != nil {
			return getErr
		}
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, taskID, jobID string) (*model.Job, error) {
	filter := bson.M{"job_id": jobID}
	if taskID != "" {
		filter["task_id"] = taskID
	}

	var j model.Job
	err := s.jobs.FindOne(ctx, filter).Decode(&j)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get job")
	}
	return &j, nil
}

func (s *Store) ListJobs(ctx context.Context, taskID string) ([]*model.Job, error) {
	filter := bson.M{}
	if taskID != "" {
		filter["task_id"] = taskID
	}

	cur, err := s.jobs.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer cur.Close(ctx)

	var out []*model.Job
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode jobs")
	}
	return out, nil
}

func (s *Store) ListDueJobs(ctx context.Context, now time.Time) ([]*model.Job, error) {
	filter := bson.M{
		"status": model.JobScheduled,
		"$or": []bson.M{
			{"schedule.kind": model.ScheduleCron, "schedule.next": bson.M{"$lte": now, "$ne": time.Time{}}},
			{"schedule.kind": model.ScheduleAt, "schedule.when": bson.M{"$lte": now}, "schedule.taken": bson.M{"$ne": true}},
		},
	}

	cur, err := s.jobs.Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list due jobs")
	}
	defer cur.Close(ctx)

	var out []*model.Job
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode due jobs")
	}
	return out, nil
}

func (s *Store) ListNonTerminalExecutions(ctx context.Context) ([]*model.Job, error) {
	nonTerminal := []model.ExecutionStatus{
		model.ExecPulling, model.ExecCreated, model.ExecRunning,
	}

	cur, err := s.jobs.Find(ctx, bson.M{
		"executions": bson.M{"$elemMatch": bson.M{"status": bson.M{"$in": nonTerminal}}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "list non-terminal executions")
	}
	defer cur.Close(ctx)

	var out []*model.Job
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode non-terminal executions")
	}
	return out, nil
}

func (s *Store) AppendExecution(ctx context.Context, jobID string, e model.Execution) error {
	j, err := s.GetJob(ctx, "", jobID)
	if err != nil {
		return err
	}
	if prev := j.LatestExecution(); prev != nil && !prev.Status.IsTerminal() {
		return store.ErrVersionConflict
	}

	res, err := s.jobs.UpdateOne(ctx,
		bson.M{"job_id": jobID, "version": j.Version},
		bson.M{
			"$push": bson.M{"executions": e},
			"$set":  bson.M{"last_modified_at": time.Now()},
			"$inc":  bson.M{"version": 1},
		},
	)
	if err != nil {
		return errors.Wrap(err, "append execution")
	}
	if res.MatchedCount == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) CompareAndSetExecutionStatus(ctx context.Context, jobID, executionID string, from, to model.ExecutionStatus) (bool, error) {
	res, err := s.jobs.UpdateOne(ctx,
		bson.M{
			"job_id":     jobID,
			"executions": bson.M{"$elemMatch": bson.M{"execution_id": executionID, "status": from}},
		},
		bson.M{
			"$set": bson.M{"executions.$.status": to, "last_modified_at": time.Now()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return false, errors.Wrap(err, "compare and set execution status")
	}
	return res.ModifiedCount > 0, nil
}

func (s *Store) UpdateExecution(ctx context.Context, jobID string, e model.Execution) error {
	res, err := s.jobs.UpdateOne(ctx,
		bson.M{"job_id": jobID, "executions.execution_id": e.ExecutionID},
		bson.M{
			"$set": bson.M{"executions.$": e, "last_modified_at": time.Now()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return errors.Wrap(err, "update execution")
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountRunningByHost(ctx context.Context, host string) (int, error) {
	count, err := s.jobs.CountDocuments(ctx, bson.M{
		"executions": bson.M{"$elemMatch": bson.M{
			"status":         model.ExecRunning,
			"container_host": host,
		}},
	})
	if err != nil {
		return 0, errors.Wrap(err, "count running by host")
	}
	return int(count), nil
}
