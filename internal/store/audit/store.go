// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/sk-pkg/logger"
)

// DBConfig names the SQL driver and connection parameters for the audit
// store, selected the same way the teacher switches on Databases[].DbType.
type DBConfig struct {
	Driver                 string // "mysql" or "postgres"
	DSN                    string
	MaxIdleConn            int
	MaxOpenConn            int
	ConnMaxLifetime        time.Duration
	ConnectRetryCount      int
	ConnectRetryInterval   time.Duration
}

// Recorder appends lifecycle Events to the audit store.
type Recorder struct {
	db     *gorm.DB
	logger *logger.Manager
}

// NewWithRetry opens a GORM connection with the given driver, retrying
// on failure the same way bootstrap.App.newMysqlDBWithRetry does for
// containerized services that start slowly.
//
// Parameters:
//   - ctx: context used for retry cancellation and logs.
//   - cfg: driver selection and connection parameters.
//   - log: logger manager for retry warnings.
//
// Returns:
//   - *Recorder: initialized audit recorder, with the schema migrated.
//   - error: returned when all retry attempts fail or context is canceled.
func NewWithRetry(ctx context.Context, cfg DBConfig, log *logger.Manager) (*Recorder, error) {
	retryCount := cfg.ConnectRetryCount
	if retryCount <= 0 {
		retryCount = 3
	}
	retryInterval := cfg.ConnectRetryInterval
	if retryInterval <= 0 {
		retryInterval = 3 * time.Second
	}

	var (
		db  *gorm.DB
		err error
	)

	for attempt := 1; attempt <= retryCount; attempt++ {
		db, err = open(cfg)
		if err == nil {
			break
		}

		if attempt == retryCount {
			return nil, err
		}

		log.Warn(ctx, "audit database connection failed, preparing retry",
			zap.String("driver", cfg.Driver),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", retryCount),
			zap.Duration("retryAfter", retryInterval),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err == nil {
		if cfg.MaxIdleConn > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
		}
		if cfg.MaxOpenConn > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	return &Recorder{db: db, logger: log}, nil
}

func open(cfg DBConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	default:
		return gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	}
}

// Record appends one lifecycle Event.
//
// Parameters:
//   - ctx: trace-aware context; its trace ID is stamped on the event.
//   - taskID, jobID, executionID: identifiers the event pertains to.
//   - kind: short dotted kind, e.g. "job.expired".
//   - message: human-readable summary.
//   - extra: arbitrary structured payload, marshaled to JSON.
//
// Returns:
//   - error: returned when persistence fails.
func (r *Recorder) Record(ctx context.Context, taskID, jobID, executionID, kind, message string, extra map[string]any) error {
	traceID, _ := ctx.Value(logger.TraceIDKey).(string)

	payload, err := json.Marshal(extra)
	if err != nil {
		return err
	}

	ev := &Event{
		TraceID:     traceID,
		TaskID:      taskID,
		JobID:       jobID,
		ExecutionID: executionID,
		Kind:        kind,
		Message:     message,
		Extra:       datatypes.JSON(payload),
	}

	_, err = ev.Create(r.db)
	if err != nil {
		r.logger.Error(ctx, "failed to record audit event", zap.String("kind", kind), zap.Error(err))
	}
	return err
}
