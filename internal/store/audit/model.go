// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package audit is a GORM-backed side store that records Job lifecycle
// events for operational search. It is not the system of record (the
// document store in store/mongo is); it exists the way the teacher's
// only persistence concern did — app/model/collector/log.go persisted
// one row per collected container log line. Here, one row is appended
// per terminal outcome the Monitor reports instead; an Execution that
// fails and is retried records no row.
package audit

import (
	"database/sql"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is one recorded Job or Execution lifecycle transition.
type Event struct {
	ID          int            `gorm:"primaryKey;column:id" json:"-"`
	Time        sql.NullTime   `gorm:"time" json:"time"`
	TraceID     string         `gorm:"trace_id" json:"trace_id"`
	TaskID      string         `gorm:"task_id" json:"task_id"`
	JobID       string         `gorm:"job_id" json:"job_id"`
	ExecutionID string         `gorm:"execution_id" json:"execution_id"`
	Kind        string         `gorm:"kind" json:"kind"` // e.g. "execution.done", "execution.failed"
	Message     string         `gorm:"message" json:"message"`
	Extra       datatypes.JSON `gorm:"extra" json:"extra"`
}

// TableName returns the database table name for Event.
//
// Returns:
//   - string: physical table name.
func (e *Event) TableName() string {
	return "fastlane_audit_event"
}

// Create inserts the current Event record into database.
//
// Parameters:
//   - db: GORM database client.
//
// Returns:
//   - int: auto-increment primary key of inserted record.
//   - error: wrapped create error when insertion fails.
func (e *Event) Create(db *gorm.DB) (id int, err error) {
	if err = db.Create(e).Error; err != nil {
		return 0, errors.Wrap(err, "create event")
	}
	return e.ID, nil
}

// ListByArgs returns events filtered by raw query conditions and
// arguments, newest first.
//
// Parameters:
//   - db: GORM database client.
//   - query: SQL where expression or struct condition.
//   - args: query placeholder arguments.
//
// Returns:
//   - []Event: matched events sorted by descending ID.
//   - error: query error.
func (e *Event) ListByArgs(db *gorm.DB, query interface{}, args ...interface{}) (events []Event, err error) {
	err = db.Where(query, args...).Order("id desc").Find(&events).Error
	return
}
