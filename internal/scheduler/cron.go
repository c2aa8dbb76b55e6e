// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fastlane-run/fastlane/internal/e"
)

// cronParser parses five-field standard cron expressions (minute, hour,
// day-of-month, month, day-of-week), evaluated in UTC per spec §4.1.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextCronFire returns the next UTC fire time for expr strictly after
// after.
//
// Parameters:
//   - expr: five-field standard cron expression.
//   - after: reference time; the result is strictly after this instant.
//
// Returns:
//   - time.Time: next fire time in UTC.
//   - error: classified KindJobLogic when expr does not parse, so bad
//     cron expressions are rejected at creation and never stored
//     (spec §7).
func NextCronFire(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, e.Classify(e.KindJobLogic, err)
	}
	return sched.Next(after.UTC()).UTC(), nil
}

// ValidateCronExpr reports whether expr is a well-formed five-field
// cron expression, for use at Job-creation time (spec §7 "Job logic"
// errors are rejected at creation, never stored).
//
// Parameters:
//   - expr: candidate cron expression.
//
// Returns:
//   - error: nil when valid, otherwise a KindJobLogic classified error.
func ValidateCronExpr(expr string) error {
	_, err := cronParser.Parse(expr)
	if err != nil {
		return e.Classify(e.KindJobLogic, err)
	}
	return nil
}
