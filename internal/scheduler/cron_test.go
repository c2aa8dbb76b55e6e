// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastlane-run/fastlane/internal/e"
)

func TestNextCronFire_EveryMinute(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	next, err := NextCronFire("* * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), next)
}

func TestNextCronFire_InvalidExpr(t *testing.T) {
	_, err := NextCronFire("not a cron expr", time.Now())
	require.Error(t, err)
	assert.Equal(t, e.KindJobLogic, e.KindOf(err))
}

func TestValidateCronExpr(t *testing.T) {
	assert.NoError(t, ValidateCronExpr("0 */2 * * *"))
	assert.Error(t, ValidateCronExpr("bogus"))
}
