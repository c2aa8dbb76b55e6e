// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package panicreport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastlane-run/fastlane/internal/config"
)

func TestNew_DisabledRobotDoesNotPush(t *testing.T) {
	r, err := New(config.PanicRobot{Enable: false}, "test")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		r.Report(context.Background(), "jobs", errors.New("boom"))
	})
}

func TestReport_NilErrorIsNoop(t *testing.T) {
	r, err := New(config.PanicRobot{Enable: false}, "test")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		r.Report(context.Background(), "jobs", nil)
	})
}

func TestReport_NilReporterIsNoop(t *testing.T) {
	var r *PanicRobot
	assert.NotPanics(t, func() {
		r.Report(context.Background(), "jobs", errors.New("boom"))
	})
}
