// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJob_RedactEnvs_MasksMatchingNames(t *testing.T) {
	j := &Job{Spec: Spec{Envs: map[string]string{
		"AWS_SECRET_ACCESS_KEY": "shh",
		"DB_PASSWORD":           "hunter2",
		"LOG_LEVEL":             "debug",
	}}}

	j.RedactEnvs([]string{"*_SECRET_ACCESS_KEY", "*_PASSWORD"})

	assert.Equal(t, redactedValue, j.Spec.Envs["AWS_SECRET_ACCESS_KEY"])
	assert.Equal(t, redactedValue, j.Spec.Envs["DB_PASSWORD"])
	assert.Equal(t, "debug", j.Spec.Envs["LOG_LEVEL"])
}

func TestJob_RedactEnvs_CaseInsensitive(t *testing.T) {
	j := &Job{Spec: Spec{Envs: map[string]string{"api_token": "x"}}}

	j.RedactEnvs([]string{"API_TOKEN"})

	assert.Equal(t, redactedValue, j.Spec.Envs["api_token"])
}

func TestJob_RedactEnvs_EmptyBlacklistIsNoop(t *testing.T) {
	j := &Job{Spec: Spec{Envs: map[string]string{"FOO": "bar"}}}

	j.RedactEnvs(nil)

	assert.Equal(t, "bar", j.Spec.Envs["FOO"])
}
