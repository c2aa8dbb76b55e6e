// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 30*time.Second, p.Delay(10)) // capped
}

func TestPolicy_Delay_NegativeAttempt(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second}
	assert.Equal(t, time.Second, p.Delay(-1))
}

func TestDistinctPolicies(t *testing.T) {
	// The three named policies must carry distinct constants, per
	// spec §9's explicit instruction not to collapse them.
	mp := MonitorPoll()
	rf := RetryOnFailure()
	ps := PoolSaturated()

	assert.NotEqual(t, mp, rf)
	assert.NotEqual(t, rf, ps)
	assert.NotEqual(t, mp, ps)
}
