// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package backoff implements the three distinct exponential back-off
// policies the core needs: monitor-poll, retry-on-failure, and
// pool-saturated-requeue. Spec §9 calls out explicitly that these must
// never be collapsed into one set of constants, since each governs a
// different resource (a single poll loop, a Job's retry budget, and a
// host pool's admission rate) with very different time horizons.
package backoff

import "time"

// Policy computes delay = min(base * 2^attempt, max).
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the back-off delay for the given zero-based attempt
// number, capped at p.Max.
//
// Parameters:
//   - attempt: zero-based attempt/poll counter.
//
// Returns:
//   - time.Duration: delay before the next attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// Guard against overflow for large attempt counts; once the shifted
	// base would exceed Max there is no point computing further.
	d := p.Base
	for i := 0; i < attempt; i++ {
		if d >= p.Max {
			return p.Max
		}
		d *= 2
	}

	if d > p.Max {
		return p.Max
	}
	return d
}

// MonitorPoll is the back-off between successive polls of one running
// Execution (spec §4.4: base=1s, max=30s).
func MonitorPoll() Policy {
	return Policy{Base: time.Second, Max: 30 * time.Second}
}

// RetryOnFailure is the back-off before a failed/timed-out Job's next
// Execution attempt is enqueued (spec §4.4: base=5s, max=10m).
func RetryOnFailure() Policy {
	return Policy{Base: 5 * time.Second, Max: 10 * time.Minute}
}

// PoolSaturated is the back-off applied when the Dispatcher requeues a
// Job because its pool is at maxRunning (spec §4.2, §4.6). It uses a
// shorter ceiling than RetryOnFailure because saturation is expected to
// clear quickly as running Executions finish, not because the Job
// itself is failing.
func PoolSaturated() Policy {
	return Policy{Base: 2 * time.Second, Max: time.Minute}
}
