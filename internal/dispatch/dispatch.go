// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package dispatch selects the container host a Job's next Execution
// runs on. It is grounded on the teacher's app/pkg/schedule job-config
// shape (a struct of match rules plus runtime state), generalized from
// "which handler runs on this trigger" to "which host runs this Job".
package dispatch

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fastlane-run/fastlane/internal/model"
	"github.com/fastlane-run/fastlane/internal/store"
)

// ErrPoolSaturated is returned by Select when the matched pool's total
// running-Execution count across its eligible hosts is at or above the
// pool's MaxRunning, or when no enabled, untripped host remains. The caller (worker
// loop) re-enqueues with the pool-saturation back-off schedule rather
// than treating this as a failure.
var ErrPoolSaturated = errors.New("dispatch: pool saturated")

// Pool groups hosts behind one task_id match rule.
type Pool struct {
	Name       string
	Match      *regexp.Regexp
	Hosts      []string
	MaxRunning int
	Disabled   map[string]bool
}

// Dispatcher selects a host for a Job's Execution among the pool whose
// Match expression matches the Job's task_id, falling back to a
// default pool when none match.
type Dispatcher struct {
	Store   store.Store
	Pools   []Pool
	Default Pool
	Breaker *CircuitBreaker
}

// New creates a Dispatcher over the given pools, in priority order,
// with def used when no pool's Match matches.
//
// Parameters:
//   - st: Store used for per-host running-Execution counts.
//   - pools: configured pools, evaluated in order; first match wins.
//   - def: fallback pool used when no pool matches.
//
// Returns:
//   - *Dispatcher: initialized dispatcher with a fresh CircuitBreaker.
func New(st store.Store, pools []Pool, def Pool) *Dispatcher {
	return &Dispatcher{Store: st, Pools: pools, Default: def, Breaker: NewCircuitBreaker(5, time.Minute)}
}

// Select returns the least-loaded enabled, untripped host in the pool
// matching job's TaskID, breaking ties lexicographically for
// determinism.
//
// Parameters:
//   - ctx: request context.
//   - job: Job about to be dispatched.
//
// Returns:
//   - string: selected host.
//   - error: ErrPoolSaturated when the pool's total running count is at
//     MaxRunning or no eligible host remains, or a wrapped Store error.
func (d *Dispatcher) Select(ctx context.Context, job *model.Job) (string, error) {
	pool := d.poolFor(job.TaskID)

	type candidate struct {
		host    string
		running int
	}

	var candidates []candidate
	total := 0

	for _, host := range pool.Hosts {
		if pool.Disabled[host] || d.Breaker.Tripped(host) {
			continue
		}

		n, err := d.Store.CountRunningByHost(ctx, host)
		if err != nil {
			return "", errors.Wrap(err, "dispatch: count running by host")
		}

		total += n
		candidates = append(candidates, candidate{host: host, running: n})
	}

	if len(candidates) == 0 || (pool.MaxRunning > 0 && total >= pool.MaxRunning) {
		return "", ErrPoolSaturated
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].running != candidates[j].running {
			return candidates[i].running < candidates[j].running
		}
		return candidates[i].host < candidates[j].host
	})

	return candidates[0].host, nil
}

func (d *Dispatcher) poolFor(taskID string) Pool {
	for _, p := range d.Pools {
		if p.Match != nil && p.Match.MatchString(taskID) {
			return p
		}
	}
	return d.Default
}

// CircuitBreaker tracks consecutive runtime-permanent failures per
// host and trips a host out of Select's candidate set for a cooldown
// period, per spec.md's open question on host health tracking.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration

	mu      sync.Mutex
	fails   map[string]int
	tripped map[string]time.Time
}

// NewCircuitBreaker creates a breaker that trips a host after
// threshold consecutive failures, for cooldown.
//
// Parameters:
//   - threshold: consecutive failures before tripping.
//   - cooldown: duration a tripped host is excluded from dispatch.
//
// Returns:
//   - *CircuitBreaker: initialized breaker with no hosts tripped.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		fails:     make(map[string]int),
		tripped:   make(map[string]time.Time),
	}
}

// RecordFailure increments host's consecutive-failure count, tripping
// it once the count reaches the breaker's threshold.
//
// Parameters:
//   - host: host that just produced a runtime-permanent failure.
//
// Returns:
//   - None.
func (b *CircuitBreaker) RecordFailure(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fails[host]++
	if b.fails[host] >= b.threshold {
		b.tripped[host] = time.Now().Add(b.cooldown)
	}
}

// RecordSuccess clears host's consecutive-failure count.
//
// Parameters:
//   - host: host that just completed an Execution without a
//     runtime-permanent failure.
//
// Returns:
//   - None.
func (b *CircuitBreaker) RecordSuccess(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.fails, host)
}

// Tripped reports whether host is currently excluded from dispatch,
// clearing the trip once its cooldown has elapsed.
//
// Parameters:
//   - host: host to check.
//
// Returns:
//   - bool: true while host is within its cooldown window.
func (b *CircuitBreaker) Tripped(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.tripped[host]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(b.tripped, host)
		delete(b.fails, host)
		return false
	}
	return true
}
