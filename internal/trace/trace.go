// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package trace generates correlation IDs threaded through worker and
// request contexts so a Job's whole lifecycle can be traced across
// scheduler, dispatcher, runner, and monitor log lines.
package trace

import (
	"context"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sk-pkg/logger"
	"github.com/sk-pkg/util"
)

const (
	initIndex = 10000000 // Initial sequence value for each prefix epoch.
	indexBase = 36       // Base used to encode sequence and timestamp.
)

var (
	hostnameOnce sync.Once // Ensures hostname lookup is executed once.
	hostname     string    // Cached hostname reused by all trace IDs.
)

// Generator produces unique trace IDs with a host+timestamp prefix.
type Generator struct {
	index  uint64
	prefix string
	mu     sync.Mutex
}

// New creates a trace ID generator initialized with host prefix data.
//
// Returns:
//   - *Generator: initialized trace ID generator.
func New() *Generator {
	g := &Generator{index: initIndex}
	g.updatePrefix()
	return g
}

// updatePrefix refreshes the prefix using current timestamp and cached
// hostname.
//
// Returns:
//   - None.
func (g *Generator) updatePrefix() {
	var err error

	g.mu.Lock()
	defer g.mu.Unlock()

	hostnameOnce.Do(func() {
		hostname, err = os.Hostname()
		if err != nil {
			log.Printf("failed to get hostname: %v", err)
			hostname = "unknown"
		}
	})

	g.prefix = util.SpliceStr(hostname, "-", strconv.FormatInt(time.Now().UnixNano(), indexBase), "-")
	g.index = initIndex
}

// New returns a new unique trace ID string.
//
// Returns:
//   - string: unique trace ID composed of prefix and base36 sequence.
func (g *Generator) New() string {
	newIndex := atomic.AddUint64(&g.index, 1)

	if newIndex == 0 {
		g.mu.Lock()
		defer g.mu.Unlock()
		if atomic.LoadUint64(&g.index) == 0 {
			g.updatePrefix()
		}
	}

	id := strconv.FormatUint(newIndex, indexBase)

	return util.SpliceStr(g.prefix, id)
}

// WithJob returns a child context carrying a fresh trace ID plus the
// job/execution identifiers that a log line needs to reconstruct one
// Job's lifecycle across scheduler, dispatcher, runner, and monitor.
//
// Parameters:
//   - ctx: parent context.
//   - jobID: Job identifier being operated on.
//   - executionID: Execution identifier, empty when not yet created.
//
// Returns:
//   - context.Context: child context carrying trace/job/execution values.
func (g *Generator) WithJob(ctx context.Context, jobID, executionID string) context.Context {
	ctx = context.WithValue(ctx, logger.TraceIDKey, g.New())
	ctx = context.WithValue(ctx, jobIDKey{}, jobID)
	if executionID != "" {
		ctx = context.WithValue(ctx, executionIDKey{}, executionID)
	}
	return ctx
}

type jobIDKey struct{}
type executionIDKey struct{}

// JobID extracts the job_id value stashed by WithJob, if any.
//
// Parameters:
//   - ctx: context to inspect.
//
// Returns:
//   - string: job ID, or empty when absent.
func JobID(ctx context.Context) string {
	v, _ := ctx.Value(jobIDKey{}).(string)
	return v
}

// ExecutionID extracts the execution_id value stashed by WithJob, if any.
//
// Parameters:
//   - ctx: context to inspect.
//
// Returns:
//   - string: execution ID, or empty when absent.
func ExecutionID(ctx context.Context) string {
	v, _ := ctx.Value(executionIDKey{}).(string)
	return v
}
