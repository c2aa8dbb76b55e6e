// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package pruner periodically removes containers Monitor has already
// finalized, grounded on app/monitor/handler.go's periodicCleanUp
// hourly ticker shape, retargeted from "drop stale log-collector
// state" to "remove processed containers from the host" (spec §4.5).
package pruner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sk-pkg/logger"

	"github.com/fastlane-run/fastlane/internal/monitor"
	"github.com/fastlane-run/fastlane/internal/runtime"
)

// DefaultInterval matches the teacher's periodicCleanUp cadence.
const DefaultInterval = time.Hour

// Pruner removes containers on every configured host whose name
// carries monitor.ProcessedNamePrefix.
type Pruner struct {
	Runtime  runtime.ContainerRuntime
	Hosts    []string
	Interval time.Duration
	Logger   *logger.Manager
}

// New creates a Pruner over the given hosts with the default hourly
// interval.
//
// Parameters:
//   - rt: ContainerRuntime used to list/remove containers.
//   - hosts: container hosts to sweep.
//   - log: logger manager.
//
// Returns:
//   - *Pruner: initialized pruner.
func New(rt runtime.ContainerRuntime, hosts []string, log *logger.Manager) *Pruner {
	return &Pruner{Runtime: rt, Hosts: hosts, Interval: DefaultInterval, Logger: log}
}

// Start launches the periodic sweep loop in a background goroutine.
//
// Parameters:
//   - ctx: parent context; canceling it stops the sweep loop.
//
// Returns:
//   - None.
func (p *Pruner) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Sweep(ctx)
			}
		}
	}()
}

// Sweep removes every processed container on every configured host
// once.
//
// Parameters:
//   - ctx: request context.
//
// Returns:
//   - None. Per-host/per-container errors are logged, not returned, so
//     one unreachable host doesn't block pruning the rest.
func (p *Pruner) Sweep(ctx context.Context) {
	for _, host := range p.Hosts {
		ids, err := p.Runtime.List(ctx, host, monitor.ProcessedNamePrefix)
		if err != nil {
			p.Logger.Error(ctx, "pruner: failed to list containers", zap.String("host", host), zap.Error(err))
			continue
		}

		for _, id := range ids {
			if err := p.Runtime.Remove(ctx, host, id); err != nil {
				p.Logger.Warn(ctx, "pruner: failed to remove container", zap.String("host", host), zap.String("container_id", id), zap.Error(err))
			}
		}
	}
}
