// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package worker runs a pool of goroutines draining one queue each,
// routing popped messages to a Handler. It is grounded on the
// teacher's bootstrap.App.Start "launch N background subsystems as
// goroutines" shape and app/pkg/schedule/job.go's runWithRecover panic
// guard, generalized from "one job, one goroutine" to "N goroutines
// sharing one queue" (spec §4.7).
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sk-pkg/logger"

	"github.com/fastlane-run/fastlane/internal/queue"
)

// Handler processes one queue item's body and reports success via a
// nil error. A non-nil error releases the message back to the queue
// instead of acking it (spec §4.7).
type Handler func(ctx context.Context, body []byte) error

// Reporter receives errors a Pool decides are alert-worthy: a
// recovered handler panic, always; a plain handler error is never
// reported, since a released message retrying is the expected path.
type Reporter interface {
	Report(ctx context.Context, source string, err error)
}

// Pool drains one Queue with Concurrency goroutines, each popping,
// running Handler under Timeout, and acking or releasing accordingly.
type Pool struct {
	Name        string
	Queue       queue.Queue
	Handler     Handler
	Concurrency int
	VisibilityTimeout time.Duration
	HandlerTimeout    time.Duration
	Logger      *logger.Manager
	Reporter    Reporter // optional; nil when no panic-reporting channel is configured.
}

// WithReporter attaches a Reporter that every recovered handler panic
// is routed through, in addition to the existing zap log line.
func (p *Pool) WithReporter(r Reporter) *Pool {
	p.Reporter = r
	return p
}

// New creates a worker Pool with sane defaults for visibility and
// handler timeouts when zero values are given.
//
// Parameters:
//   - name: queue name, used only for logging.
//   - q: queue to drain.
//   - h: handler invoked per popped message.
//   - concurrency: number of goroutines draining q; defaults to 1.
//   - log: logger manager.
//
// Returns:
//   - *Pool: initialized, unstarted worker pool.
func New(name string, q queue.Queue, h Handler, concurrency int, log *logger.Manager) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		Name: name, Queue: q, Handler: h, Concurrency: concurrency,
		VisibilityTimeout: 2 * time.Minute, HandlerTimeout: time.Minute,
		Logger: log,
	}
}

// Run launches Concurrency goroutines and blocks until ctx is done.
//
// Parameters:
//   - ctx: parent context; canceling it stops every goroutine in the
//     pool once their current handler call returns.
//
// Returns:
//   - None.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{}, p.Concurrency)

	for i := 0; i < p.Concurrency; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			p.loop(ctx)
		}()
	}

	for i := 0; i < p.Concurrency; i++ {
		<-done
	}
}

func (p *Pool) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := p.Queue.Pop(ctx, p.VisibilityTimeout)
		if err != nil {
			p.Logger.Error(ctx, "worker: pop failed", zap.String("queue", p.Name), zap.Error(err))
			continue
		}
		if msg == nil {
			continue
		}

		p.handle(ctx, msg)
	}
}

// handle runs Handler with panic recovery, the same guard the
// teacher's runWithRecover applies around a job's handler invocation,
// so one bad message can never take down the whole pool.
func (p *Pool) handle(ctx context.Context, msg *queue.Message) {
	handlerCtx, cancel := context.WithTimeout(ctx, p.HandlerTimeout)
	defer cancel()

	var handlerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.Logger.Error(ctx, "worker: handler panicked", zap.String("queue", p.Name), zap.Any("panic", r))
				handlerErr = errPanicked
				if p.Reporter != nil {
					p.Reporter.Report(ctx, p.Name, fmt.Errorf("%s: %v", errPanicked, r))
				}
			}
		}()
		handlerErr = p.Handler(handlerCtx, msg.Item.Body)
	}()

	if handlerErr != nil {
		p.Logger.Warn(ctx, "worker: handler failed, releasing message", zap.String("queue", p.Name), zap.Error(handlerErr))
		if err := p.Queue.Release(ctx, msg); err != nil {
			p.Logger.Error(ctx, "worker: failed to release message", zap.String("queue", p.Name), zap.Error(err))
		}
		return
	}

	if err := p.Queue.Ack(ctx, msg); err != nil {
		p.Logger.Error(ctx, "worker: failed to ack message", zap.String("queue", p.Name), zap.Error(err))
	}
}

type workerError string

func (e workerError) Error() string { return string(e) }

const errPanicked = workerError("worker: handler panicked")
