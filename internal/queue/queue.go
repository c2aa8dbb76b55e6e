// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package queue defines the reliable queue primitive spec.md §4.6
// requires: push-at-delay, blocking pop with a visibility timeout, and
// fast length queries. The four named streams (jobs, monitor, webhooks,
// notify) are just four Queue instances constructed over the same
// implementation.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Names of the four work streams spec.md §2 defines.
const (
	Jobs     = "jobs"
	Monitor  = "monitor"
	Webhooks = "webhooks"
	Notify   = "notify"
)

// Item is the payload enqueued onto a stream. Body is keyed by
// execution_id (or job_id for webhook/notify items without an
// Execution yet) so that handlers can perform idempotent,
// replay-safe Store operations (spec §4.6).
type Item struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Message is a popped Item together with the handle needed to Ack or
// Release it.
type Message struct {
	Item Item
	// Handle is opaque to callers; implementations use it to identify
	// the specific delivery being acked/released (e.g. a sorted-set
	// member plus score, or a receipt handle).
	Handle string
}

// Queue is the reliable queue primitive the core depends on (spec §6).
type Queue interface {
	// PushAt enqueues item so it becomes visible at visibleAt.
	PushAt(ctx context.Context, item Item, visibleAt time.Time) error
	// Pop blocks (up to the context deadline) for the next visible
	// item, marks it invisible for vt, and returns it. Returns (nil,
	// nil) on a context-bounded empty pop, never an error for "no
	// work available".
	Pop(ctx context.Context, vt time.Duration) (*Message, error)
	// Ack permanently removes a delivered message.
	Ack(ctx context.Context, msg *Message) error
	// Release makes a delivered message visible again immediately,
	// for deliberate early requeue (e.g. pool-saturation back-off).
	Release(ctx context.Context, msg *Message) error
	// Len returns the number of items currently in the queue,
	// regardless of visibility.
	Len(ctx context.Context) (int64, error)
}

// Push is a convenience wrapper for immediate visibility.
//
// Parameters:
//   - ctx: request context.
//   - q: destination queue.
//   - item: item to enqueue.
//
// Returns:
//   - error: propagated from PushAt.
func Push(ctx context.Context, q Queue, item Item) error {
	return q.PushAt(ctx, item, time.Time{})
}
