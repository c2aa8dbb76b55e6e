// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package redisqueue is the production queue.Queue implementation,
// backed by a Redis sorted set keyed by visibility timestamp score, per
// spec.md §6 ("Key-value store holds queues (sorted sets keyed by
// visibility timestamp)"). Pop is a Lua script so "pick the lowest
// score that is due, and stamp it invisible" is atomic — the same
// SET-NX-EX atomicity idiom the teacher's schedule package uses for its
// distributed lock (app/pkg/schedule/job.go's lock/unLock), here
// extended to a scripted pop since a single command can't both read
// and conditionally rewrite a sorted-set member's score.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/fastlane-run/fastlane/internal/queue"
)

// popScript atomically pops the lowest-scored member whose score is <=
// now, re-inserts it with score = now + vt (the invisibility window),
// and returns it. KEYS[1] is the sorted set key. ARGV[1] is now (ms),
// ARGV[2] is now+vt (ms).
const popScript = `
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then
  return nil
end
local member = items[1]
redis.call('ZADD', KEYS[1], ARGV[2], member)
return member
`

// Queue is a Redis sorted-set backed queue.Queue.
type Queue struct {
	client *goredis.Client
	key    string
	pop    *goredis.Script
}

// New creates a Queue over the given Redis client and sorted-set key
// (conventionally "fastlane:queue:<name>").
//
// Parameters:
//   - client: connected go-redis client.
//   - key: sorted-set key dedicated to this queue.
//
// Returns:
//   - *Queue: initialized queue.
func New(client *goredis.Client, key string) *Queue {
	return &Queue{client: client, key: key, pop: goredis.NewScript(popScript)}
}

type wireMessage struct {
	Item   queue.Item `json:"item"`
	Handle string     `json:"handle"`
}

func (q *Queue) PushAt(ctx context.Context, item queue.Item, visibleAt time.Time) error {
	if visibleAt.IsZero() {
		visibleAt = time.Now()
	}

	handle := fmt.Sprintf("%d-%s", time.Now().UnixNano(), item.Kind)
	wm := wireMessage{Item: item, Handle: handle}

	payload, err := json.Marshal(wm)
	if err != nil {
		return errors.Wrap(err, "marshal queue item")
	}

	return errors.Wrap(
		q.client.ZAdd(ctx, q.key, goredis.Z{Score: float64(visibleAt.UnixMilli()), Member: payload}).Err(),
		"push item",
	)
}

// Pop blocks, polling at a short interval, until an item is visible or
// ctx is done. Redis has no native blocking primitive over a sorted
// set's score range, so this polls the way the teacher's scheduler
// ticks every second to check trigger conditions (app/pkg/schedule's
// Start loop) rather than relying on BLPOP-style semantics, which
// don't compose with delayed visibility.
func (q *Queue) Pop(ctx context.Context, vt time.Duration) (*queue.Message, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		msg, err := q.tryPop(ctx, vt)
		if err != nil || msg != nil {
			return msg, err
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
		}
	}
}

func (q *Queue) tryPop(ctx context.Context, vt time.Duration) (*queue.Message, error) {
	now := time.Now()
	res, err := q.pop.Run(ctx, q.client, []string{q.key},
		now.UnixMilli(), now.Add(vt).UnixMilli(),
	).Result()

	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "pop item")
	}

	raw, ok := res.(string)
	if !ok {
		return nil, errors.New("pop item: unexpected script result type")
	}

	var wm wireMessage
	if err := json.Unmarshal([]byte(raw), &wm); err != nil {
		return nil, errors.Wrap(err, "decode popped item")
	}

	return &queue.Message{Item: wm.Item, Handle: raw}, nil
}

func (q *Queue) Ack(ctx context.Context, msg *queue.Message) error {
	return errors.Wrap(q.client.ZRem(ctx, q.key, msg.Handle).Err(), "ack item")
}

func (q *Queue) Release(ctx context.Context, msg *queue.Message) error {
	return errors.Wrap(
		q.client.ZAdd(ctx, q.key, goredis.Z{Score: float64(time.Now().UnixMilli()), Member: msg.Handle}).Err(),
		"release item",
	)
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	return n, errors.Wrap(err, "queue length")
}
