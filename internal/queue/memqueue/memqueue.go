// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package memqueue is an in-memory queue.Queue fake used by core unit
// tests, mirroring the visibility-timeout semantics of redisqueue
// without requiring a Redis instance.
package memqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/fastlane-run/fastlane/internal/queue"
)

type entry struct {
	item      queue.Item
	visibleAt time.Time
	handle    string
	index     int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].visibleAt.Before(h[j].visibleAt) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue is an in-memory implementation of queue.Queue.
type Queue struct {
	mu      sync.Mutex
	heap    entryHeap
	nextSeq uint64
	invis   map[string]*entry // handle -> entry, while popped and not yet acked/released
}

// New creates an empty in-memory queue.
//
// Returns:
//   - *Queue: initialized queue.
func New() *Queue {
	return &Queue{invis: make(map[string]*entry)}
}

func (q *Queue) PushAt(_ context.Context, item queue.Item, visibleAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if visibleAt.IsZero() {
		visibleAt = time.Now()
	}

	q.nextSeq++
	e := &entry{item: item, visibleAt: visibleAt}
	heap.Push(&q.heap, e)
	return nil
}

func (q *Queue) Pop(ctx context.Context, vt time.Duration) (*queue.Message, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if msg := q.tryPop(vt); msg != nil {
			return msg, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
		}
	}
}

func (q *Queue) tryPop(vt time.Duration) *queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()

	// At-least-once redelivery: an invisible message whose visibility
	// window lapsed without an Ack/Release reappears on the queue.
	for handle, e := range q.invis {
		if !e.visibleAt.After(now) {
			delete(q.invis, handle)
			e.visibleAt = time.Time{}
			heap.Push(&q.heap, e)
		}
	}

	if len(q.heap) == 0 || q.heap[0].visibleAt.After(now) {
		return nil
	}

	e := heap.Pop(&q.heap).(*entry)
	q.nextSeq++
	e.handle = handleFor(q.nextSeq)
	e.visibleAt = now.Add(vt)
	q.invis[e.handle] = e

	return &queue.Message{Item: e.item, Handle: e.handle}
}

func (q *Queue) Ack(_ context.Context, msg *queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.invis, msg.Handle)
	return nil
}

func (q *Queue) Release(_ context.Context, msg *queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.invis[msg.Handle]
	if !ok {
		return nil
	}
	delete(q.invis, msg.Handle)
	e.visibleAt = time.Time{}
	heap.Push(&q.heap, e)
	return nil
}

func (q *Queue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return int64(len(q.heap) + len(q.invis)), nil
}

func handleFor(seq uint64) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		b[i] = hex[seq&0xf]
		seq >>= 4
	}
	return string(b)
}
