// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package memqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastlane-run/fastlane/internal/queue"
)

func item(v string) queue.Item {
	b, _ := json.Marshal(v)
	return queue.Item{Kind: "test", Body: b}
}

func TestPushAndPop(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, queue.Push(ctx, q, item("a")))

	msg, err := q.Pop(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, msg)

	var v string
	require.NoError(t, json.Unmarshal(msg.Item.Body, &v))
	assert.Equal(t, "a", v)
}

func TestPushAt_NotVisibleYet(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, q.PushAt(ctx, item("future"), time.Now().Add(time.Hour)))

	msg, err := q.Pop(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestAck_RemovesMessage(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, queue.Push(ctx, q, item("a")))
	msg, err := q.Pop(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, msg))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestVisibilityTimeout_Redelivers(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, queue.Push(ctx, q, item("a")))

	msg1, err := q.Pop(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg1)

	// Never ack; wait past the visibility timeout.
	time.Sleep(80 * time.Millisecond)

	msg2, err := q.Pop(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, msg2, "message should reappear after visibility timeout lapses")
}

func TestRelease_MakesVisibleImmediately(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, queue.Push(ctx, q, item("a")))
	msg, err := q.Pop(ctx, time.Hour)
	require.NoError(t, err)
	require.NoError(t, q.Release(ctx, msg))

	msg2, err := q.Pop(ctx, time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, msg2)
}
