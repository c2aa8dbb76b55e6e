// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package redisqueue

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"

	"github.com/fastlane-run/fastlane/internal/queue"
)

func TestAck_IssuesZRem(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := New(client, "fastlane:queue:jobs")

	mock.ExpectZRem("fastlane:queue:jobs", "handle-123").SetVal(1)

	err := q.Ack(context.Background(), &queue.Message{Handle: "handle-123"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLen_IssuesZCard(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := New(client, "fastlane:queue:jobs")

	mock.ExpectZCard("fastlane:queue:jobs").SetVal(3)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
