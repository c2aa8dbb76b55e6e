// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package trace

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestGenerator_New validates uniqueness under concurrency.
func TestGenerator_New(t *testing.T) {
	g := New()

	var mu sync.Mutex
	uniqueIDs := make(map[string]struct{})
	var wg sync.WaitGroup

	const concurrency = 200
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := g.New()
				mu.Lock()
				if _, exists := uniqueIDs[id]; exists {
					mu.Unlock()
					t.Errorf("duplicate ID found: %s", id)
					return
				}
				uniqueIDs[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, concurrency*200, len(uniqueIDs))
}

func TestGenerator_WithJob(t *testing.T) {
	g := New()
	ctx := g.WithJob(context.Background(), "job-1", "exec-1")

	assert.Equal(t, "job-1", JobID(ctx))
	assert.Equal(t, "exec-1", ExecutionID(ctx))
}

func TestGenerator_WithJob_NoExecution(t *testing.T) {
	g := New()
	ctx := g.WithJob(context.Background(), "job-1", "")

	assert.Equal(t, "job-1", JobID(ctx))
	assert.Equal(t, "", ExecutionID(ctx))
}
