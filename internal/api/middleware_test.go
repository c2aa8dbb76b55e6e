// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceMiddleware_GeneratesTraceIDWhenAbsent(t *testing.T) {
	s, token := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/fastlane/tasks/task-1/jobs/missing", nil)
	req.Header.Set("Authorization", token)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestTraceMiddleware_EchoesClientSuppliedTraceID(t *testing.T) {
	s, token := newTestServer(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/fastlane/tasks/task-1/jobs/missing", nil)
	req.Header.Set("Authorization", token)
	req.Header.Set("X-Trace-ID", "caller-trace-id")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, "caller-trace-id", w.Header().Get("X-Trace-ID"))
}

func TestRequestLogger_NoopsWithoutLogger(t *testing.T) {
	s, token := newTestServer(t)
	require.Nil(t, s.Logger)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/fastlane/tasks/task-1/jobs/missing", nil)
	req.Header.Set("Authorization", token)
	w := httptest.NewRecorder()

	// Must not panic when no Logger is configured.
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
