// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sk-pkg/logger"
	"github.com/sk-pkg/util"
	"go.uber.org/zap"

	"github.com/fastlane-run/fastlane/internal/trace"
)

// traceMiddleware binds a trace ID to every request, adapted from
// app/http/middleware/trace_id.go's SetTraceID: reuse a client-supplied
// X-Trace-ID, or mint one from the Server's Generator.
func (s *Server) traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = s.Tracer.New()
		}

		c.Writer.Header().Set("X-Trace-ID", traceID)
		c.Set("trace_id", traceID)
		c.Next()
	}
}

// requestLogger records one structured log line per request, adapted
// from app/http/middleware/requset_logger.go's RequestLogger: same
// latency/status/method/URI/IP/body fields, logged only when a Logger
// is configured (api.New's caller may omit one in tests).
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Logger == nil {
			c.Next()
			return
		}

		start := time.Now()

		buf, _ := io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewBuffer(buf))

		c.Next()

		traceID, exists := c.Get("trace_id")
		if !exists {
			traceID = s.Tracer.New()
		}

		ctx := context.WithValue(c.Request.Context(), logger.TraceIDKey, traceID.(string))

		s.Logger.Info(ctx, "request log",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", util.GetRealIP(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.RequestURI),
			zap.String("body", string(buf)),
		)
	}
}
