// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package docker

import (
	"context"
	"strings"

	stderrors "errors"

	"github.com/docker/docker/errdefs"

	"github.com/fastlane-run/fastlane/internal/e"
)

// ClassifyError wraps a Docker SDK error with the semantic Kind the
// Runner branches on, extending the
// teacher's isContainerNotFoundError/isContextCanceledError pattern
// (app/monitor/error_classify.go) with unauthorized and rate-limit
// text matching to produce spec §7's transient/permanent split.
//
// Parameters:
//   - err: error returned by a Docker SDK call.
//
// Returns:
//   - error: nil when err is nil, otherwise an *e.Classified.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case isContextCanceledError(err):
		return e.Classify(e.KindTimeout, err)
	case isContainerNotFoundError(err):
		return e.Classify(e.KindRuntimePermanent, err)
	case errdefs.IsUnauthorized(err):
		return e.Classify(e.KindRuntimePermanent, err)
	case isRateLimitedError(err):
		return e.Classify(e.KindTransientInfra, err)
	case errdefs.IsUnavailable(err) || errdefs.IsSystem(err):
		return e.Classify(e.KindTransientInfra, err)
	default:
		return e.Classify(e.KindTransientInfra, err)
	}
}

func isContextCanceledError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context canceled") || strings.Contains(msg, "context deadline exceeded")
}

func isContainerNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errdefs.IsNotFound(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no such container")
}

func isRateLimitedError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "toomanyrequests") || strings.Contains(msg, "rate limit")
}
