// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package webhook delivers a Job's terminal-state event to the
// operator-supplied URLs in its NotifyTargets.Webhooks, grounded on
// app/job/monitor/ip.go's resty.New().R() client usage (adapted from
// GET to a JSON POST).
package webhook

import (
	"context"
	"encoding/json"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sk-pkg/logger"

	"github.com/fastlane-run/fastlane/internal/store"
)

// Delivery is the JSON body POSTed to every configured webhook URL.
type Delivery struct {
	JobID       string `json:"job_id"`
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

// Consumer pops "job.terminal" items off the webhooks queue and POSTs
// one Delivery per configured URL on the owning Job.
type Consumer struct {
	Store  store.Store
	Client *resty.Client
	Logger *logger.Manager
}

// New creates a Consumer with a fresh resty client.
//
// Parameters:
//   - st: durable Store, used to look up the Job's webhook URLs.
//   - log: logger manager.
//
// Returns:
//   - *Consumer: initialized consumer.
func New(st store.Store, log *logger.Manager) *Consumer {
	return &Consumer{Store: st, Client: resty.New(), Logger: log}
}

// Step processes one "webhooks" queue message.
//
// Parameters:
//   - ctx: request context.
//   - body: JSON-encoded Delivery (job_id, execution_id, status).
//
// Returns:
//   - error: non-nil only when body fails to decode or the Job lookup
//     fails for a reason other than ErrNotFound; individual URL POST
//     failures are logged and otherwise swallowed so one unreachable
//     endpoint never blocks delivery to the rest.
func (c *Consumer) Step(ctx context.Context, body []byte) error {
	var d Delivery
	if err := json.Unmarshal(body, &d); err != nil {
		return errors.Wrap(err, "webhook: decode delivery")
	}

	job, err := c.Store.GetJob(ctx, "", d.JobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "webhook: load job")
	}

	for _, url := range job.Spec.Notify.Webhooks {
		resp, err := c.Client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(d).
			Post(url)
		if err != nil {
			c.Logger.Warn(ctx, "webhook: delivery failed", zap.String("url", url), zap.Error(err))
			continue
		}
		if resp.IsError() {
			c.Logger.Warn(ctx, "webhook: delivery rejected", zap.String("url", url), zap.Int("status", resp.StatusCode()))
		}
	}

	return nil
}
