// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package panicreport adapts github.com/sk-pkg/monitor's PanicRobot, a
// gin recovery middleware that pushes a recovered panic to Wechat and
// Feishu webhooks, for use outside the HTTP request path. Worker pools
// have no inbound gin.Context to recover into, so Report drives the
// real middleware through a synthetic request/response cycle instead
// of reimplementing its webhook-push logic, the same middleware
// bootstrap.App.loadPanicRobot installs on the HTTP mux.
package panicreport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	"github.com/sk-pkg/monitor"

	"github.com/fastlane-run/fastlane/internal/config"
)

// Reporter reports an error observed outside the HTTP request path,
// such as a recovered worker panic or a handler failure worth
// alerting on.
type Reporter interface {
	Report(ctx context.Context, source string, err error)
}

type ctxKey string

const panicValueKey ctxKey = "panicreport.value"

// PanicRobot reports through sk-pkg/monitor's PanicRobot middleware by
// feeding it one synthetic request per Report call.
type PanicRobot struct {
	engine *gin.Engine
}

// New builds a PanicRobot reporter from the Monitor.PanicRobot config
// section, the same options bootstrap.App.loadPanicRobot passes to
// monitor.NewPanicRobot.
//
// Parameters:
//   - cfg: Wechat/Feishu push targets and enable flags.
//   - env: deployment environment name, reported alongside the panic.
//
// Returns:
//   - *PanicRobot: ready to Report.
//   - error: returned when monitor.NewPanicRobot rejects the options.
func New(cfg config.PanicRobot, env string) (*PanicRobot, error) {
	robot, err := monitor.NewPanicRobot(
		monitor.PanicRobotEnable(cfg.Enable),
		monitor.PanicRobotEnv(env),
		monitor.PanicRobotWechatEnable(cfg.Wechat.Enable),
		monitor.PanicRobotWechatPushUrl(cfg.Wechat.PushUrl),
		monitor.PanicRobotFeishuEnable(cfg.Feishu.Enable),
		monitor.PanicRobotFeishuPushUrl(cfg.Feishu.PushUrl),
	)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(robot.Middleware())
	engine.Any("/report", func(c *gin.Context) {
		if v := c.Request.Context().Value(panicValueKey); v != nil {
			panic(v)
		}
	})

	return &PanicRobot{engine: engine}, nil
}

// Report feeds source and err to the PanicRobot middleware as a
// recovered panic, driving it with an httptest request/recorder pair
// rather than duplicating its webhook-push logic.
//
// Parameters:
//   - ctx: parent context for the synthetic request.
//   - source: identifies the worker pool or queue that observed err.
//   - err: the error to report; a nil err is a no-op.
//
// Returns:
//   - None.
func (r *PanicRobot) Report(ctx context.Context, source string, err error) {
	if r == nil || r.engine == nil || err == nil {
		return
	}

	value := fmt.Sprintf("%s: %v", source, err)
	reqCtx := context.WithValue(ctx, panicValueKey, value)
	req := httptest.NewRequestWithContext(reqCtx, http.MethodGet, "/report", nil)
	rec := httptest.NewRecorder()

	r.engine.ServeHTTP(rec, req)
}
