// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package main wires configuration loading, dependency construction,
// and process lifecycle waiting for the fastlane service, the same
// runtime.GOMAXPROCS / LoadConfig / bootstrap / waitForSignal shape the
// teacher's main.go and bootstrap.App use, generalized from one HTTP +
// collector process to fastlane's scheduler/dispatcher/runner/monitor
// worker pools plus the HTTP API.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"regexp"
	goruntime "runtime"

	"go.uber.org/zap"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sk-pkg/feishu"
	"github.com/sk-pkg/logger"
	skredis "github.com/sk-pkg/redis"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fastlane-run/fastlane/internal/api"
	"github.com/fastlane-run/fastlane/internal/api/authn"
	"github.com/fastlane-run/fastlane/internal/config"
	"github.com/fastlane-run/fastlane/internal/dispatch"
	"github.com/fastlane-run/fastlane/internal/healer"
	"github.com/fastlane-run/fastlane/internal/jobs"
	"github.com/fastlane-run/fastlane/internal/monitor"
	"github.com/fastlane-run/fastlane/internal/notify"
	"github.com/fastlane-run/fastlane/internal/notify/webhook"
	"github.com/fastlane-run/fastlane/internal/panicreport"
	"github.com/fastlane-run/fastlane/internal/pruner"
	"github.com/fastlane-run/fastlane/internal/queue"
	"github.com/fastlane-run/fastlane/internal/queue/memqueue"
	"github.com/fastlane-run/fastlane/internal/queue/redisqueue"
	"github.com/fastlane-run/fastlane/internal/runner"
	"github.com/fastlane-run/fastlane/internal/runtime/docker"
	"github.com/fastlane-run/fastlane/internal/scheduler"
	"github.com/fastlane-run/fastlane/internal/store/audit"
	mongostore "github.com/fastlane-run/fastlane/internal/store/mongo"
	"github.com/fastlane-run/fastlane/internal/trace"
	"github.com/fastlane-run/fastlane/internal/worker"
)

// main initializes runtime settings, builds the service's dependency
// graph, starts every background subsystem, and blocks until an OS
// termination signal arrives.
//
// Returns:
//   - None.
func main() {
	// Use all available CPUs because the service starts many
	// concurrent worker pools.
	goruntime.GOMAXPROCS(goruntime.NumCPU())

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("loading config error: ", err)
	}

	ctx := context.Background()

	lg, err := logger.New(
		logger.WithLevel(cfg.Log.Level),
		logger.WithDriver(cfg.Log.Driver),
		logger.WithLogPath(cfg.Log.LogPath),
	)
	if err != nil {
		log.Fatal("logger init error: ", err)
	}
	lg.Info(ctx, "logger loaded successfully")

	redisManagers, redisClient := loadRedis(ctx, cfg, lg)

	mongoClient, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		lg.Fatal(ctx, "mongo connect error", zap.Error(err))
	}

	documentStore, err := mongostore.New(ctx, mongoClient.Database(cfg.Mongo.Database))
	if err != nil {
		lg.Fatal(ctx, "mongo store init error", zap.Error(err))
	}

	rt, err := docker.New(ctx, lg, cfg.Docker.Hosts)
	if err != nil {
		lg.Fatal(ctx, "docker runtime init error", zap.Error(err))
	}

	pools, defaultPool := compilePools(cfg.Docker.Pools)

	jobsQueue := selectQueue(redisClient, queue.Jobs)
	monitorQueue := selectQueue(redisClient, queue.Monitor)
	notifyQueue := selectQueue(redisClient, queue.Notify)
	webhooksQueue := selectQueue(redisClient, queue.Webhooks)

	tracer := trace.New()

	dispatcher := dispatch.New(documentStore, pools, defaultPool)
	run := runner.New(documentStore, rt, monitorQueue, lg)
	mon := monitor.New(documentStore, rt, jobsQueue, monitorQueue, notifyQueue, webhooksQueue, lg)
	jobsHandler := jobs.New(documentStore, dispatcher, run, jobsQueue, lg)

	if cfg.Audit.Enable {
		rec, err := loadAudit(ctx, cfg, lg)
		if err != nil {
			lg.Fatal(ctx, "audit store init error", zap.Error(err))
		}
		mon.WithAudit(rec)
	}

	var schedRedis *skredis.Manager
	if len(redisManagers) > 0 {
		schedRedis = redisManagers[0]
	}
	sched := scheduler.New(documentStore, jobsQueue, notifyQueue, lg, schedRedis, tracer, cfg.Scheduler.TickPeriod)
	sched.OnOneServer = cfg.Scheduler.OnOneServer && schedRedis != nil

	heal := healer.New(documentStore, jobsQueue, monitorQueue, lg)
	prune := pruner.New(rt, allPoolHosts(cfg.Docker.Pools), lg)

	notifier := notify.New(loadNotifyChannels(cfg, lg), lg)
	webhookConsumer := webhook.New(documentStore, lg)

	issuer := authn.New(cfg.System.JwtSecret)
	server := api.New(documentStore, jobsQueue, rt, issuer).WithLogger(lg).WithRedact(cfg.Redact.EnvNameBlacklist)

	jobsPool := worker.New(queue.Jobs, jobsQueue, jobsHandler.Step, cfg.Worker.Concurrency[queue.Jobs], lg)
	monitorPool := worker.New(queue.Monitor, monitorQueue, mon.Step, cfg.Worker.Concurrency[queue.Monitor], lg)
	notifyPool := worker.New(queue.Notify, notifyQueue, notifier.Step, cfg.Worker.Concurrency[queue.Notify], lg)
	webhooksPool := worker.New(queue.Webhooks, webhooksQueue, webhookConsumer.Step, cfg.Worker.Concurrency[queue.Webhooks], lg)

	reporter, err := panicreport.New(cfg.Monitor.PanicRobot, cfg.System.Env)
	if err != nil {
		lg.Fatal(ctx, "panic robot init error", zap.Error(err))
	}
	jobsPool.WithReporter(reporter)
	monitorPool.WithReporter(reporter)
	notifyPool.WithReporter(reporter)
	webhooksPool.WithReporter(reporter)

	// One-time startup sweep that re-enqueues monitoring for any
	// Execution left running across a restart, the same shape the
	// teacher's startCollector uses to resume watching containers on
	// boot.
	if err := heal.Run(ctx); err != nil {
		lg.Error(ctx, "startup heal failed", zap.Error(err))
	}

	go sched.Start(ctx)
	go jobsPool.Run(ctx)
	go monitorPool.Run(ctx)
	go notifyPool.Run(ctx)
	go webhooksPool.Run(ctx)
	go prune.Start(ctx)
	go startHTTPServer(ctx, cfg, server, lg)

	s := waitForSignal()
	log.Println("signal received, app closed.", s)
}

// startHTTPServer runs the Gin-backed API server, terminating the
// process only on an unexpected listen error, the same shape
// bootstrap.App.startHTTPServer uses.
func startHTTPServer(ctx context.Context, cfg *config.Config, s *api.Server, lg *logger.Manager) {
	if err := s.Router().Run(cfg.System.HTTPPort); err != nil {
		lg.Fatal(ctx, "http server startup err", zap.Error(err))
	}
}

// waitForSignal blocks until an interrupt or kill signal is received.
//
// Returns:
//   - os.Signal: the signal that terminated the process.
func waitForSignal() os.Signal {
	signalChan := make(chan os.Signal, 1)
	defer close(signalChan)
	signal.Notify(signalChan, os.Kill, os.Interrupt)
	s := <-signalChan
	signal.Stop(signalChan)
	return s
}

// loadRedis constructs one sk-pkg/redis.Manager per enabled profile
// (for the scheduler's distributed lock) and a go-redis client off the
// first enabled profile (for the redisqueue streams), mirroring
// bootstrap.App.loadRedis's "loop over configured profiles" shape
// while adding the raw client redisqueue needs.
func loadRedis(ctx context.Context, cfg *config.Config, lg *logger.Manager) ([]*skredis.Manager, *goredis.Client) {
	var managers []*skredis.Manager
	var client *goredis.Client

	for _, rc := range cfg.Redis {
		if !rc.Enable {
			continue
		}

		mgr, err := skredis.New(
			skredis.WithPrefix(rc.Prefix),
			skredis.WithAddress(rc.Host),
			skredis.WithPassword(rc.Auth),
			skredis.WithIdleTimeout(rc.IdleTimeout),
			skredis.WithMaxActive(rc.MaxActive),
			skredis.WithMaxIdle(rc.MaxIdle),
			skredis.WithDB(rc.DB),
		)
		if err != nil {
			lg.Fatal(ctx, "redis init error", zap.String("name", rc.Name), zap.Error(err))
		}
		managers = append(managers, mgr)

		if client == nil {
			client = goredis.NewClient(&goredis.Options{
				Addr:     rc.Host,
				Password: rc.Auth,
				DB:       rc.DB,
			})
		}
	}

	lg.Info(ctx, "redis loaded successfully")

	return managers, client
}

// selectQueue builds the redisqueue-backed Queue for one named stream
// when a Redis client is configured, falling back to the in-process
// memqueue otherwise — convenient for local development without Redis,
// per spec.md §6's allowance for a pluggable queue backend.
func selectQueue(client *goredis.Client, name string) queue.Queue {
	if client == nil {
		return memqueue.New()
	}
	return redisqueue.New(client, fmt.Sprintf("fastlane:queue:%s", name))
}

// compilePools turns the JSON/YAML-configured pool list into
// dispatch.Pool values, compiling each Match string into a
// *regexp.Regexp. A pool whose Match is empty or "*"/".*" is treated as
// the catch-all default pool dispatch.New takes separately.
func compilePools(cfgPools []config.PoolConfig) ([]dispatch.Pool, dispatch.Pool) {
	var pools []dispatch.Pool
	var def dispatch.Pool

	for _, p := range cfgPools {
		disabled := make(map[string]bool, len(p.Disabled))
		for _, h := range p.Disabled {
			disabled[h] = true
		}

		compiled := dispatch.Pool{
			Name:       p.Name,
			Match:      regexp.MustCompile(matchOrAny(p.Match)),
			Hosts:      p.Hosts,
			MaxRunning: p.MaxRunning,
			Disabled:   disabled,
		}

		if p.Match == "" || p.Match == "*" || p.Match == ".*" {
			def = compiled
			continue
		}

		pools = append(pools, compiled)
	}

	return pools, def
}

// matchOrAny normalizes the shell-style "*" wildcard some operators use
// in pool config to the ".*" a compiled regexp needs.
func matchOrAny(expr string) string {
	if expr == "" || expr == "*" {
		return ".*"
	}
	return expr
}

// allPoolHosts flattens every configured pool's hosts into one list for
// the pruner, which sweeps every host regardless of pool assignment.
func allPoolHosts(cfgPools []config.PoolConfig) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, p := range cfgPools {
		for _, h := range p.Hosts {
			if !seen[h] {
				seen[h] = true
				hosts = append(hosts, h)
			}
		}
	}
	return hosts
}

// loadAudit opens the optional SQL-backed audit store, the same
// retry-connect shape bootstrap.App.newMysqlDBWithRetry uses for
// containerized services that start slowly.
func loadAudit(ctx context.Context, cfg *config.Config, lg *logger.Manager) (*audit.Recorder, error) {
	rec, err := audit.NewWithRetry(ctx, audit.DBConfig{
		Driver:               cfg.Audit.Driver,
		DSN:                  cfg.Audit.DSN,
		MaxIdleConn:          cfg.Audit.MaxIdleConn,
		MaxOpenConn:          cfg.Audit.MaxOpenConn,
		ConnMaxLifetime:      cfg.Audit.ConnMaxLifetime,
		ConnectRetryCount:    cfg.Audit.ConnectRetryCount,
		ConnectRetryInterval: cfg.Audit.ConnectRetryInterval,
	}, lg)
	if err != nil {
		return nil, err
	}

	lg.Info(ctx, "audit store loaded successfully")
	return rec, nil
}

// loadNotifyChannels builds the configured notify.Channel side channels
// — a Feishu group-webhook channel when enabled — the same "build a
// channel per enabled integration" shape bootstrap.App.loadFeishu uses,
// adapted to fastlane's Channel fan-out.
func loadNotifyChannels(cfg *config.Config, lg *logger.Manager) []notify.Channel {
	var channels []notify.Channel

	if cfg.Feishu.Enable {
		mgr, err := feishu.New(
			feishu.WithGroupWebhook(cfg.Feishu.GroupWebhook),
			feishu.WithAppID(cfg.Feishu.AppID),
			feishu.WithAppSecret(cfg.Feishu.AppSecret),
			feishu.WithEncryptKey(cfg.Feishu.EncryptKey),
			feishu.WithLog(lg.Zap),
		)
		if err != nil {
			lg.Error(context.Background(), "feishu init error", zap.Error(err))
		} else {
			channels = append(channels, &notify.FeishuChannel{
				Manager:      mgr,
				GroupWebhook: cfg.Feishu.GroupWebhook,
				Post:         notify.RestyPost(),
			})
		}
	}

	return channels
}
