// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package config loads the root configuration for the service, the
// same bin/configs/<RUN_ENV>.json convention app.LoadConfig uses, with
// the document-store, queue, and container-runtime sections fastlane
// needs in place of dockmon's Databases/Collector sections.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	envKey  = "RUN_ENV"
	nameKey = "APP_NAME"

	// DockerHostsEnv names the environment variable that, when set,
	// overrides Config.Docker.Pools with an inline JSON or YAML pool
	// definition — convenient for container orchestrators that inject
	// pool topology as an env var rather than a mounted config file.
	DockerHostsEnv = "DOCKER_HOSTS"
)

type (
	// Config is the root configuration model loaded from
	// bin/configs/<RUN_ENV>.json.
	Config struct {
		System    SysConfig    `json:"system"`
		Log       LogConfig    `json:"log"`
		Redis     []Redis      `json:"redis"`
		Mongo     Mongo        `json:"mongo"`
		Docker    Docker       `json:"docker"`
		Scheduler Scheduler    `json:"scheduler"`
		Worker    WorkerConfig `json:"worker"`
		Notify    NotifyConfig `json:"notify"`
		Feishu    Feishu       `json:"feishu"`
		Audit     Audit        `json:"audit"`
		Redact    Redact       `json:"redact"`
		Monitor   Monitor      `json:"monitor"`
	}

	// LogConfig controls logger driver and severity level.
	LogConfig struct {
		Driver  string `json:"driver"`
		Level   string `json:"level"`
		LogPath string `json:"path"`
	}

	// SysConfig stores basic runtime properties for the service.
	SysConfig struct {
		Name     string `json:"name"`
		RunMode  string `json:"run_mode"`
		HTTPPort string `json:"http_port"`
		Version  string `json:"version"`
		RootPath string `json:"root_path"`
		Env      string `json:"env"`

		JwtSecret   string        `json:"jwt_secret"`
		TokenExpire time.Duration `json:"token_expire"`
	}

	// Redis stores one Redis connection profile. The scheduler lock and
	// the redisqueue streams both use the first enabled profile; Name
	// only labels the profile in log output.
	Redis struct {
		Name        string        `json:"name"`
		Prefix      string        `json:"prefix"`
		Enable      bool          `json:"enable"`
		Host        string        `json:"host"`
		Auth        string        `json:"auth"`
		DB          int           `json:"db"`
		MaxIdle     int           `json:"max_idle"`
		MaxActive   int           `json:"max_active"`
		IdleTimeout time.Duration `json:"idle_timeout"`
	}

	// Mongo stores the document-store connection profile backing
	// store/mongo.
	Mongo struct {
		URI      string `json:"uri"`
		Database string `json:"database"`
	}

	// Docker carries host-pool configuration for the Dispatcher.
	Docker struct {
		// Hosts maps a host alias to its Docker daemon endpoint, one
		// *client.Client per entry (runtime/docker.New).
		Hosts map[string]string `json:"hosts"`
		Pools []PoolConfig      `json:"pools"`
	}

	// PoolConfig is one dispatch.Pool before its Match expression is
	// compiled.
	PoolConfig struct {
		Name       string   `json:"name" yaml:"name"`
		Match      string   `json:"match" yaml:"match"`
		Hosts      []string `json:"hosts" yaml:"hosts"`
		MaxRunning int      `json:"max_running" yaml:"max_running"`
		Disabled   []string `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	}

	// Scheduler controls the tick loop and whether the distributed lock
	// is taken. LockTTL is not read: the scheduler's lock TTL is a fixed
	// 30 seconds.
	Scheduler struct {
		TickPeriod  time.Duration `json:"tick_period"`
		LockTTL     time.Duration `json:"lock_ttl"`
		OnOneServer bool          `json:"on_one_server"`
	}

	// WorkerConfig sizes each queue's worker pool.
	WorkerConfig struct {
		Concurrency map[string]int `json:"concurrency"`
	}

	// NotifyConfig carries default notify targets. No component of the
	// service reads it; only a Job's own Spec.Notify webhooks are
	// delivered.
	NotifyConfig struct {
		Emails   []string `json:"emails,omitempty"`
		Webhooks []string `json:"webhooks,omitempty"`
	}

	// Feishu mirrors the teacher's Feishu block verbatim; kept as one
	// concrete Notifier side channel (internal/notify.FeishuChannel).
	Feishu struct {
		Enable       bool   `json:"enable"`
		GroupWebhook string `json:"group_webhook"`
		AppID        string `json:"app_id"`
		AppSecret    string `json:"app_secret"`
		EncryptKey   string `json:"encrypt_key"`
	}

	// Audit configures the optional SQL-backed lifecycle event log
	// (store/audit).
	Audit struct {
		Enable                 bool          `json:"enable"`
		Driver                 string        `json:"driver"`
		DSN                    string        `json:"dsn"`
		MaxIdleConn            int           `json:"max_idle_conn"`
		MaxOpenConn            int           `json:"max_open_conn"`
		ConnMaxLifetime        time.Duration `json:"conn_max_lifetime"`
		ConnectRetryCount      int           `json:"connect_retry_count"`
		ConnectRetryInterval   time.Duration `json:"connect_retry_interval"`
	}

	// Redact lists patterns of environment variable names that must
	// never appear verbatim in a rendered Job spec (webhook payloads,
	// notify events, the HTTP API's job-detail response).
	Redact struct {
		EnvNameBlacklist []string `json:"env_name_blacklist"`
	}

	// Monitor configures panic reporting for the worker pools.
	Monitor struct {
		PanicRobot PanicRobot `json:"panic_robot"`
	}

	PanicRobot struct {
		Enable bool        `json:"enable"`
		Wechat robotConfig `json:"wechat"`
		Feishu robotConfig `json:"feishu"`
	}

	robotConfig struct {
		Enable  bool   `json:"enable"`
		PushUrl string `json:"push_url"`
	}
)

// Load reads configuration from bin/configs/<RUN_ENV>.json, the same
// convention app.LoadConfig uses, and applies the DOCKER_HOSTS
// environment override when present.
//
// Returns:
//   - *Config: parsed configuration.
//   - error: returned when reading, decoding, or applying the
//     DOCKER_HOSTS override fails.
func Load() (*Config, error) {
	runEnv := os.Getenv(envKey)
	if runEnv == "" {
		runEnv = "local"
	}

	rootPath, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "config: resolve working directory")
	}

	path := filepath.Join(rootPath, "bin", "configs", fmt.Sprintf("%s.json", runEnv))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}

	if appName := os.Getenv(nameKey); appName != "" {
		cfg.System.Name = appName
	}
	cfg.System.Env = runEnv
	cfg.System.RootPath = rootPath

	if override := os.Getenv(DockerHostsEnv); override != "" {
		pools, err := parseDockerHosts([]byte(override))
		if err != nil {
			return nil, errors.Wrap(err, "config: parse DOCKER_HOSTS")
		}
		cfg.Docker.Pools = pools
	}

	if cfg.Scheduler.TickPeriod <= 0 {
		cfg.Scheduler.TickPeriod = time.Second
	}
	if cfg.Scheduler.LockTTL <= 0 {
		cfg.Scheduler.LockTTL = 10 * time.Second
	}

	return &cfg, nil
}

// parseDockerHosts decodes DOCKER_HOSTS as JSON first, falling back to
// YAML, the way the Domain Stack allows either form for local
// development (yaml.v3, matching nandlabs-golly's declarative component
// configuration).
func parseDockerHosts(raw []byte) ([]PoolConfig, error) {
	var pools []PoolConfig
	if err := json.Unmarshal(raw, &pools); err == nil {
		return pools, nil
	}
	if err := yaml.Unmarshal(raw, &pools); err != nil {
		return nil, errors.Wrap(err, "neither valid JSON nor YAML")
	}
	return pools, nil
}
