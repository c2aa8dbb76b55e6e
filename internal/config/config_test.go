// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func writeConfig(t *testing.T, dir string, cfg Config) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin", "configs"), 0o755))
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "configs", "local.json"), raw, 0o644))
}

func TestLoad_AppliesDefaultsWhenUnset(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, Config{System: SysConfig{Name: "fastlane"}})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.System.Env)
	assert.Equal(t, dir, cfg.System.RootPath)
	assert.NotZero(t, cfg.Scheduler.TickPeriod)
	assert.NotZero(t, cfg.Scheduler.LockTTL)
}

func TestLoad_AppNameEnvOverridesConfiguredName(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, Config{System: SysConfig{Name: "fastlane"}})
	t.Setenv(nameKey, "fastlane-staging")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fastlane-staging", cfg.System.Name)
}

func TestLoad_DockerHostsEnvOverridesPoolsAsJSON(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, Config{Docker: Docker{Pools: []PoolConfig{{Name: "file-pool"}}}})
	t.Setenv(DockerHostsEnv, `[{"name":"env-pool","hosts":["host-a"],"max_running":5}]`)

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Docker.Pools, 1)
	assert.Equal(t, "env-pool", cfg.Docker.Pools[0].Name)
}

func TestLoad_DockerHostsEnvOverridesPoolsAsYAML(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, Config{})
	t.Setenv(DockerHostsEnv, "- name: yaml-pool\n  hosts: [\"host-a\"]\n  max_running: 3\n")

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Docker.Pools, 1)
	assert.Equal(t, "yaml-pool", cfg.Docker.Pools[0].Name)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	chdirTemp(t)
	_, err := Load()
	assert.Error(t, err)
}
