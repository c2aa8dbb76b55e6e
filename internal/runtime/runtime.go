// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package runtime defines the ContainerRuntime abstraction the Runner
// and Monitor depend on, so neither package imports the Docker SDK
// directly (spec §6).
package runtime

import (
	"context"
	"io"
	"time"
)

// CreateSpec is the subset of a Job's Spec needed to create a
// container for one Execution.
type CreateSpec struct {
	Name    string
	Image   string
	Command []string
	Env     []string
}

// InspectResult is the state Monitor polls for.
type InspectResult struct {
	Running    bool
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// ContainerRuntime is the narrow surface the Runner and Monitor need
// from a container engine: pull, create, start, stop, inspect, logs,
// rename, list, remove (spec §6).
type ContainerRuntime interface {
	Pull(ctx context.Context, host, image string) error
	Create(ctx context.Context, host string, spec CreateSpec) (containerID string, err error)
	Start(ctx context.Context, host, containerID string) error
	Stop(ctx context.Context, host, containerID string, timeout time.Duration) error
	Inspect(ctx context.Context, host, containerID string) (InspectResult, error)
	Logs(ctx context.Context, host, containerID string) (stdout io.ReadCloser, stderr io.ReadCloser, err error)
	Rename(ctx context.Context, host, containerID, newName string) error
	List(ctx context.Context, host string, namePrefix string) ([]string, error)
	Remove(ctx context.Context, host, containerID string) error
}
