// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package docker is the concrete runtime.ContainerRuntime implementation,
// grounded on app/monitor/docker_client.go's DockerManager, extended
// with the create/start/stop/remove calls the teacher's monitor-only
// client never needed. One *client.Client is kept per configured host,
// since spec.md's pool model dispatches across many Docker hosts.
package docker

import (
	"context"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
	"github.com/sk-pkg/logger"

	"github.com/fastlane-run/fastlane/internal/runtime"
)

// Manager is a ContainerRuntime that dials a distinct Docker daemon per
// configured host endpoint.
type Manager struct {
	logger  *logger.Manager
	clients map[string]*client.Client
}

// New creates a Manager with one client per host, where hosts maps a
// dispatch host name to its Docker endpoint (e.g. "tcp://10.0.1.5:2376"
// or "" for the local daemon via DOCKER_HOST).
//
// Parameters:
//   - ctx: context used to ping every client before returning.
//   - log: logger manager retained by the Manager.
//   - hosts: dispatch host name -> Docker daemon endpoint.
//
// Returns:
//   - *Manager: initialized runtime with every host pinged.
//   - error: wrapped error naming the host whose client failed to dial
//     or respond to ping.
func New(ctx context.Context, log *logger.Manager, hosts map[string]string) (*Manager, error) {
	clients := make(map[string]*client.Client, len(hosts))

	for host, endpoint := range hosts {
		opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if endpoint != "" {
			opts = append(opts, client.WithHost(endpoint))
		}

		cli, err := client.NewClientWithOpts(opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "docker: dial host %s", host)
		}
		if _, err := cli.Ping(ctx); err != nil {
			return nil, errors.Wrapf(err, "docker: ping host %s", host)
		}

		clients[host] = cli
	}

	return &Manager{logger: log, clients: clients}, nil
}

func (m *Manager) clientFor(host string) (*client.Client, error) {
	cli, ok := m.clients[host]
	if !ok {
		return nil, errors.Errorf("docker: unknown host %q", host)
	}
	return cli, nil
}

func (m *Manager) Pull(ctx context.Context, host, img string) error {
	cli, err := m.clientFor(host)
	if err != nil {
		return err
	}

	rc, err := cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return ClassifyError(err)
	}
	defer rc.Close()

	_, err = io.Copy(io.Discard, rc)
	return errors.Wrap(err, "docker: drain pull response")
}

func (m *Manager) Create(ctx context.Context, host string, spec runtime.CreateSpec) (string, error) {
	cli, err := m.clientFor(host)
	if err != nil {
		return "", err
	}

	resp, err := cli.ContainerCreate(ctx,
		&container.Config{Image: spec.Image, Cmd: spec.Command, Env: spec.Env},
		&container.HostConfig{},
		nil, nil, spec.Name,
	)
	if err != nil {
		return "", ClassifyError(err)
	}

	return resp.ID, nil
}

func (m *Manager) Start(ctx context.Context, host, containerID string) error {
	cli, err := m.clientFor(host)
	if err != nil {
		return err
	}
	return ClassifyError(cli.ContainerStart(ctx, containerID, container.StartOptions{}))
}

func (m *Manager) Stop(ctx context.Context, host, containerID string, timeout time.Duration) error {
	cli, err := m.clientFor(host)
	if err != nil {
		return err
	}
	secs := int(timeout.Seconds())
	return ClassifyError(cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &secs}))
}

func (m *Manager) Inspect(ctx context.Context, host, containerID string) (runtime.InspectResult, error) {
	cli, err := m.clientFor(host)
	if err != nil {
		return runtime.InspectResult{}, err
	}

	cj, err := cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return runtime.InspectResult{}, ClassifyError(err)
	}

	result := runtime.InspectResult{
		Running:  cj.State.Running,
		ExitCode: cj.State.ExitCode,
		Error:    cj.State.Error,
	}

	if t, err := time.Parse(time.RFC3339Nano, cj.State.StartedAt); err == nil {
		result.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, cj.State.FinishedAt); err == nil {
		result.FinishedAt = t
	}

	return result, nil
}

// Logs returns the container's stdout and stderr as independent
// streams. Containers are created without a TTY (Create never sets
// container.Config.Tty), so Docker multiplexes ContainerLogs' single
// stream with an 8-byte frame header per chunk; stdcopy.StdCopy does
// the real demultiplexing here instead of the teacher's
// containsUnprintableCharacters heuristic, which only ever stripped
// headers and never separated the two streams.
func (m *Manager) Logs(ctx context.Context, host, containerID string) (io.ReadCloser, io.ReadCloser, error) {
	cli, err := m.clientFor(host)
	if err != nil {
		return nil, nil, err
	}

	rc, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, ClassifyError(err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	go func() {
		_, copyErr := stdcopy.StdCopy(stdoutW, stderrW, rc)
		rc.Close()
		stdoutW.CloseWithError(copyErr)
		stderrW.CloseWithError(copyErr)
	}()

	return stdoutR, stderrR, nil
}

func (m *Manager) Rename(ctx context.Context, host, containerID, newName string) error {
	cli, err := m.clientFor(host)
	if err != nil {
		return err
	}
	return ClassifyError(cli.ContainerRename(ctx, containerID, newName))
}

func (m *Manager) List(ctx context.Context, host, namePrefix string) ([]string, error) {
	cli, err := m.clientFor(host)
	if err != nil {
		return nil, err
	}

	f := filters.NewArgs()
	if namePrefix != "" {
		f.Add("name", namePrefix)
	}

	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, ClassifyError(err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (m *Manager) Remove(ctx context.Context, host, containerID string) error {
	cli, err := m.clientFor(host)
	if err != nil {
		return err
	}
	return ClassifyError(cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}))
}
