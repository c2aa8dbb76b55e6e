// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package pruner

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sk-pkg/logger"

	"github.com/fastlane-run/fastlane/internal/runtime"
)

type fakeRuntime struct {
	listByHost map[string][]string
	removed    []string
}

func (f *fakeRuntime) Pull(ctx context.Context, host, image string) error { return nil }
func (f *fakeRuntime) Create(ctx context.Context, host string, spec runtime.CreateSpec) (string, error) {
	return "", nil
}
func (f *fakeRuntime) Start(ctx context.Context, host, containerID string) error { return nil }
func (f *fakeRuntime) Stop(ctx context.Context, host, containerID string, timeout time.Duration) error {
	return nil
}
func (f *fakeRuntime) Inspect(ctx context.Context, host, containerID string) (runtime.InspectResult, error) {
	return runtime.InspectResult{}, nil
}
func (f *fakeRuntime) Logs(ctx context.Context, host, containerID string) (io.ReadCloser, io.ReadCloser, error) {
	return io.NopCloser(nil), io.NopCloser(nil), nil
}
func (f *fakeRuntime) Rename(ctx context.Context, host, containerID, newName string) error { return nil }
func (f *fakeRuntime) List(ctx context.Context, host, namePrefix string) ([]string, error) {
	return f.listByHost[host], nil
}
func (f *fakeRuntime) Remove(ctx context.Context, host, containerID string) error {
	f.removed = append(f.removed, host+":"+containerID)
	return nil
}

func TestSweep_RemovesListedContainersOnEveryHost(t *testing.T) {
	rt := &fakeRuntime{listByHost: map[string][]string{
		"host-a": {"c1", "c2"},
		"host-b": {"c3"},
	}}

	l, err := logger.New()
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	p := New(rt, []string{"host-a", "host-b"}, l)
	p.Sweep(context.Background())

	assert.ElementsMatch(t, []string{"host-a:c1", "host-a:c2", "host-b:c3"}, rt.removed)
}

func TestSweep_NoContainersIsNoOp(t *testing.T) {
	rt := &fakeRuntime{}
	l, err := logger.New()
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	p := New(rt, []string{"host-a"}, l)
	p.Sweep(context.Background())

	assert.Empty(t, rt.removed)
}
