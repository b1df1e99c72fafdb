// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package workloadtest provides an in-memory pebble supervisor for tests.
package workloadtest

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/testing"

	"github.com/canonical/livepatch-k8s-operator/internal/workload"
)

// ExecFunc answers commands run through the fake supervisor.
type ExecFunc func(command []string, env map[string]string) (workload.ExecResult, error)

// Supervisor is an in-memory workload.Supervisor. Calls are recorded on
// the embedded Stub; errors queued with SetErrors are returned in order.
type Supervisor struct {
	testing.Stub

	mu          sync.Mutex
	Connectable bool
	plan        *workload.Layer
	layers      map[string]*workload.Layer
	running     map[string]bool
	Files       map[string][]byte
	ExecFunc    ExecFunc
}

var _ workload.Supervisor = (*Supervisor)(nil)

// NewSupervisor returns a connectable supervisor with an empty plan.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		Connectable: true,
		plan:        &workload.Layer{},
		layers:      make(map[string]*workload.Layer),
		running:     make(map[string]bool),
		Files:       make(map[string][]byte),
	}
}

// SetRunning marks a service as running or not.
func (s *Supervisor) SetRunning(service string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[service] = running
}

// CurrentPlan returns the combined plan without recording a call.
func (s *Supervisor) CurrentPlan() *workload.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.combined()
}

func (s *Supervisor) combined() *workload.Layer {
	plan := &workload.Layer{}
	for _, label := range sortedLabels(s.layers) {
		_ = plan.Combine(s.layers[label])
	}
	return plan
}

// CanConnect is part of the workload.Supervisor interface.
func (s *Supervisor) CanConnect(ctx context.Context) bool {
	s.MethodCall(s, "CanConnect")
	return s.Connectable
}

// AddLayer is part of the workload.Supervisor interface.
func (s *Supervisor) AddLayer(ctx context.Context, label string, layer *workload.Layer, combine bool) error {
	s.MethodCall(s, "AddLayer", label, layer, combine)
	if err := s.NextErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.layers[label]
	if ok && !combine {
		return errors.AlreadyExistsf("layer %q", label)
	}
	if !ok {
		existing = &workload.Layer{}
		s.layers[label] = existing
	}
	return existing.Combine(layer)
}

// Plan is part of the workload.Supervisor interface.
func (s *Supervisor) Plan(ctx context.Context) (*workload.Layer, error) {
	s.MethodCall(s, "Plan")
	if err := s.NextErr(); err != nil {
		return nil, err
	}
	return s.CurrentPlan(), nil
}

// IsRunning is part of the workload.Supervisor interface.
func (s *Supervisor) IsRunning(ctx context.Context, service string) (bool, error) {
	s.MethodCall(s, "IsRunning", service)
	if err := s.NextErr(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[service], nil
}

// Start is part of the workload.Supervisor interface.
func (s *Supervisor) Start(ctx context.Context, service string) error {
	s.MethodCall(s, "Start", service)
	if err := s.NextErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.combined().Services[service]; !ok {
		return errors.NotFoundf("service %q", service)
	}
	s.running[service] = true
	return nil
}

// Stop is part of the workload.Supervisor interface.
func (s *Supervisor) Stop(ctx context.Context, service string) error {
	s.MethodCall(s, "Stop", service)
	if err := s.NextErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[service] = false
	return nil
}

// Restart is part of the workload.Supervisor interface.
func (s *Supervisor) Restart(ctx context.Context, service string) error {
	s.MethodCall(s, "Restart", service)
	if err := s.NextErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[service] = true
	return nil
}

// Replan is part of the workload.Supervisor interface.
func (s *Supervisor) Replan(ctx context.Context) error {
	s.MethodCall(s, "Replan")
	return s.NextErr()
}

// Exec is part of the workload.Supervisor interface.
func (s *Supervisor) Exec(ctx context.Context, command []string, env map[string]string) (workload.ExecResult, error) {
	s.MethodCall(s, "Exec", command, env)
	if err := s.NextErr(); err != nil {
		return workload.ExecResult{}, err
	}
	if s.ExecFunc == nil {
		return workload.ExecResult{}, nil
	}
	return s.ExecFunc(command, env)
}

// Push is part of the workload.Supervisor interface.
func (s *Supervisor) Push(ctx context.Context, path string, content []byte, makeDirs bool) error {
	s.MethodCall(s, "Push", path, string(content), makeDirs)
	if err := s.NextErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Files[path] = append([]byte(nil), content...)
	return nil
}

// Exists is part of the workload.Supervisor interface.
func (s *Supervisor) Exists(ctx context.Context, path string) (bool, error) {
	s.MethodCall(s, "Exists", path)
	if err := s.NextErr(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Files[path]
	return ok, nil
}
