// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package workload drives the livepatch server through the pebble
// supervisor in its container.
package workload

import (
	"context"
)

// ExecResult holds the outcome of a command run in the workload container.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Supervisor is the workload container's process supervisor.
type Supervisor interface {
	// CanConnect reports whether the supervisor API is reachable.
	CanConnect(ctx context.Context) bool

	// AddLayer adds (or, with combine, merges into) the layer with the
	// given label.
	AddLayer(ctx context.Context, label string, layer *Layer, combine bool) error

	// Plan returns the combined plan of every layer.
	Plan(ctx context.Context) (*Layer, error)

	// IsRunning reports whether the named service is active. A service
	// missing from the plan is not running.
	IsRunning(ctx context.Context, service string) (bool, error)

	Start(ctx context.Context, service string) error
	Stop(ctx context.Context, service string) error
	Restart(ctx context.Context, service string) error

	// Replan applies the current plan, restarting services whose
	// configuration changed.
	Replan(ctx context.Context) error

	// Exec runs command to completion. A non-zero exit code is reported
	// in the result, not as an error.
	Exec(ctx context.Context, command []string, env map[string]string) (ExecResult, error)

	// Push writes content to path in the container.
	Push(ctx context.Context, path string, content []byte, makeDirs bool) error

	// Exists reports whether path exists in the container.
	Exists(ctx context.Context, path string) (bool, error)
}
