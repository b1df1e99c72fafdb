// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package migration decides whether the livepatch database schema needs
// upgrading and runs the upgrade with the schema tool shipped in the
// workload image.
package migration

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/looplab/fsm"

	"github.com/canonical/livepatch-k8s-operator/core/leadership"
	"github.com/canonical/livepatch-k8s-operator/internal/workload"
)

var logger = loggo.GetLogger("livepatch.migration")

const (
	// ToolPath is the schema tool inside the workload container.
	ToolPath = "/usr/local/bin/livepatch-schema-tool"
	// UpgradesDir holds the schema upgrade scripts.
	UpgradesDir = "/usr/src/livepatch/schema-upgrades"

	// exitUpgradeRequired is how the check command reports pending
	// upgrades.
	exitUpgradeRequired = 2
)

const (
	// ErrToolMissing is returned when the workload image has no schema
	// tool. Retrying will not help.
	ErrToolMissing = errors.ConstError("schema tool not found")

	// ErrUnavailable is returned when the schema tool could not be run,
	// eg because pebble dropped the connection. A later hook may succeed.
	ErrUnavailable = errors.ConstError("schema tool unavailable")

	// ErrNotLeader is returned when a follower tries to upgrade the schema.
	ErrNotLeader = errors.ConstError("only the leader can upgrade the schema")
)

// State is the state of the schema gate.
type State string

const (
	Unknown         State = "unknown"
	UpToDate        State = "up-to-date"
	UpgradeRequired State = "upgrade-required"
	Upgrading       State = "upgrading"
	Failed          State = "failed"
)

const (
	eventCheckedCurrent = "checked-current"
	eventCheckedPending = "checked-pending"
	eventUpgrade        = "upgrade"
	eventUpgradeDone    = "upgrade-done"
	eventUpgradeFailed  = "upgrade-failed"
)

// UpgradeError is returned when the schema tool fails to upgrade the
// schema. Stderr holds what the tool reported.
type UpgradeError struct {
	ExitCode int
	Stderr   string
}

// Error is part of the error interface.
func (e *UpgradeError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("schema upgrade failed with exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("schema upgrade failed: %s", e.Stderr)
}

// Gate tracks the schema of one database for the duration of a hook.
type Gate struct {
	supervisor workload.Supervisor
	dsn        string
	machine    *fsm.FSM
}

// NewGate returns a Gate for the database at dsn, with the schema tool
// run through supervisor.
func NewGate(supervisor workload.Supervisor, dsn string) *Gate {
	g := &Gate{
		supervisor: supervisor,
		dsn:        dsn,
	}
	g.machine = fsm.NewFSM(
		string(Unknown),
		fsm.Events{
			{Name: eventCheckedCurrent, Src: []string{string(Unknown)}, Dst: string(UpToDate)},
			{Name: eventCheckedPending, Src: []string{string(Unknown)}, Dst: string(UpgradeRequired)},
			{Name: eventUpgrade, Src: []string{string(UpgradeRequired)}, Dst: string(Upgrading)},
			{Name: eventUpgradeDone, Src: []string{string(Upgrading)}, Dst: string(UpToDate)},
			{Name: eventUpgradeFailed, Src: []string{string(Upgrading)}, Dst: string(Failed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debugf("schema gate %s -> %s", e.Src, e.Dst)
			},
		},
	)
	return g
}

// State returns the current state of the gate.
func (g *Gate) State() State {
	return State(g.machine.Current())
}

func (g *Gate) fire(ctx context.Context, event string) error {
	return errors.Annotatef(g.machine.Event(ctx, event), "schema gate in state %q", g.State())
}

func (g *Gate) run(ctx context.Context, subcommand string) (workload.ExecResult, error) {
	exists, err := g.supervisor.Exists(ctx, ToolPath)
	if err != nil {
		return workload.ExecResult{}, errors.WithType(
			errors.Annotatef(err, "looking for %s", ToolPath), ErrUnavailable)
	}
	if !exists {
		return workload.ExecResult{}, errors.Annotatef(ErrToolMissing, "%s", ToolPath)
	}
	// The connection string holds credentials, so the command is not
	// logged.
	result, err := g.supervisor.Exec(ctx, []string{ToolPath, subcommand, UpgradesDir, "--db", g.dsn}, nil)
	if err != nil {
		return workload.ExecResult{}, errors.WithType(
			errors.Annotatef(err, "running schema %s", subcommand), ErrUnavailable)
	}
	return result, nil
}

// UpgradeRequired runs the schema check the first time it is called and
// reports whether an upgrade is pending. Exit codes other than the ones
// the tool documents are returned as errors.
func (g *Gate) UpgradeRequired(ctx context.Context) (bool, error) {
	switch g.State() {
	case UpToDate:
		return false, nil
	case UpgradeRequired, Failed:
		return true, nil
	}

	result, err := g.run(ctx, "check")
	if err != nil {
		return false, errors.Trace(err)
	}
	switch result.ExitCode {
	case 0:
		return false, g.fire(ctx, eventCheckedCurrent)
	case exitUpgradeRequired:
		logger.Infof("database schema upgrade required")
		return true, g.fire(ctx, eventCheckedPending)
	}
	return false, errors.Errorf("schema check failed with exit code %d: %s", result.ExitCode, result.Stderr)
}

// Upgrade upgrades the schema if the check says it is needed. Only the
// leader may upgrade. Upgrading an up to date schema does nothing. A
// failed upgrade is returned as an *UpgradeError.
func (g *Gate) Upgrade(ctx context.Context, role leadership.Role) error {
	required, err := g.UpgradeRequired(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !required {
		return nil
	}
	if !role.IsLeader() {
		return ErrNotLeader
	}
	if g.State() == Failed {
		return errors.Errorf("schema upgrade already failed in this hook")
	}

	if err := g.fire(ctx, eventUpgrade); err != nil {
		return errors.Trace(err)
	}
	result, err := g.run(ctx, "upgrade")
	if err != nil {
		_ = g.fire(ctx, eventUpgradeFailed)
		return errors.Trace(err)
	}
	if result.ExitCode != 0 {
		logger.Errorf("database schema upgrade failed with exit code %d", result.ExitCode)
		if err := g.fire(ctx, eventUpgradeFailed); err != nil {
			return errors.Trace(err)
		}
		return &UpgradeError{ExitCode: result.ExitCode, Stderr: result.Stderr}
	}
	logger.Infof("database schema upgraded")
	return g.fire(ctx, eventUpgradeDone)
}
