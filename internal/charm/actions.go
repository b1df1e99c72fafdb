// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/livepatch-k8s-operator/core/hooks"
	"github.com/canonical/livepatch-k8s-operator/internal/migration"
	"github.com/canonical/livepatch-k8s-operator/internal/peer"
	"github.com/canonical/livepatch-k8s-operator/internal/workload"
)

const (
	GetResourceTokenAction = "get-resource-token"
	SchemaUpgradeAction    = "schema-upgrade"
	RestartAction          = "restart"

	contractTokenParam = "contract-token"
)

func (c *Charm) runAction(ctx context.Context, event hooks.Event, state hookState) error {
	var (
		results map[string]string
		err     error
	)
	switch event.Name {
	case GetResourceTokenAction:
		results, err = c.getResourceToken(ctx, state)
	case SchemaUpgradeAction:
		results, err = c.schemaUpgrade(ctx, state)
	case RestartAction:
		results, err = c.restart(ctx)
	default:
		return errors.Trace(c.config.Host.FailAction(ctx, fmt.Sprintf("unknown action %q", event.Name)))
	}
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.config.Host.SetActionResult(ctx, results); err != nil {
		return errors.Trace(err)
	}
	if _, failed := results["error"]; failed {
		return nil
	}
	_, err = c.reconcile(ctx, event, state)
	return errors.Trace(err)
}

func actionError(prefix, reason string) map[string]string {
	logger.Errorf("%s: %s", prefix, reason)
	return map[string]string{"error": prefix + ": " + reason}
}

func (c *Charm) getResourceToken(ctx context.Context, state hookState) (map[string]string, error) {
	const prefix = "cannot fetch the resource token"
	writer, err := state.peer.Writer(state.role)
	if errors.Is(err, peer.ErrNotLeader) {
		return actionError(prefix, "unit is not the leader"), nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	if !writer.Initialized() {
		return actionError(prefix, "peer relation not ready"), nil
	}

	params, err := c.config.Host.ActionParams(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	contractToken, _ := params[contractTokenParam].(string)

	info, err := c.config.SystemInfo()
	if err != nil {
		logger.Warningf("cannot read system information: %v", err)
	}
	client := c.config.NewTokenClient(state.config)

	machineToken, err := client.MachineToken(ctx, contractToken, info)
	if err != nil {
		logger.Debugf("machine token request: %v", err)
		return actionError(prefix, "failed to fetch the machine token"), nil
	}
	resourceToken, err := client.ResourceToken(ctx, machineToken)
	if err != nil {
		logger.Debugf("resource token request: %v", err)
		return actionError(prefix, "failed to fetch the resource token"), nil
	}

	err = writer.SetResourceToken(ctx, resourceToken)
	if errors.Is(err, peer.ErrNotInitialized) {
		return actionError(prefix, "peer relation not ready"), nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	logger.Infof("resource token set")
	return map[string]string{"result": "resource token set"}, nil
}

func (c *Charm) schemaUpgrade(ctx context.Context, state hookState) (map[string]string, error) {
	const prefix = "cannot run schema upgrade"
	writer, err := state.peer.Writer(state.role)
	if errors.Is(err, peer.ErrNotLeader) {
		return actionError(prefix, "unit is not the leader"), nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	if !c.config.Supervisor.CanConnect(ctx) {
		return actionError(prefix, "workload container not ready"), nil
	}
	dsn, err := c.resolver.Sync(ctx, state.role, state.peer)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if dsn == "" {
		return actionError(prefix, "database connection string not available"), nil
	}

	gate := c.config.NewGate(c.config.Supervisor, dsn)
	err = gate.Upgrade(ctx, state.role)
	var upgradeErr *migration.UpgradeError
	if errors.As(err, &upgradeErr) {
		return actionError(prefix, strings.TrimSpace(upgradeErr.Error())), nil
	} else if errors.Is(err, migration.ErrToolMissing) {
		return actionError(prefix, "schema tool not found"), nil
	} else if errors.Is(err, migration.ErrUnavailable) {
		logger.Debugf("schema upgrade: %v", err)
		return actionError(prefix, "schema tool could not be run"), nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}

	if err := writer.SetSchemaUpgraded(ctx); err != nil && !errors.Is(err, peer.ErrNotInitialized) {
		return nil, errors.Trace(err)
	}
	return map[string]string{"schema-upgrade-required": "False"}, nil
}

func (c *Charm) restart(ctx context.Context) (map[string]string, error) {
	const prefix = "cannot restart livepatch"
	supervisor := c.config.Supervisor
	if !supervisor.CanConnect(ctx) {
		return actionError(prefix, "workload container not ready"), nil
	}
	if err := supervisor.Restart(ctx, workload.ServiceName); err != nil {
		logger.Debugf("restart: %v", err)
		return actionError(prefix, "service restart failed"), nil
	}
	return map[string]string{"result": "restarted"}, nil
}
