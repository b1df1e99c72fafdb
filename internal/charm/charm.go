// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package charm dispatches the hooks and actions Juju runs the livepatch
// charm for.
package charm

import (
	"context"
	"os"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/canonical/livepatch-k8s-operator/core/hooks"
	"github.com/canonical/livepatch-k8s-operator/core/leadership"
	"github.com/canonical/livepatch-k8s-operator/core/status"
	"github.com/canonical/livepatch-k8s-operator/internal/charm/config"
	"github.com/canonical/livepatch-k8s-operator/internal/contracts"
	"github.com/canonical/livepatch-k8s-operator/internal/database"
	"github.com/canonical/livepatch-k8s-operator/internal/migration"
	"github.com/canonical/livepatch-k8s-operator/internal/peer"
	"github.com/canonical/livepatch-k8s-operator/internal/reconciler"
	"github.com/canonical/livepatch-k8s-operator/internal/workload"
)

var logger = loggo.GetLogger("livepatch.charm")

// Host is the unit agent as seen by the charm.
type Host interface {
	peer.RelationData
	database.RelationBackend
	status.StatusSetter

	IsLeader(ctx context.Context) (bool, error)
	Config(ctx context.Context) (map[string]interface{}, error)

	ActionParams(ctx context.Context) (map[string]interface{}, error)
	SetActionResult(ctx context.Context, results map[string]string) error
	FailAction(ctx context.Context, message string) error

	UnitState(ctx context.Context) (map[string]string, error)
	SetUnitState(ctx context.Context, key, value string) error
}

// TokenClient exchanges contract tokens with the contracts service.
type TokenClient interface {
	MachineToken(ctx context.Context, contractToken string, info contracts.SystemInfo) (string, error)
	ResourceToken(ctx context.Context, machineToken string) (string, error)
}

// Config holds the collaborators of a Charm.
type Config struct {
	Host       Host
	Supervisor workload.Supervisor

	// NewTokenClient returns the contracts client to use with the given
	// application config. It defaults to a proxy aware contracts.Client.
	NewTokenClient func(cfg config.ApplicationConfig) TokenClient

	// SystemInfo describes the machine for machine token requests. It
	// defaults to reading the container's os-release and uname.
	SystemInfo func() (contracts.SystemInfo, error)

	// NewGate defaults to migration.NewGate.
	NewGate func(supervisor workload.Supervisor, dsn string) reconciler.SchemaGate
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Host == nil {
		return errors.NotValidf("nil Host")
	}
	if c.Supervisor == nil {
		return errors.NotValidf("nil Supervisor")
	}
	return nil
}

// Charm handles one dispatch of the livepatch charm.
type Charm struct {
	config     Config
	resolver   *database.Resolver
	reconciler *reconciler.Reconciler
}

// New returns a Charm.
func New(cfg Config) (*Charm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.NewTokenClient == nil {
		cfg.NewTokenClient = func(appConfig config.ApplicationConfig) TokenClient {
			httpClient := contracts.NewHTTPClient(contracts.ProxySettings(appConfig, os.Getenv))
			return contracts.NewClient(appConfig.ContractsURL(), httpClient)
		}
	}
	if cfg.SystemInfo == nil {
		cfg.SystemInfo = func() (contracts.SystemInfo, error) {
			return contracts.ReadSystemInfo(contracts.OSReleasePath)
		}
	}
	if cfg.NewGate == nil {
		cfg.NewGate = func(supervisor workload.Supervisor, dsn string) reconciler.SchemaGate {
			return migration.NewGate(supervisor, dsn)
		}
	}

	resolver := database.NewResolver(cfg.Host)
	rec, err := reconciler.New(reconciler.Config{
		Supervisor: cfg.Supervisor,
		Database:   resolver,
		NewGate:    cfg.NewGate,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Charm{
		config:     cfg,
		resolver:   resolver,
		reconciler: rec,
	}, nil
}

// hookState is read once per dispatch.
type hookState struct {
	role   leadership.Role
	config config.ApplicationConfig
	peer   *peer.State
}

func (c *Charm) loadHookState(ctx context.Context) (hookState, error) {
	isLeader, err := c.config.Host.IsLeader(ctx)
	if err != nil {
		return hookState{}, errors.Annotate(err, "checking leadership")
	}
	attrs, err := c.config.Host.Config(ctx)
	if err != nil {
		return hookState{}, errors.Annotate(err, "reading charm config")
	}
	appConfig, err := config.New(attrs)
	if err != nil {
		return hookState{}, errors.Trace(err)
	}
	st, err := peer.Load(ctx, c.config.Host)
	if err != nil {
		return hookState{}, errors.Trace(err)
	}
	return hookState{
		role:   leadership.RoleFor(isLeader),
		config: appConfig,
		peer:   st,
	}, nil
}

// Dispatch handles event. Events deferred by earlier dispatches are run
// first.
func (c *Charm) Dispatch(ctx context.Context, event hooks.Event) error {
	state, err := c.loadHookState(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("dispatching %s as %s", event, state.role)

	if event.IsAction() {
		return c.runAction(ctx, event, state)
	}

	pending, err := c.loadDeferred(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	var stillDeferred []hooks.Event
	for _, deferredEvent := range pending {
		if sameEvent(deferredEvent, event) {
			continue
		}
		logger.Debugf("re-running deferred %s", deferredEvent)
		outcome, err := c.handleHook(ctx, deferredEvent, state)
		if err != nil {
			return errors.Annotatef(err, "running deferred %s", deferredEvent)
		}
		if outcome.Defer {
			stillDeferred = append(stillDeferred, deferredEvent)
		}
	}

	outcome, err := c.handleHook(ctx, event, state)
	if err != nil {
		return errors.Trace(err)
	}
	if outcome.Defer {
		logger.Debugf("deferring %s", event)
		stillDeferred = append(stillDeferred, event)
	}
	if len(pending) == 0 && len(stillDeferred) == 0 {
		return nil
	}
	return errors.Trace(c.saveDeferred(ctx, stillDeferred))
}

func (c *Charm) handleHook(ctx context.Context, event hooks.Event, state hookState) (reconciler.Outcome, error) {
	switch event.Kind {
	case hooks.Stop:
		return c.stop(ctx)
	case hooks.Remove:
		return reconciler.Outcome{}, nil
	case hooks.RelationJoined:
		if database.IsDatabaseRelation(event.Relation) {
			if err := c.resolver.Joined(ctx, event.Relation, event.RelationID, state.role); err != nil {
				return reconciler.Outcome{}, errors.Trace(err)
			}
		}
	case hooks.RelationChanged:
		if database.IsDatabaseRelation(event.Relation) {
			if err := c.resolver.CheckExclusive(ctx, event.Relation); err != nil {
				return reconciler.Outcome{}, errors.Trace(err)
			}
		}
	}
	return c.reconcile(ctx, event, state)
}

func (c *Charm) reconcile(ctx context.Context, event hooks.Event, state hookState) (reconciler.Outcome, error) {
	outcome, err := c.reconciler.Reconcile(ctx, reconciler.Input{
		Role:   state.role,
		Config: state.config,
		Peer:   state.peer,
	})
	if err != nil {
		logger.Errorf("%s: reconciliation failed: %v", event, err)
		return reconciler.Outcome{}, errors.Trace(err)
	}
	logger.Infof("%s reconciled: %s", event, outcome)
	if info, ok := outcome.Status(); ok {
		if err := c.config.Host.SetStatus(ctx, info); err != nil {
			return reconciler.Outcome{}, errors.Trace(err)
		}
	}
	return outcome, nil
}

func (c *Charm) stop(ctx context.Context) (reconciler.Outcome, error) {
	supervisor := c.config.Supervisor
	if supervisor.CanConnect(ctx) {
		if err := supervisor.Stop(ctx, workload.ServiceName); err != nil {
			logger.Warningf("stopping livepatch: %v", err)
		}
	}
	info := status.StatusInfo{Status: status.Waiting, Message: "stopped"}
	if err := c.config.Host.SetStatus(ctx, info); err != nil {
		return reconciler.Outcome{}, errors.Trace(err)
	}
	return reconciler.Outcome{Kind: reconciler.Waiting, Reason: info.Message}, nil
}
