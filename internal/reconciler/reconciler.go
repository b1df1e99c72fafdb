// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/canonical/livepatch-k8s-operator/core/leadership"
	"github.com/canonical/livepatch-k8s-operator/internal/charm/config"
	"github.com/canonical/livepatch-k8s-operator/internal/migration"
	"github.com/canonical/livepatch-k8s-operator/internal/peer"
	"github.com/canonical/livepatch-k8s-operator/internal/workload"
)

var logger = loggo.GetLogger("livepatch.reconciler")

// DSNSource provides the database connection string, recording it in the
// peer state when this unit leads.
type DSNSource interface {
	Sync(ctx context.Context, role leadership.Role, st *peer.State) (string, error)
}

// SchemaGate checks and upgrades the database schema.
type SchemaGate interface {
	UpgradeRequired(ctx context.Context) (bool, error)
	Upgrade(ctx context.Context, role leadership.Role) error
}

// Config holds the collaborators of a Reconciler.
type Config struct {
	Supervisor workload.Supervisor
	Database   DSNSource

	// NewGate returns the schema gate for a database. It defaults to
	// migration.NewGate.
	NewGate func(supervisor workload.Supervisor, dsn string) SchemaGate
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Supervisor == nil {
		return errors.NotValidf("nil Supervisor")
	}
	if c.Database == nil {
		return errors.NotValidf("nil Database")
	}
	return nil
}

// Input is the per-hook state a reconciliation works from.
type Input struct {
	Role   leadership.Role
	Config config.ApplicationConfig
	Peer   *peer.State
}

// Reconciler gathers an Observation, decides, and applies the decision to
// the workload.
type Reconciler struct {
	config Config
}

// New returns a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.NewGate == nil {
		cfg.NewGate = func(supervisor workload.Supervisor, dsn string) SchemaGate {
			return migration.NewGate(supervisor, dsn)
		}
	}
	return &Reconciler{config: cfg}, nil
}

// Reconcile brings the workload to the state the current configuration,
// relations and peer data call for. Errors are returned only for
// conditions retrying cannot fix; everything else is reported in the
// Outcome.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (Outcome, error) {
	supervisor := r.config.Supervisor
	obs := Observation{
		Role:   in.Role,
		Config: in.Config,
	}

	obs.CanConnect = supervisor.CanConnect(ctx)
	if !obs.CanConnect {
		logger.Infof("cannot connect to pebble yet, deferring")
		return Decide(obs).Outcome, nil
	}
	if err := workload.PushLogrotateConfig(ctx, supervisor); err != nil {
		logger.Warningf("%v", err)
		return waiting("cannot push logrotate config"), nil
	}

	dsn, err := r.config.Database.Sync(ctx, in.Role, in.Peer)
	if err != nil {
		return Outcome{}, errors.Trace(err)
	}
	obs.DSN = dsn
	if obs.DSN == "" {
		return Decide(obs).Outcome, nil
	}

	if err := r.observeSchema(ctx, &obs); errors.Is(err, migration.ErrUnavailable) {
		logger.Warningf("%v", err)
		return waiting(msgSchemaCheckUnavailable), nil
	} else if err != nil {
		return Outcome{}, errors.Trace(err)
	}

	obs.ResourceToken = in.Peer.ResourceToken()
	running, err := supervisor.IsRunning(ctx, workload.ServiceName)
	if err != nil {
		logger.Warningf("%v", err)
		return waiting("cannot get livepatch service status"), nil
	}
	obs.Running = running

	decision := Decide(obs)
	if decision.Layer == nil {
		return decision.Outcome, nil
	}
	return r.apply(ctx, decision), nil
}

func (r *Reconciler) observeSchema(ctx context.Context, obs *Observation) error {
	gate := r.config.NewGate(r.config.Supervisor, obs.DSN)
	required, err := gate.UpgradeRequired(ctx)
	if err != nil {
		return errors.Annotate(err, "checking database schema")
	}
	if !required {
		obs.Schema = SchemaCurrent
		return nil
	}
	if !obs.Role.IsLeader() {
		obs.Schema = SchemaPending
		return nil
	}

	err = gate.Upgrade(ctx, obs.Role)
	var upgradeErr *migration.UpgradeError
	if errors.As(err, &upgradeErr) {
		obs.Schema = SchemaFailed
		obs.SchemaError = upgradeErr.Stderr
		return nil
	} else if err != nil {
		return errors.Annotate(err, "upgrading database schema")
	}
	obs.Schema = SchemaCurrent
	return nil
}

func (r *Reconciler) apply(ctx context.Context, decision Decision) Outcome {
	supervisor := r.config.Supervisor
	if err := supervisor.AddLayer(ctx, workload.LayerLabel, decision.Layer, true); err != nil {
		logger.Warningf("%v", err)
		return waiting("cannot apply livepatch layer")
	}
	switch decision.Action {
	case Start:
		logger.Infof("starting livepatch service")
		if err := supervisor.Start(ctx, workload.ServiceName); err != nil {
			logger.Warningf("%v", err)
			return waiting("cannot start livepatch service")
		}
	case Replan:
		logger.Debugf("replanning livepatch service")
		if err := supervisor.Replan(ctx); err != nil {
			logger.Warningf("%v", err)
			return waiting("cannot replan livepatch service")
		}
	}
	return decision.Outcome
}
