// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package database resolves the livepatch database connection string from
// one of the two postgresql relations the charm supports.
package database

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/canonical/livepatch-k8s-operator/core/leadership"
	"github.com/canonical/livepatch-k8s-operator/internal/peer"
)

var logger = loggo.GetLogger("livepatch.database")

const (
	// LegacyRelationName is the endpoint speaking the pgsql interface.
	LegacyRelationName = "database-legacy"
	// RelationName is the endpoint speaking the postgresql_client interface.
	RelationName = "database"
	// DatabaseName is the database requested from postgresql.
	DatabaseName = "livepatch-server"
)

// ErrBothRelationsActive is returned when both database relations are
// established. The operator has to remove one of them.
const ErrBothRelationsActive = errors.ConstError("both database relations active")

// ErrNotReady is returned when the active relation has not yet provided
// everything needed to build a connection string.
const ErrNotReady = errors.ConstError("database relation not ready")

// RelationState describes which database relation is established.
type RelationState string

const (
	None         RelationState = "none"
	LegacyActive RelationState = "legacy-active"
	ModernActive RelationState = "modern-active"
)

// RelationBackend gives access to the charm's relations and their data
// bags.
type RelationBackend interface {
	// RelationIDs returns the ids of the relations established on the
	// named endpoint.
	RelationIDs(ctx context.Context, endpoint string) ([]string, error)

	// RelationUnits returns the remote units participating in a relation.
	RelationUnits(ctx context.Context, relationID string) ([]string, error)

	// RemoteAppData returns the remote application's data bag.
	RemoteAppData(ctx context.Context, relationID string) (map[string]string, error)

	// RemoteUnitData returns the data bag of a remote unit.
	RemoteUnitData(ctx context.Context, relationID, unit string) (map[string]string, error)

	// SetLocalAppData updates this application's data bag. Only the
	// leader may call it.
	SetLocalAppData(ctx context.Context, relationID string, data map[string]string) error

	// SetLocalUnitData updates this unit's data bag.
	SetLocalUnitData(ctx context.Context, relationID string, data map[string]string) error
}

// Resolver works out the connection string from the established database
// relation.
type Resolver struct {
	backend RelationBackend
}

// NewResolver returns a Resolver reading relations from backend.
func NewResolver(backend RelationBackend) *Resolver {
	return &Resolver{backend: backend}
}

// IsDatabaseRelation returns true if endpoint is one of the database
// relations.
func IsDatabaseRelation(endpoint string) bool {
	return endpoint == LegacyRelationName || endpoint == RelationName
}

func otherRelation(endpoint string) string {
	if endpoint == LegacyRelationName {
		return RelationName
	}
	return LegacyRelationName
}

// activeRelation returns the id of the first relation on endpoint that has
// remote units, if any.
func (r *Resolver) activeRelation(ctx context.Context, endpoint string) (string, bool, error) {
	ids, err := r.backend.RelationIDs(ctx, endpoint)
	if err != nil {
		return "", false, errors.Annotatef(err, "listing %q relations", endpoint)
	}
	for _, id := range ids {
		units, err := r.backend.RelationUnits(ctx, id)
		if err != nil {
			return "", false, errors.Annotatef(err, "listing units of relation %s", id)
		}
		if len(units) > 0 {
			return id, true, nil
		}
	}
	return "", false, nil
}

func bothActiveError(alreadyActive string) error {
	return errors.WithType(
		errors.Errorf("Integration with both database relations is not allowed; `%s` is already activated.", alreadyActive),
		ErrBothRelationsActive,
	)
}

// State returns which database relation is established. It fails with
// ErrBothRelationsActive if both are.
func (r *Resolver) State(ctx context.Context) (RelationState, error) {
	_, legacy, err := r.activeRelation(ctx, LegacyRelationName)
	if err != nil {
		return None, errors.Trace(err)
	}
	_, modern, err := r.activeRelation(ctx, RelationName)
	if err != nil {
		return None, errors.Trace(err)
	}
	switch {
	case legacy && modern:
		return None, bothActiveError(LegacyRelationName)
	case legacy:
		return LegacyActive, nil
	case modern:
		return ModernActive, nil
	}
	return None, nil
}

// CheckExclusive fails with ErrBothRelationsActive if a relation event on
// endpoint arrives while the other database relation is established.
func (r *Resolver) CheckExclusive(ctx context.Context, endpoint string) error {
	other := otherRelation(endpoint)
	_, active, err := r.activeRelation(ctx, other)
	if err != nil {
		return errors.Trace(err)
	}
	if active {
		return bothActiveError(other)
	}
	return nil
}

// Joined handles a unit joining one of the database relations: it checks
// the relations are exclusive and, on the leader, requests the livepatch
// database.
func (r *Resolver) Joined(ctx context.Context, endpoint, relationID string, role leadership.Role) error {
	if err := r.CheckExclusive(ctx, endpoint); err != nil {
		return errors.Trace(err)
	}
	if !role.IsLeader() {
		return nil
	}
	request := map[string]string{"database": DatabaseName}
	var err error
	switch endpoint {
	case LegacyRelationName:
		err = r.backend.SetLocalUnitData(ctx, relationID, request)
	case RelationName:
		err = r.backend.SetLocalAppData(ctx, relationID, request)
	default:
		return errors.NotValidf("database relation %q", endpoint)
	}
	return errors.Annotatef(err, "requesting database %q", DatabaseName)
}

// Resolve returns the connection string offered by the established
// database relation, or ErrNotReady if there is none yet.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	state, err := r.State(ctx)
	if err != nil {
		return "", errors.Trace(err)
	}
	switch state {
	case LegacyActive:
		return r.resolveLegacy(ctx)
	case ModernActive:
		return r.resolveModern(ctx)
	}
	return "", ErrNotReady
}

func (r *Resolver) resolveLegacy(ctx context.Context) (string, error) {
	id, _, err := r.activeRelation(ctx, LegacyRelationName)
	if err != nil {
		return "", errors.Trace(err)
	}
	units, err := r.backend.RelationUnits(ctx, id)
	if err != nil {
		return "", errors.Trace(err)
	}
	for _, unit := range units {
		data, err := r.backend.RemoteUnitData(ctx, id, unit)
		if err != nil {
			return "", errors.Annotatef(err, "reading %s data", unit)
		}
		master := data["master"]
		if master == "" {
			continue
		}
		dsn, err := ParseLegacyDSN(master)
		if err != nil {
			return "", errors.Annotatef(err, "master offered by %s", unit)
		}
		return dsn, nil
	}
	return "", ErrNotReady
}

func (r *Resolver) resolveModern(ctx context.Context) (string, error) {
	id, _, err := r.activeRelation(ctx, RelationName)
	if err != nil {
		return "", errors.Trace(err)
	}
	data, err := r.backend.RemoteAppData(ctx, id)
	if err != nil {
		return "", errors.Annotatef(err, "reading relation %s data", id)
	}
	dsn, ok := ModernDSN(data)
	if !ok {
		return "", ErrNotReady
	}
	return dsn, nil
}

// Sync resolves the connection string and, on the leader, records it in
// the peer state so followers see it. It returns the connection string
// the unit should use, which is empty when none is known.
func (r *Resolver) Sync(ctx context.Context, role leadership.Role, st *peer.State) (string, error) {
	if !role.IsLeader() {
		// Followers only check the relations are sane.
		if _, err := r.State(ctx); err != nil {
			return "", errors.Trace(err)
		}
		return st.DSN(), nil
	}

	dsn, err := r.Resolve(ctx)
	if errors.Is(err, ErrNotReady) {
		logger.Debugf("no database connection string offered yet")
		return st.DSN(), nil
	} else if err != nil {
		return "", errors.Trace(err)
	}

	writer, err := st.Writer(role)
	if err != nil {
		return "", errors.Trace(err)
	}
	err = writer.SetDSN(ctx, dsn)
	if errors.Is(err, peer.ErrNotInitialized) {
		logger.Warningf("cannot share database connection string: %v", err)
	} else if err != nil {
		return "", errors.Trace(err)
	}
	return dsn, nil
}

// String is part of fmt.Stringer.
func (s RelationState) String() string {
	return string(s)
}
