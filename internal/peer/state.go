// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package peer provides typed access to the application data bag of the
// charm's peer relation, which Juju replicates to every unit.
package peer

import (
	"context"
	"strconv"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/canonical/livepatch-k8s-operator/core/leadership"
)

var logger = loggo.GetLogger("livepatch.peer")

const (
	// RelationName is the peer relation endpoint.
	RelationName = "livepatch"

	DSNKey            = "dsn"
	ResourceTokenKey  = "resource-token"
	SchemaUpgradedKey = "schema-upgraded"
)

// ErrNotLeader is returned when a follower asks for write access.
const ErrNotLeader = errors.ConstError("peer state is only writable by the leader")

// ErrNotInitialized is returned when writing before the peer relation
// has been created.
const ErrNotInitialized = errors.ConstError("peer relation not ready")

// RelationData reads and writes application relation data. Reading a
// relation that does not exist yet returns an error satisfying
// errors.IsNotFound.
type RelationData interface {
	AppRelationData(ctx context.Context, relation string) (map[string]string, error)
	SetAppRelationData(ctx context.Context, relation string, data map[string]string) error
}

// Reader gives read access to the peer state. Every unit has one.
type Reader interface {
	// Initialized reports whether the peer relation exists.
	Initialized() bool
	DSN() string
	ResourceToken() string
	SchemaUpgraded() bool
}

// LeaderWriter gives write access to the peer state. Only the leader can
// obtain one.
type LeaderWriter interface {
	Reader
	SetDSN(ctx context.Context, dsn string) error
	SetResourceToken(ctx context.Context, token string) error
	SetSchemaUpgraded(ctx context.Context) error
}

// State is a snapshot of the peer relation's application data taken at
// the start of a hook.
type State struct {
	data        map[string]string
	initialized bool
	backend     RelationData
}

// Load reads the peer state. A missing peer relation is not an error; the
// returned State reports itself as uninitialised and reads as empty.
func Load(ctx context.Context, backend RelationData) (*State, error) {
	data, err := backend.AppRelationData(ctx, RelationName)
	if errors.Is(err, errors.NotFound) {
		logger.Debugf("peer relation %q not created yet", RelationName)
		return &State{data: map[string]string{}, backend: backend}, nil
	} else if err != nil {
		return nil, errors.Annotate(err, "reading peer relation data")
	}
	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}
	return &State{data: copied, initialized: true, backend: backend}, nil
}

// Initialized is part of the Reader interface.
func (s *State) Initialized() bool {
	return s.initialized
}

// DSN is part of the Reader interface.
func (s *State) DSN() string {
	return s.data[DSNKey]
}

// ResourceToken is part of the Reader interface.
func (s *State) ResourceToken() string {
	return s.data[ResourceTokenKey]
}

// SchemaUpgraded is part of the Reader interface.
func (s *State) SchemaUpgraded() bool {
	v, _ := strconv.ParseBool(s.data[SchemaUpgradedKey])
	return v || s.data[SchemaUpgradedKey] == "done"
}

// Writer returns write access to the state for the leader. Followers get
// ErrNotLeader and never touch the relation.
func (s *State) Writer(role leadership.Role) (LeaderWriter, error) {
	if !role.IsLeader() {
		return nil, ErrNotLeader
	}
	return &leaderWriter{State: s}, nil
}

type leaderWriter struct {
	*State
}

// SetDSN is part of the LeaderWriter interface.
func (w *leaderWriter) SetDSN(ctx context.Context, dsn string) error {
	return w.set(ctx, DSNKey, dsn)
}

// SetResourceToken is part of the LeaderWriter interface.
func (w *leaderWriter) SetResourceToken(ctx context.Context, token string) error {
	return w.set(ctx, ResourceTokenKey, token)
}

// SetSchemaUpgraded is part of the LeaderWriter interface.
func (w *leaderWriter) SetSchemaUpgraded(ctx context.Context) error {
	return w.set(ctx, SchemaUpgradedKey, "done")
}

func (w *leaderWriter) set(ctx context.Context, key, value string) error {
	if !w.initialized {
		return ErrNotInitialized
	}
	if current, ok := w.data[key]; ok && current == value {
		return nil
	}
	if err := w.backend.SetAppRelationData(ctx, RelationName, map[string]string{key: value}); err != nil {
		return errors.Annotatef(err, "setting %q in peer relation", key)
	}
	w.data[key] = value
	return nil
}
