// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hooks knows the hooks and actions this charm is dispatched for.
package hooks

import (
	"path"
	"strings"

	"github.com/juju/errors"
)

// Kind enumerates the different kinds of hooks that exist.
type Kind string

const (
	Install       Kind = "install"
	Start         Kind = "start"
	ConfigChanged Kind = "config-changed"
	UpgradeCharm  Kind = "upgrade-charm"
	Stop          Kind = "stop"
	Remove        Kind = "remove"
	UpdateStatus  Kind = "update-status"
	LeaderElected Kind = "leader-elected"

	LeaderSettingsChanged Kind = "leader-settings-changed"

	RelationCreated  Kind = "relation-created"
	RelationJoined   Kind = "relation-joined"
	RelationChanged  Kind = "relation-changed"
	RelationDeparted Kind = "relation-departed"
	RelationBroken   Kind = "relation-broken"

	PebbleReady Kind = "pebble-ready"

	// Action is used for every action dispatch; the action name is kept
	// on the Event.
	Action Kind = "action"
)

var unitHooks = []Kind{
	Install, Start, ConfigChanged, UpgradeCharm, Stop, Remove,
	UpdateStatus, LeaderElected, LeaderSettingsChanged,
}

var relationHooks = []Kind{
	RelationCreated, RelationJoined, RelationChanged, RelationDeparted, RelationBroken,
}

// IsRelation returns whether the Kind represents a relation hook.
func (kind Kind) IsRelation() bool {
	for _, k := range relationHooks {
		if k == kind {
			return true
		}
	}
	return false
}

// Event identifies a single dispatch of the charm.
type Event struct {
	Kind Kind

	// Name is the full hook or action name, eg "database-relation-changed",
	// "livepatch-pebble-ready" or "get-resource-token".
	Name string

	// Relation is the relation endpoint for relation hooks.
	Relation string

	// RelationID identifies the relation for relation hooks,
	// eg "database:3".
	RelationID string

	// Container is the workload container for pebble-ready hooks.
	Container string
}

// String is part of fmt.Stringer.
func (e Event) String() string {
	return e.Name
}

// IsAction returns true for action dispatches.
func (e Event) IsAction() bool {
	return e.Kind == Action
}

// ParseDispatchPath converts JUJU_DISPATCH_PATH (eg "hooks/config-changed"
// or "actions/restart") into an Event.
func ParseDispatchPath(dispatchPath string) (Event, error) {
	dir, name := path.Split(path.Clean(dispatchPath))
	dir = strings.TrimSuffix(dir, "/")
	if name == "" || name == "." {
		return Event{}, errors.NotValidf("dispatch path %q", dispatchPath)
	}
	switch dir {
	case "actions":
		return Event{Kind: Action, Name: name}, nil
	case "hooks":
		return ParseHookName(name)
	}
	return Event{}, errors.NotValidf("dispatch path %q", dispatchPath)
}

// ParseHookName converts a hook name into an Event.
func ParseHookName(name string) (Event, error) {
	for _, k := range unitHooks {
		if Kind(name) == k {
			return Event{Kind: k, Name: name}, nil
		}
	}
	for _, k := range relationHooks {
		suffix := "-" + string(k)
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return Event{
				Kind:     k,
				Name:     name,
				Relation: strings.TrimSuffix(name, suffix),
			}, nil
		}
	}
	suffix := "-" + string(PebbleReady)
	if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
		return Event{
			Kind:      PebbleReady,
			Name:      name,
			Container: strings.TrimSuffix(name, suffix),
		}, nil
	}
	return Event{}, errors.NotSupportedf("hook %q", name)
}
