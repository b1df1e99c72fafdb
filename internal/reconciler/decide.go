// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package reconciler decides what state the livepatch server should be in
// and drives pebble towards it.
package reconciler

import (
	"strings"

	"github.com/canonical/livepatch-k8s-operator/core/leadership"
	"github.com/canonical/livepatch-k8s-operator/internal/charm/config"
	"github.com/canonical/livepatch-k8s-operator/internal/workload"
)

const (
	// ServerPort is the port the livepatch server listens on.
	ServerPort = 8080

	msgWaitingForDatabase     = "waiting for pg relation"
	msgWaitingForLeader       = "waiting for leader to run schema upgrade"
	msgSchemaCheckUnavailable = "cannot run schema check"
	msgURLTemplateMissing     = "✘ server.url-template config not set"
	msgSyncTokenMissing       = "✘ patch-sync token not set, run get-resource-token action"
)

// SchemaState is what is known about the database schema.
type SchemaState string

const (
	SchemaUnchecked SchemaState = ""
	SchemaCurrent   SchemaState = "current"
	// SchemaPending means an upgrade is needed but this unit may not run
	// it.
	SchemaPending SchemaState = "pending"
	// SchemaFailed means the upgrade ran and failed.
	SchemaFailed SchemaState = "failed"
)

// ServiceAction is what to do with the livepatch service once its layer
// is in place.
type ServiceAction string

const (
	NoAction ServiceAction = ""
	Start    ServiceAction = "start"
	Replan   ServiceAction = "replan"
)

// Observation is everything the decision depends on. Fields are only
// consulted once every earlier gate has passed, so a partially filled
// observation gives the right answer for the point at which gathering
// stopped.
type Observation struct {
	CanConnect bool
	Role       leadership.Role
	DSN        string

	Schema      SchemaState
	SchemaError string

	Config        config.ApplicationConfig
	ResourceToken string
	Running       bool
}

// Decision is the outcome of a reconciliation together with the changes
// to make to the workload to reach it.
type Decision struct {
	Outcome Outcome
	Layer   *workload.Layer
	Action  ServiceAction
}

// Decide works out the desired state of the workload from an
// observation. It has no side effects.
func Decide(obs Observation) Decision {
	if !obs.CanConnect {
		return Decision{Outcome: deferred()}
	}
	if obs.DSN == "" {
		out := blocked(msgWaitingForDatabase)
		out.Defer = true
		return Decision{Outcome: out}
	}
	switch obs.Schema {
	case SchemaPending:
		return Decision{Outcome: waiting(msgWaitingForLeader)}
	case SchemaFailed:
		reason := strings.TrimSpace(obs.SchemaError)
		if reason == "" {
			reason = "schema upgrade failed"
		}
		return Decision{Outcome: blocked(reason)}
	}
	if obs.Config.URLTemplate() == "" {
		return Decision{Outcome: blocked(msgURLTemplateMissing)}
	}
	if !obs.Config.IsHosted() && obs.ResourceToken == "" {
		return Decision{Outcome: blocked(msgSyncTokenMissing)}
	}

	env := config.Environment(obs.Config, config.Extras{
		Role:          obs.Role,
		DSN:           obs.DSN,
		ResourceToken: obs.ResourceToken,
		ServerAddress: config.DefaultServerAddress,
	})
	action := Start
	if obs.Running {
		action = Replan
	}
	return Decision{
		Outcome: active(),
		Layer:   workload.ServerLayer(env, ServerPort),
		Action:  action,
	}
}
