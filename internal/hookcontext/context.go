// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hookcontext gives the charm access to the unit agent through
// the hook tools available while a hook or action runs.
package hookcontext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/names/v5"

	"github.com/canonical/livepatch-k8s-operator/core/status"
)

var logger = loggo.GetLogger("livepatch.hookcontext")

// Context talks to the unit agent on behalf of one unit.
type Context struct {
	runner ToolRunner
	unit   names.UnitTag
}

// New returns a Context for unitName running tools with runner.
func New(runner ToolRunner, unitName string) (*Context, error) {
	if !names.IsValidUnit(unitName) {
		return nil, errors.NotValidf("unit name %q", unitName)
	}
	return &Context{runner: runner, unit: names.NewUnitTag(unitName)}, nil
}

// NewFromEnvironment returns a Context for the unit named by
// JUJU_UNIT_NAME.
func NewFromEnvironment() (*Context, error) {
	unitName := os.Getenv("JUJU_UNIT_NAME")
	if unitName == "" {
		return nil, errors.NotFoundf("JUJU_UNIT_NAME")
	}
	return New(ExecRunner{}, unitName)
}

// UnitName returns the name of the unit.
func (c *Context) UnitName() string {
	return c.unit.Id()
}

// ApplicationName returns the name of the unit's application.
func (c *Context) ApplicationName() string {
	app, _ := names.UnitApplication(c.unit.Id())
	return app
}

func (c *Context) runJSON(ctx context.Context, out interface{}, tool string, args ...string) error {
	data, err := c.runner.RunTool(ctx, tool, append([]string{"--format=json"}, args...)...)
	if err != nil {
		return errors.Trace(err)
	}
	if len(data) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return errors.Annotatef(err, "decoding %s output", tool)
	}
	return nil
}

// IsLeader reports whether the unit is the application leader.
func (c *Context) IsLeader(ctx context.Context) (bool, error) {
	var leader bool
	err := c.runJSON(ctx, &leader, "is-leader")
	return leader, errors.Trace(err)
}

// Config returns every charm config option that has a value.
func (c *Context) Config(ctx context.Context) (map[string]interface{}, error) {
	attrs := make(map[string]interface{})
	if err := c.runJSON(ctx, &attrs, "config-get", "--all"); err != nil {
		return nil, errors.Trace(err)
	}
	return attrs, nil
}

// SetStatus is part of the status.StatusSetter interface.
func (c *Context) SetStatus(ctx context.Context, info status.StatusInfo) error {
	if err := info.Validate(); err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("setting status %s", info)
	_, err := c.runner.RunTool(ctx, "status-set", info.Status.String(), info.Message)
	return errors.Annotate(err, "setting workload status")
}

// RelationIDs returns the ids of the relations established on endpoint.
func (c *Context) RelationIDs(ctx context.Context, endpoint string) ([]string, error) {
	var ids []string
	err := c.runJSON(ctx, &ids, "relation-ids", endpoint)
	return ids, errors.Trace(err)
}

// RelationUnits returns the remote units in the relation.
func (c *Context) RelationUnits(ctx context.Context, relationID string) ([]string, error) {
	var units []string
	if err := c.runJSON(ctx, &units, "relation-list", "-r", relationID); err != nil {
		return nil, errors.Trace(err)
	}
	sort.Strings(units)
	return units, nil
}

// remoteApplication returns the name of the application at the other end
// of the relation.
func (c *Context) remoteApplication(ctx context.Context, relationID string) (string, error) {
	var app string
	if err := c.runJSON(ctx, &app, "relation-list", "-r", relationID, "--app"); err != nil {
		return "", errors.Trace(err)
	}
	if app == "" {
		return "", errors.NotFoundf("remote application of relation %s", relationID)
	}
	return app, nil
}

func (c *Context) relationGet(ctx context.Context, relationID, member string, app bool) (map[string]string, error) {
	args := []string{"-r", relationID}
	if app {
		args = append(args, "--app")
	}
	args = append(args, "-", member)
	data := make(map[string]string)
	if err := c.runJSON(ctx, &data, "relation-get", args...); err != nil {
		return nil, errors.Annotatef(err, "reading %s data in relation %s", member, relationID)
	}
	return data, nil
}

func (c *Context) relationSet(ctx context.Context, relationID string, app bool, data map[string]string) error {
	args := []string{"-r", relationID}
	if app {
		args = append(args, "--app")
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("%s=%s", k, data[k]))
	}
	_, err := c.runner.RunTool(ctx, "relation-set", args...)
	return errors.Annotatef(err, "updating relation %s", relationID)
}

// RemoteAppData returns the data bag of the remote application.
func (c *Context) RemoteAppData(ctx context.Context, relationID string) (map[string]string, error) {
	app, err := c.remoteApplication(ctx, relationID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return c.relationGet(ctx, relationID, app, true)
}

// RemoteUnitData returns the data bag of a remote unit.
func (c *Context) RemoteUnitData(ctx context.Context, relationID, unit string) (map[string]string, error) {
	return c.relationGet(ctx, relationID, unit, false)
}

// SetLocalAppData updates the application data bag. Only the leader may
// do so; the unit agent refuses otherwise.
func (c *Context) SetLocalAppData(ctx context.Context, relationID string, data map[string]string) error {
	return c.relationSet(ctx, relationID, true, data)
}

// SetLocalUnitData updates the unit data bag.
func (c *Context) SetLocalUnitData(ctx context.Context, relationID string, data map[string]string) error {
	return c.relationSet(ctx, relationID, false, data)
}

func (c *Context) firstRelation(ctx context.Context, endpoint string) (string, error) {
	ids, err := c.RelationIDs(ctx, endpoint)
	if err != nil {
		return "", errors.Trace(err)
	}
	if len(ids) == 0 {
		return "", errors.NotFoundf("relation %q", endpoint)
	}
	return ids[0], nil
}

// AppRelationData returns the application data bag of this application in
// the named relation. It is used for the peer relation, where every unit
// may read it.
func (c *Context) AppRelationData(ctx context.Context, endpoint string) (map[string]string, error) {
	id, err := c.firstRelation(ctx, endpoint)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return c.relationGet(ctx, id, c.ApplicationName(), true)
}

// SetAppRelationData updates the application data bag of this application
// in the named relation.
func (c *Context) SetAppRelationData(ctx context.Context, endpoint string, data map[string]string) error {
	id, err := c.firstRelation(ctx, endpoint)
	if err != nil {
		return errors.Trace(err)
	}
	return c.relationSet(ctx, id, true, data)
}
