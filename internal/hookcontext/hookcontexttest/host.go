// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hookcontexttest provides an in-memory unit agent for tests.
package hookcontexttest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
	"github.com/juju/testing"

	"github.com/canonical/livepatch-k8s-operator/core/status"
)

// Relation is a relation as seen by the unit under test.
type Relation struct {
	ID         string
	Endpoint   string
	RemoteApp  string
	LocalApp   map[string]string
	LocalUnit  map[string]string
	RemoteData map[string]string
	// Units maps remote unit names to their data bags.
	Units map[string]map[string]string
}

// Host is an in-memory unit agent. Calls are recorded on the embedded
// Stub; errors queued with SetErrors are returned by the methods that
// change state, in order.
type Host struct {
	testing.Stub

	Unit         string
	Leader       bool
	ConfigValues map[string]interface{}
	Params       map[string]interface{}
	Results      map[string]string
	Failure      string
	Failed       bool
	State        map[string]string
	Statuses     []status.StatusInfo
	Relations    map[string]*Relation

	nextID int
}

// NewHost returns a Host for unit livepatch/0.
func NewHost() *Host {
	return &Host{
		Unit:         "livepatch/0",
		ConfigValues: make(map[string]interface{}),
		Params:       make(map[string]interface{}),
		Results:      make(map[string]string),
		State:        make(map[string]string),
		Relations:    make(map[string]*Relation),
	}
}

func (h *Host) appName() string {
	app, _ := names.UnitApplication(h.Unit)
	return app
}

// AddRelation establishes a relation on endpoint with remoteApp and
// returns it. Peer relations use the unit's own application.
func (h *Host) AddRelation(endpoint, remoteApp string) *Relation {
	r := &Relation{
		ID:         fmt.Sprintf("%s:%d", endpoint, h.nextID),
		Endpoint:   endpoint,
		RemoteApp:  remoteApp,
		LocalApp:   make(map[string]string),
		LocalUnit:  make(map[string]string),
		RemoteData: make(map[string]string),
		Units:      make(map[string]map[string]string),
	}
	h.nextID++
	h.Relations[r.ID] = r
	return r
}

// AddPeerRelation establishes the peer relation on endpoint.
func (h *Host) AddPeerRelation(endpoint string) *Relation {
	return h.AddRelation(endpoint, h.appName())
}

// AddUnit adds a remote unit to the relation.
func (r *Relation) AddUnit(unit string, data map[string]string) {
	if data == nil {
		data = make(map[string]string)
	}
	r.Units[unit] = data
}

// Status returns the last status set, or the zero value.
func (h *Host) Status() status.StatusInfo {
	if len(h.Statuses) == 0 {
		return status.StatusInfo{}
	}
	return h.Statuses[len(h.Statuses)-1]
}

func (h *Host) relation(relationID string) (*Relation, error) {
	r, ok := h.Relations[relationID]
	if !ok {
		return nil, errors.NotFoundf("relation %s", relationID)
	}
	return r, nil
}

func (h *Host) firstRelation(endpoint string) (*Relation, error) {
	ids, _ := h.relationIDs(endpoint)
	if len(ids) == 0 {
		return nil, errors.NotFoundf("relation %q", endpoint)
	}
	return h.Relations[ids[0]], nil
}

func (h *Host) relationIDs(endpoint string) ([]string, error) {
	var ids []string
	for id, r := range h.Relations {
		if r.Endpoint == endpoint {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func copyData(data map[string]string) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func update(bag, data map[string]string) {
	for k, v := range data {
		if v == "" {
			delete(bag, k)
			continue
		}
		bag[k] = v
	}
}

// IsLeader mirrors hookcontext.Context.IsLeader.
func (h *Host) IsLeader(ctx context.Context) (bool, error) {
	h.MethodCall(h, "IsLeader")
	return h.Leader, nil
}

// Config mirrors hookcontext.Context.Config.
func (h *Host) Config(ctx context.Context) (map[string]interface{}, error) {
	h.MethodCall(h, "Config")
	out := make(map[string]interface{}, len(h.ConfigValues))
	for k, v := range h.ConfigValues {
		out[k] = v
	}
	return out, nil
}

// SetStatus mirrors hookcontext.Context.SetStatus.
func (h *Host) SetStatus(ctx context.Context, info status.StatusInfo) error {
	h.MethodCall(h, "SetStatus", info)
	if err := h.NextErr(); err != nil {
		return err
	}
	if err := info.Validate(); err != nil {
		return err
	}
	h.Statuses = append(h.Statuses, info)
	return nil
}

// RelationIDs mirrors hookcontext.Context.RelationIDs.
func (h *Host) RelationIDs(ctx context.Context, endpoint string) ([]string, error) {
	h.MethodCall(h, "RelationIDs", endpoint)
	return h.relationIDs(endpoint)
}

// RelationUnits mirrors hookcontext.Context.RelationUnits.
func (h *Host) RelationUnits(ctx context.Context, relationID string) ([]string, error) {
	h.MethodCall(h, "RelationUnits", relationID)
	r, err := h.relation(relationID)
	if err != nil {
		return nil, err
	}
	units := make([]string, 0, len(r.Units))
	for unit := range r.Units {
		units = append(units, unit)
	}
	sort.Strings(units)
	return units, nil
}

// RemoteAppData mirrors hookcontext.Context.RemoteAppData.
func (h *Host) RemoteAppData(ctx context.Context, relationID string) (map[string]string, error) {
	h.MethodCall(h, "RemoteAppData", relationID)
	r, err := h.relation(relationID)
	if err != nil {
		return nil, err
	}
	return copyData(r.RemoteData), nil
}

// RemoteUnitData mirrors hookcontext.Context.RemoteUnitData.
func (h *Host) RemoteUnitData(ctx context.Context, relationID, unit string) (map[string]string, error) {
	h.MethodCall(h, "RemoteUnitData", relationID, unit)
	r, err := h.relation(relationID)
	if err != nil {
		return nil, err
	}
	data, ok := r.Units[unit]
	if !ok {
		return nil, errors.NotFoundf("unit %s in relation %s", unit, relationID)
	}
	return copyData(data), nil
}

// SetLocalAppData mirrors hookcontext.Context.SetLocalAppData. Like the
// unit agent it refuses writes from followers.
func (h *Host) SetLocalAppData(ctx context.Context, relationID string, data map[string]string) error {
	h.MethodCall(h, "SetLocalAppData", relationID, data)
	if err := h.NextErr(); err != nil {
		return err
	}
	if !h.Leader {
		return errors.Errorf("relation-set failed: cannot write application settings: not the leader")
	}
	r, err := h.relation(relationID)
	if err != nil {
		return err
	}
	update(r.LocalApp, data)
	return nil
}

// SetLocalUnitData mirrors hookcontext.Context.SetLocalUnitData.
func (h *Host) SetLocalUnitData(ctx context.Context, relationID string, data map[string]string) error {
	h.MethodCall(h, "SetLocalUnitData", relationID, data)
	if err := h.NextErr(); err != nil {
		return err
	}
	r, err := h.relation(relationID)
	if err != nil {
		return err
	}
	update(r.LocalUnit, data)
	return nil
}

// AppRelationData mirrors hookcontext.Context.AppRelationData.
func (h *Host) AppRelationData(ctx context.Context, endpoint string) (map[string]string, error) {
	h.MethodCall(h, "AppRelationData", endpoint)
	r, err := h.firstRelation(endpoint)
	if err != nil {
		return nil, err
	}
	return copyData(r.LocalApp), nil
}

// SetAppRelationData mirrors hookcontext.Context.SetAppRelationData.
func (h *Host) SetAppRelationData(ctx context.Context, endpoint string, data map[string]string) error {
	h.MethodCall(h, "SetAppRelationData", endpoint, data)
	if err := h.NextErr(); err != nil {
		return err
	}
	if !h.Leader {
		return errors.Errorf("relation-set failed: cannot write application settings: not the leader")
	}
	r, err := h.firstRelation(endpoint)
	if err != nil {
		return err
	}
	update(r.LocalApp, data)
	return nil
}

// ActionParams mirrors hookcontext.Context.ActionParams.
func (h *Host) ActionParams(ctx context.Context) (map[string]interface{}, error) {
	h.MethodCall(h, "ActionParams")
	return h.Params, nil
}

// SetActionResult mirrors hookcontext.Context.SetActionResult.
func (h *Host) SetActionResult(ctx context.Context, results map[string]string) error {
	h.MethodCall(h, "SetActionResult", results)
	for k, v := range results {
		h.Results[k] = v
	}
	return nil
}

// FailAction mirrors hookcontext.Context.FailAction.
func (h *Host) FailAction(ctx context.Context, message string) error {
	h.MethodCall(h, "FailAction", message)
	h.Failed = true
	h.Failure = message
	return nil
}

// UnitState mirrors hookcontext.Context.UnitState.
func (h *Host) UnitState(ctx context.Context) (map[string]string, error) {
	h.MethodCall(h, "UnitState")
	return copyData(h.State), nil
}

// SetUnitState mirrors hookcontext.Context.SetUnitState.
func (h *Host) SetUnitState(ctx context.Context, key, value string) error {
	h.MethodCall(h, "SetUnitState", key, value)
	if value == "" {
		delete(h.State, key)
		return nil
	}
	h.State[key] = value
	return nil
}

// WriteCalls returns the names of the calls that changed relation data.
func (h *Host) WriteCalls() []string {
	var writes []string
	for _, call := range h.Calls() {
		if strings.HasPrefix(call.FuncName, "Set") && strings.HasSuffix(call.FuncName, "Data") {
			writes = append(writes, call.FuncName)
		}
	}
	return writes
}
