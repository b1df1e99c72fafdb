// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"

	"github.com/canonical/livepatch-k8s-operator/core/hooks"
)

// deferredEventsKey is the unit state key holding deferred events.
const deferredEventsKey = "deferred-events"

type deferredEvent struct {
	Name       string `json:"name"`
	RelationID string `json:"relation-id,omitempty"`
}

func sameEvent(a, b hooks.Event) bool {
	return a.Name == b.Name && a.RelationID == b.RelationID
}

func (c *Charm) loadDeferred(ctx context.Context) ([]hooks.Event, error) {
	state, err := c.config.Host.UnitState(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	raw := state[deferredEventsKey]
	if raw == "" {
		return nil, nil
	}
	var stored []deferredEvent
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		logger.Warningf("discarding unreadable deferred events: %v", err)
		return nil, nil
	}
	events := make([]hooks.Event, 0, len(stored))
	for _, d := range stored {
		event, err := hooks.ParseHookName(d.Name)
		if err != nil {
			logger.Warningf("discarding deferred event %q: %v", d.Name, err)
			continue
		}
		event.RelationID = d.RelationID
		events = append(events, event)
	}
	return events, nil
}

func (c *Charm) saveDeferred(ctx context.Context, events []hooks.Event) error {
	var stored []deferredEvent
	for _, event := range events {
		duplicate := false
		for _, d := range stored {
			if d.Name == event.Name && d.RelationID == event.RelationID {
				duplicate = true
				break
			}
		}
		if !duplicate {
			stored = append(stored, deferredEvent{Name: event.Name, RelationID: event.RelationID})
		}
	}
	value := ""
	if len(stored) > 0 {
		data, err := json.Marshal(stored)
		if err != nil {
			return errors.Trace(err)
		}
		value = string(data)
	}
	return errors.Annotate(c.config.Host.SetUnitState(ctx, deferredEventsKey, value), "saving deferred events")
}
