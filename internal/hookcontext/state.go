// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookcontext

import (
	"context"
	"fmt"

	"github.com/juju/errors"
)

// UnitState returns the charm's persisted unit state.
func (c *Context) UnitState(ctx context.Context) (map[string]string, error) {
	state := make(map[string]string)
	if err := c.runJSON(ctx, &state, "state-get"); err != nil {
		return nil, errors.Annotate(err, "reading unit state")
	}
	return state, nil
}

// SetUnitState persists a unit state value. An empty value deletes the
// key.
func (c *Context) SetUnitState(ctx context.Context, key, value string) error {
	var err error
	if value == "" {
		_, err = c.runner.RunTool(ctx, "state-delete", key)
	} else {
		_, err = c.runner.RunTool(ctx, "state-set", fmt.Sprintf("%s=%s", key, value))
	}
	return errors.Annotatef(err, "saving unit state %q", key)
}
