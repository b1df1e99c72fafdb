// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookcontext

import (
	"context"
	"fmt"
	"sort"

	"github.com/juju/errors"
)

// ActionParams returns the parameters the action was invoked with.
func (c *Context) ActionParams(ctx context.Context) (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if err := c.runJSON(ctx, &params, "action-get"); err != nil {
		return nil, errors.Trace(err)
	}
	return params, nil
}

// SetActionResult records results of the running action.
func (c *Context) SetActionResult(ctx context.Context, results map[string]string) error {
	if len(results) == 0 {
		return nil
	}
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, fmt.Sprintf("%s=%s", k, results[k]))
	}
	_, err := c.runner.RunTool(ctx, "action-set", args...)
	return errors.Annotate(err, "setting action results")
}

// FailAction marks the running action as failed.
func (c *Context) FailAction(ctx context.Context, message string) error {
	_, err := c.runner.RunTool(ctx, "action-fail", message)
	return errors.Annotate(err, "failing action")
}
