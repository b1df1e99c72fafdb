// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookcontext

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4/exec"
	"github.com/kballard/go-shellquote"
)

// ToolRunner runs a hook tool and returns what it wrote to stdout.
type ToolRunner interface {
	RunTool(ctx context.Context, tool string, args ...string) ([]byte, error)
}

// ExecRunner runs hook tools found on the PATH the unit agent sets up for
// the hook.
type ExecRunner struct {
	// Environment is passed to every tool. When nil the charm's own
	// environment is used.
	Environment []string
}

// RunTool is part of the ToolRunner interface.
func (r ExecRunner) RunTool(ctx context.Context, tool string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	env := r.Environment
	if env == nil {
		env = os.Environ()
	}
	command := shellquote.Join(append([]string{tool}, args...)...)
	result, err := exec.RunCommands(exec.RunParams{
		Commands:    command,
		Environment: env,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "running %s", tool)
	}
	if result.Code != 0 {
		return nil, &ToolError{
			Tool:   tool,
			Code:   result.Code,
			Stderr: strings.TrimSpace(string(result.Stderr)),
		}
	}
	return bytes.TrimSpace(result.Stdout), nil
}

// ToolError is returned when a hook tool exits non-zero.
type ToolError struct {
	Tool   string
	Code   int
	Stderr string
}

// Error is part of the error interface.
func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return e.Tool + " failed"
	}
	return e.Tool + " failed: " + e.Stderr
}
