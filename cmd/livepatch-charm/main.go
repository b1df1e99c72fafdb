// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// livepatch-charm is the dispatch binary of the livepatch sidecar charm.
// Juju runs it for every hook and action with JUJU_DISPATCH_PATH set.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/canonical/livepatch-k8s-operator/core/hooks"
	"github.com/canonical/livepatch-k8s-operator/internal/charm"
	"github.com/canonical/livepatch-k8s-operator/internal/hookcontext"
	"github.com/canonical/livepatch-k8s-operator/internal/workload"
)

var logger = loggo.GetLogger("livepatch.cmd")

const (
	// exitErr is returned when the dispatch fails.
	exitErr = 1
	// exitUsage is returned when the binary is invoked incorrectly.
	exitUsage = 2
)

func main() {
	os.Exit(Main(os.Args))
}

// Main runs the dispatch described by args and the environment and
// returns the process exit code.
func Main(args []string) int {
	flags := gnuflag.NewFlagSet(args[0], gnuflag.ContinueOnError)
	dispatchPath := flags.String("dispatch-path", os.Getenv("JUJU_DISPATCH_PATH"), "hook or action to dispatch, eg hooks/config-changed")
	container := flags.String("container", workload.ContainerName, "name of the workload container")
	if err := flags.Parse(true, args[1:]); err != nil {
		return exitUsage
	}
	if *dispatchPath == "" {
		fmt.Fprintln(os.Stderr, "JUJU_DISPATCH_PATH not set")
		return exitUsage
	}

	if err := run(context.Background(), *dispatchPath, *container); err != nil {
		logger.Errorf("%s: %v", *dispatchPath, err)
		fmt.Fprintf(os.Stderr, "%s: %v\n", *dispatchPath, err)
		return exitErr
	}
	return 0
}

func run(ctx context.Context, dispatchPath, container string) error {
	if err := hookcontext.ConfigureLogging(hookcontext.ExecRunner{}); err != nil {
		return errors.Annotate(err, "configuring logging")
	}
	event, err := hooks.ParseDispatchPath(dispatchPath)
	if err != nil {
		return errors.Trace(err)
	}
	event.RelationID = os.Getenv("JUJU_RELATION_ID")

	host, err := hookcontext.NewFromEnvironment()
	if err != nil {
		return errors.Trace(err)
	}
	supervisor, err := workload.DialPebble(container)
	if err != nil {
		return errors.Trace(err)
	}
	c, err := charm.New(charm.Config{
		Host:       host,
		Supervisor: supervisor,
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.Dispatch(ctx, event))
}
