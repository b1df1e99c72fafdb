// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status

import (
	"context"
	"fmt"

	"github.com/juju/errors"
)

// Status represents the workload status of the unit as reported to Juju
// through status-set.
type Status string

// String returns a string representation of the Status.
func (s Status) String() string {
	return string(s)
}

const (
	// Maintenance is set when:
	// The unit is not yet providing services, but is actively doing stuff
	// in preparation for providing those services.
	Maintenance Status = "maintenance"

	// Waiting is set when:
	// The unit is unable to progress to an active state because something
	// it depends on (the workload container, the leader) is not ready.
	Waiting Status = "waiting"

	// Blocked is set when:
	// The unit needs manual intervention to get back to the Running state.
	Blocked Status = "blocked"

	// Active is set when:
	// The unit believes it is correctly offering all the services it has
	// been asked to offer.
	Active Status = "active"
)

// KnownWorkloadStatus returns true if the status can be set by a charm.
func (s Status) KnownWorkloadStatus() bool {
	switch s {
	case Maintenance, Waiting, Blocked, Active:
		return true
	}
	return false
}

// StatusInfo holds a Status and associated information.
type StatusInfo struct {
	Status  Status
	Message string
}

// Validate returns an error if the status cannot be set by a charm.
func (s StatusInfo) Validate() error {
	if !s.Status.KnownWorkloadStatus() {
		return errors.NotValidf("workload status %q", s.Status)
	}
	return nil
}

// String renders the status the way it is shown to operators,
// eg "blocked: waiting for pg relation".
func (s StatusInfo) String() string {
	if s.Message == "" {
		return s.Status.String()
	}
	return fmt.Sprintf("%s: %s", s.Status, s.Message)
}

// StatusSetter represents a type whose status can be set.
type StatusSetter interface {
	SetStatus(ctx context.Context, info StatusInfo) error
}
