// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler

import (
	"github.com/canonical/livepatch-k8s-operator/core/status"
)

// Kind classifies the result of a reconciliation.
type Kind string

const (
	Active   Kind = "active"
	Waiting  Kind = "waiting"
	Blocked  Kind = "blocked"
	Deferred Kind = "deferred"
)

// Outcome is the result of a reconciliation.
type Outcome struct {
	Kind   Kind
	Reason string

	// Defer asks for the triggering event to be run again on the next
	// dispatch.
	Defer bool
}

func active() Outcome {
	return Outcome{Kind: Active}
}

func waiting(reason string) Outcome {
	return Outcome{Kind: Waiting, Reason: reason, Defer: true}
}

func blocked(reason string) Outcome {
	return Outcome{Kind: Blocked, Reason: reason}
}

func deferred() Outcome {
	return Outcome{Kind: Deferred, Defer: true}
}

// Status returns the workload status reflecting the outcome. Deferred
// outcomes leave the status alone, so ok is false for them.
func (o Outcome) Status() (info status.StatusInfo, ok bool) {
	switch o.Kind {
	case Active:
		return status.StatusInfo{Status: status.Active}, true
	case Waiting:
		return status.StatusInfo{Status: status.Waiting, Message: o.Reason}, true
	case Blocked:
		return status.StatusInfo{Status: status.Blocked, Message: o.Reason}, true
	}
	return status.StatusInfo{}, false
}

// String is part of fmt.Stringer.
func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return string(o.Kind) + ": " + o.Reason
}
