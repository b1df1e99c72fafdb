// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package leadership describes the role a unit plays within its
// application for the duration of a single hook.
package leadership

// Role is the unit's leadership role, as reported by is-leader when the
// hook started. It is computed once per dispatch.
type Role string

const (
	Leader   Role = "leader"
	Follower Role = "follower"
)

// RoleFor returns the Role matching the is-leader result.
func RoleFor(isLeader bool) Role {
	if isLeader {
		return Leader
	}
	return Follower
}

// IsLeader returns true if the role is Leader.
func (r Role) IsLeader() bool {
	return r == Leader
}

// String is part of fmt.Stringer.
func (r Role) String() string {
	return string(r)
}
