// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"fmt"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"
)

// Override describes how a layer section is combined with what the plan
// already holds.
type Override string

const (
	Merge   Override = "merge"
	Replace Override = "replace"
)

// Layer is a pebble configuration layer. Only the fields the charm uses
// are modelled.
type Layer struct {
	Summary     string              `yaml:"summary,omitempty"`
	Description string              `yaml:"description,omitempty"`
	Services    map[string]*Service `yaml:"services,omitempty"`
	Checks      map[string]*Check   `yaml:"checks,omitempty"`
}

// Service is a pebble service definition.
type Service struct {
	Override    Override          `yaml:"override,omitempty"`
	Summary     string            `yaml:"summary,omitempty"`
	Command     string            `yaml:"command,omitempty"`
	Startup     string            `yaml:"startup,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
}

// Check is a pebble health check definition.
type Check struct {
	Override Override   `yaml:"override,omitempty"`
	Level    string     `yaml:"level,omitempty"`
	Period   string     `yaml:"period,omitempty"`
	HTTP     *HTTPCheck `yaml:"http,omitempty"`
}

// HTTPCheck is the http part of a check.
type HTTPCheck struct {
	URL string `yaml:"url"`
}

// Marshal renders the layer as pebble layer YAML.
func (l *Layer) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(l)
	return data, errors.Trace(err)
}

// ParseLayer parses pebble layer or plan YAML.
func ParseLayer(data []byte) (*Layer, error) {
	var l Layer
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, errors.Annotate(err, "parsing pebble layer")
	}
	return &l, nil
}

// IsEmpty returns true if the layer defines nothing.
func (l *Layer) IsEmpty() bool {
	return l == nil || (len(l.Services) == 0 && len(l.Checks) == 0)
}

// Combine folds other into l following pebble's rules: a "replace"
// section overwrites what was there, a "merge" section only overwrites
// the fields it sets and merges environment entries.
func (l *Layer) Combine(other *Layer) error {
	if other == nil {
		return nil
	}
	if other.Summary != "" {
		l.Summary = other.Summary
	}
	if other.Description != "" {
		l.Description = other.Description
	}
	for name, svc := range other.Services {
		if l.Services == nil {
			l.Services = make(map[string]*Service)
		}
		existing, ok := l.Services[name]
		switch {
		case svc.Override == Replace || !ok:
			l.Services[name] = svc.clone()
		case svc.Override == Merge:
			existing.merge(svc)
		default:
			return errors.NotValidf("service %q override %q", name, svc.Override)
		}
	}
	for name, chk := range other.Checks {
		if l.Checks == nil {
			l.Checks = make(map[string]*Check)
		}
		existing, ok := l.Checks[name]
		switch {
		case chk.Override == Replace || !ok:
			l.Checks[name] = chk.clone()
		case chk.Override == Merge:
			existing.merge(chk)
		default:
			return errors.NotValidf("check %q override %q", name, chk.Override)
		}
	}
	return nil
}

func (s *Service) clone() *Service {
	c := *s
	if s.Environment != nil {
		c.Environment = make(map[string]string, len(s.Environment))
		for k, v := range s.Environment {
			c.Environment[k] = v
		}
	}
	return &c
}

func (s *Service) merge(other *Service) {
	s.Override = other.Override
	if other.Summary != "" {
		s.Summary = other.Summary
	}
	if other.Command != "" {
		s.Command = other.Command
	}
	if other.Startup != "" {
		s.Startup = other.Startup
	}
	if len(other.Environment) > 0 && s.Environment == nil {
		s.Environment = make(map[string]string, len(other.Environment))
	}
	for k, v := range other.Environment {
		s.Environment[k] = v
	}
}

func (c *Check) clone() *Check {
	cl := *c
	if c.HTTP != nil {
		http := *c.HTTP
		cl.HTTP = &http
	}
	return &cl
}

func (c *Check) merge(other *Check) {
	c.Override = other.Override
	if other.Level != "" {
		c.Level = other.Level
	}
	if other.Period != "" {
		c.Period = other.Period
	}
	if other.HTTP != nil {
		http := *other.HTTP
		c.HTTP = &http
	}
}

const (
	// ContainerName is the workload container declared in metadata.yaml.
	ContainerName = "livepatch"
	// ServiceName is the pebble service running the livepatch server.
	ServiceName = "livepatch"
	// LayerLabel labels the layer the charm owns.
	LayerLabel = "livepatch"
	// CheckName is the health check of the livepatch server.
	CheckName = "livepatch-check"

	ServerCommand = "/usr/local/bin/livepatch-server"
	checkPeriod   = "1m"
)

// ServerLayer returns the layer describing the livepatch server with the
// given environment. The health check probes the server's status
// endpoint on port.
func ServerLayer(env map[string]string, port int) *Layer {
	return &Layer{
		Summary:     "Livepatch Service",
		Description: "Pebble config layer for livepatch",
		Services: map[string]*Service{
			ServiceName: {
				Override:    Merge,
				Summary:     "Livepatch Service",
				Command:     ServerCommand,
				Startup:     "disabled",
				Environment: env,
			},
		},
		Checks: map[string]*Check{
			CheckName: {
				Override: Replace,
				Period:   checkPeriod,
				HTTP: &HTTPCheck{
					URL: fmt.Sprintf("http://localhost:%d/debug/status", port),
				},
			},
		},
	}
}
