// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/canonical/pebble/client"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("livepatch.workload")

// PebbleClient is the subset of the pebble client used by the supervisor.
type PebbleClient interface {
	SysInfo() (*client.SysInfo, error)
	AddLayer(opts *client.AddLayerOptions) error
	PlanBytes(opts *client.PlanOptions) ([]byte, error)
	Services(opts *client.ServicesOptions) ([]*client.ServiceInfo, error)
	Start(opts *client.ServiceOptions) (string, error)
	Stop(opts *client.ServiceOptions) (string, error)
	Restart(opts *client.ServiceOptions) (string, error)
	Replan(opts *client.ServiceOptions) (string, error)
	WaitChange(id string, opts *client.WaitChangeOptions) (*client.Change, error)
	Exec(opts *client.ExecOptions) (*client.ExecProcess, error)
	Push(opts *client.PushOptions) error
	ListFiles(opts *client.ListFilesOptions) ([]*client.FileInfo, error)
}

// SocketPath returns the pebble socket the charm container sees for the
// named workload container.
func SocketPath(container string) string {
	return path.Join("/charm/containers", container, "pebble.socket")
}

// PebbleConfig configures a pebble backed supervisor.
type PebbleConfig struct {
	Client PebbleClient

	// ChangeTimeout bounds how long service changes are waited on.
	ChangeTimeout time.Duration
}

// Validate returns an error if the config cannot be used.
func (c PebbleConfig) Validate() error {
	if c.Client == nil {
		return errors.NotValidf("nil Client")
	}
	return nil
}

type pebbleSupervisor struct {
	client        PebbleClient
	changeTimeout time.Duration
}

// NewPebbleSupervisor returns a Supervisor backed by pebble.
func NewPebbleSupervisor(config PebbleConfig) (Supervisor, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	timeout := config.ChangeTimeout
	if timeout == 0 {
		timeout = time.Minute
	}
	return &pebbleSupervisor{client: config.Client, changeTimeout: timeout}, nil
}

// DialPebble connects to the pebble socket of the named container.
func DialPebble(container string) (Supervisor, error) {
	c, err := client.New(&client.Config{Socket: SocketPath(container)})
	if err != nil {
		return nil, errors.Annotatef(err, "creating pebble client for %q", container)
	}
	return NewPebbleSupervisor(PebbleConfig{Client: c})
}

// CanConnect is part of the Supervisor interface.
func (s *pebbleSupervisor) CanConnect(ctx context.Context) bool {
	if _, err := s.client.SysInfo(); err != nil {
		logger.Debugf("pebble not reachable: %v", err)
		return false
	}
	return true
}

// AddLayer is part of the Supervisor interface.
func (s *pebbleSupervisor) AddLayer(ctx context.Context, label string, layer *Layer, combine bool) error {
	data, err := layer.Marshal()
	if err != nil {
		return errors.Trace(err)
	}
	err = s.client.AddLayer(&client.AddLayerOptions{
		Combine:   combine,
		Label:     label,
		LayerData: data,
	})
	return errors.Annotatef(err, "adding layer %q", label)
}

// Plan is part of the Supervisor interface.
func (s *pebbleSupervisor) Plan(ctx context.Context) (*Layer, error) {
	data, err := s.client.PlanBytes(&client.PlanOptions{})
	if err != nil {
		return nil, errors.Annotate(err, "fetching pebble plan")
	}
	return ParseLayer(data)
}

// IsRunning is part of the Supervisor interface.
func (s *pebbleSupervisor) IsRunning(ctx context.Context, service string) (bool, error) {
	infos, err := s.client.Services(&client.ServicesOptions{Names: []string{service}})
	if err != nil {
		return false, errors.Annotatef(err, "fetching status of service %q", service)
	}
	for _, info := range infos {
		if info.Name == service {
			return info.Current == client.StatusActive, nil
		}
	}
	return false, nil
}

// Start is part of the Supervisor interface.
func (s *pebbleSupervisor) Start(ctx context.Context, service string) error {
	return s.serviceChange("start", s.client.Start, service)
}

// Stop is part of the Supervisor interface.
func (s *pebbleSupervisor) Stop(ctx context.Context, service string) error {
	return s.serviceChange("stop", s.client.Stop, service)
}

// Restart is part of the Supervisor interface.
func (s *pebbleSupervisor) Restart(ctx context.Context, service string) error {
	return s.serviceChange("restart", s.client.Restart, service)
}

// Replan is part of the Supervisor interface.
func (s *pebbleSupervisor) Replan(ctx context.Context) error {
	return s.serviceChange("replan", s.client.Replan)
}

func (s *pebbleSupervisor) serviceChange(
	verb string,
	call func(*client.ServiceOptions) (string, error),
	services ...string,
) error {
	changeID, err := call(&client.ServiceOptions{Names: services})
	if err != nil {
		return errors.Annotatef(err, "cannot %s %v", verb, services)
	}
	change, err := s.client.WaitChange(changeID, &client.WaitChangeOptions{Timeout: s.changeTimeout})
	if err != nil {
		return errors.Annotatef(err, "waiting for %s change %s", verb, changeID)
	}
	if change.Err != "" {
		return errors.Errorf("%s change %s failed: %s", verb, changeID, change.Err)
	}
	return nil
}

// Exec is part of the Supervisor interface.
func (s *pebbleSupervisor) Exec(ctx context.Context, command []string, env map[string]string) (ExecResult, error) {
	var stdout, stderr bytes.Buffer
	process, err := s.client.Exec(&client.ExecOptions{
		Command:     command,
		Environment: env,
		Stdout:      &stdout,
		Stderr:      &stderr,
	})
	if err != nil {
		return ExecResult{}, errors.Annotatef(err, "cannot exec %q", command[0])
	}
	result := ExecResult{}
	err = process.Wait()
	var exitErr *client.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else if err != nil {
		return ExecResult{}, errors.Annotatef(err, "waiting for %q", command[0])
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	return result, nil
}

// Push is part of the Supervisor interface.
func (s *pebbleSupervisor) Push(ctx context.Context, filePath string, content []byte, makeDirs bool) error {
	err := s.client.Push(&client.PushOptions{
		Source:      bytes.NewReader(content),
		Path:        filePath,
		MakeDirs:    makeDirs,
		Permissions: os.FileMode(0644),
	})
	return errors.Annotatef(err, "pushing %q", filePath)
}

// Exists is part of the Supervisor interface.
func (s *pebbleSupervisor) Exists(ctx context.Context, filePath string) (bool, error) {
	_, err := s.client.ListFiles(&client.ListFilesOptions{Path: filePath, Itself: true})
	var apiErr *client.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return false, nil
	} else if err != nil {
		return false, errors.Annotatef(err, "checking %q", filePath)
	}
	return true, nil
}
