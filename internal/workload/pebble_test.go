// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload_test

import (
	"context"
	"io"
	"net/http"

	"github.com/canonical/pebble/client"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/livepatch-k8s-operator/internal/workload"
)

type pebbleSuite struct {
	client     *fakePebbleClient
	supervisor workload.Supervisor
}

var _ = gc.Suite(&pebbleSuite{})

func (s *pebbleSuite) SetUpTest(c *gc.C) {
	s.client = &fakePebbleClient{}
	var err error
	s.supervisor, err = workload.NewPebbleSupervisor(workload.PebbleConfig{Client: s.client})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *pebbleSuite) TestValidate(c *gc.C) {
	_, err := workload.NewPebbleSupervisor(workload.PebbleConfig{})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *pebbleSuite) TestSocketPath(c *gc.C) {
	c.Check(workload.SocketPath("livepatch"), gc.Equals, "/charm/containers/livepatch/pebble.socket")
}

func (s *pebbleSuite) TestCanConnect(c *gc.C) {
	c.Check(s.supervisor.CanConnect(context.Background()), jc.IsTrue)

	s.client.SetErrors(errors.New("connection refused"))
	c.Check(s.supervisor.CanConnect(context.Background()), jc.IsFalse)
}

func (s *pebbleSuite) TestAddLayer(c *gc.C) {
	layer := workload.ServerLayer(map[string]string{"LP_A": "1"}, 8080)
	err := s.supervisor.AddLayer(context.Background(), "livepatch", layer, true)
	c.Assert(err, jc.ErrorIsNil)

	s.client.CheckCallNames(c, "AddLayer")
	opts := s.client.Calls()[0].Args[0].(*client.AddLayerOptions)
	c.Check(opts.Combine, jc.IsTrue)
	c.Check(opts.Label, gc.Equals, "livepatch")
	parsed, err := workload.ParseLayer(opts.LayerData)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(parsed, jc.DeepEquals, layer)
}

func (s *pebbleSuite) TestPlan(c *gc.C) {
	s.client.plan = []byte(`
services:
    livepatch:
        override: merge
        command: /usr/local/bin/livepatch-server
        environment:
            LP_A: "1"
`)
	plan, err := s.supervisor.Plan(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(plan.Services["livepatch"].Environment, jc.DeepEquals, map[string]string{"LP_A": "1"})
}

func (s *pebbleSuite) TestIsRunning(c *gc.C) {
	s.client.services = []*client.ServiceInfo{{Name: "livepatch", Current: client.StatusActive}}
	running, err := s.supervisor.IsRunning(context.Background(), "livepatch")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(running, jc.IsTrue)

	s.client.services = []*client.ServiceInfo{{Name: "livepatch", Current: client.StatusInactive}}
	running, err = s.supervisor.IsRunning(context.Background(), "livepatch")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(running, jc.IsFalse)
}

func (s *pebbleSuite) TestIsRunningMissingService(c *gc.C) {
	running, err := s.supervisor.IsRunning(context.Background(), "livepatch")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(running, jc.IsFalse)
}

func (s *pebbleSuite) TestStartWaitsForChange(c *gc.C) {
	err := s.supervisor.Start(context.Background(), "livepatch")
	c.Assert(err, jc.ErrorIsNil)
	s.client.CheckCallNames(c, "Start", "WaitChange")
	s.client.CheckCall(c, 0, "Start", &client.ServiceOptions{Names: []string{"livepatch"}})
}

func (s *pebbleSuite) TestStartChangeFailed(c *gc.C) {
	s.client.changeErr = "cannot start service: exited quickly"
	err := s.supervisor.Start(context.Background(), "livepatch")
	c.Assert(err, gc.ErrorMatches, `start change 42 failed: cannot start service: exited quickly`)
}

func (s *pebbleSuite) TestReplanError(c *gc.C) {
	s.client.SetErrors(errors.New("boom"))
	err := s.supervisor.Replan(context.Background())
	c.Assert(err, gc.ErrorMatches, `cannot replan \[\]: boom`)
}

func (s *pebbleSuite) TestPush(c *gc.C) {
	err := workload.PushLogrotateConfig(context.Background(), s.supervisor)
	c.Assert(err, jc.ErrorIsNil)
	s.client.CheckCallNames(c, "Push")
	opts := s.client.Calls()[0].Args[0].(*client.PushOptions)
	c.Check(opts.Path, gc.Equals, "/etc/logrotate.d/livepatch")
	c.Check(opts.MakeDirs, jc.IsTrue)
	c.Check(s.client.pushed, jc.Contains, "/var/log/livepatch {")
}

func (s *pebbleSuite) TestExists(c *gc.C) {
	exists, err := s.supervisor.Exists(context.Background(), "/usr/local/bin/livepatch-schema-tool")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(exists, jc.IsTrue)

	s.client.SetErrors(&client.Error{StatusCode: http.StatusNotFound, Message: "not found"})
	exists, err = s.supervisor.Exists(context.Background(), "/usr/local/bin/livepatch-schema-tool")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(exists, jc.IsFalse)

	s.client.SetErrors(&client.Error{StatusCode: http.StatusInternalServerError, Message: "boom"})
	_, err = s.supervisor.Exists(context.Background(), "/usr/local/bin/livepatch-schema-tool")
	c.Assert(err, gc.ErrorMatches, `checking "/usr/local/bin/livepatch-schema-tool": .*`)
}

type fakePebbleClient struct {
	testing.Stub

	plan      []byte
	services  []*client.ServiceInfo
	changeErr string
	pushed    string
}

func (f *fakePebbleClient) SysInfo() (*client.SysInfo, error) {
	f.MethodCall(f, "SysInfo")
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &client.SysInfo{Version: "1.17.0"}, nil
}

func (f *fakePebbleClient) AddLayer(opts *client.AddLayerOptions) error {
	f.MethodCall(f, "AddLayer", opts)
	return f.NextErr()
}

func (f *fakePebbleClient) PlanBytes(opts *client.PlanOptions) ([]byte, error) {
	f.MethodCall(f, "PlanBytes", opts)
	return f.plan, f.NextErr()
}

func (f *fakePebbleClient) Services(opts *client.ServicesOptions) ([]*client.ServiceInfo, error) {
	f.MethodCall(f, "Services", opts)
	return f.services, f.NextErr()
}

func (f *fakePebbleClient) Start(opts *client.ServiceOptions) (string, error) {
	f.MethodCall(f, "Start", opts)
	return "42", f.NextErr()
}

func (f *fakePebbleClient) Stop(opts *client.ServiceOptions) (string, error) {
	f.MethodCall(f, "Stop", opts)
	return "42", f.NextErr()
}

func (f *fakePebbleClient) Restart(opts *client.ServiceOptions) (string, error) {
	f.MethodCall(f, "Restart", opts)
	return "42", f.NextErr()
}

func (f *fakePebbleClient) Replan(opts *client.ServiceOptions) (string, error) {
	f.MethodCall(f, "Replan", opts)
	return "42", f.NextErr()
}

func (f *fakePebbleClient) WaitChange(id string, opts *client.WaitChangeOptions) (*client.Change, error) {
	f.MethodCall(f, "WaitChange", id, opts)
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &client.Change{ID: id, Ready: true, Err: f.changeErr}, nil
}

func (f *fakePebbleClient) Exec(opts *client.ExecOptions) (*client.ExecProcess, error) {
	f.MethodCall(f, "Exec", opts)
	return nil, errors.NotImplementedf("exec")
}

func (f *fakePebbleClient) Push(opts *client.PushOptions) error {
	f.MethodCall(f, "Push", opts)
	data, err := io.ReadAll(opts.Source)
	if err != nil {
		return err
	}
	f.pushed = string(data)
	return f.NextErr()
}

func (f *fakePebbleClient) ListFiles(opts *client.ListFilesOptions) ([]*client.FileInfo, error) {
	f.MethodCall(f, "ListFiles", opts)
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return []*client.FileInfo{}, nil
}
