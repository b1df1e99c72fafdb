// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookcontext_test

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/livepatch-k8s-operator/core/status"
	"github.com/canonical/livepatch-k8s-operator/internal/hookcontext"
)

type contextSuite struct {
	runner *fakeRunner
	hctx   *hookcontext.Context
}

var _ = gc.Suite(&contextSuite{})

func (s *contextSuite) SetUpTest(c *gc.C) {
	s.runner = &fakeRunner{outputs: make(map[string]string)}
	var err error
	s.hctx, err = hookcontext.New(s.runner, "livepatch/0")
	c.Assert(err, jc.ErrorIsNil)
}

func (s *contextSuite) TestNewInvalidUnit(c *gc.C) {
	_, err := hookcontext.New(s.runner, "livepatch")
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *contextSuite) TestNames(c *gc.C) {
	c.Check(s.hctx.UnitName(), gc.Equals, "livepatch/0")
	c.Check(s.hctx.ApplicationName(), gc.Equals, "livepatch")
}

func (s *contextSuite) TestIsLeader(c *gc.C) {
	s.runner.outputs["is-leader --format=json"] = "true"
	leader, err := s.hctx.IsLeader(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(leader, jc.IsTrue)
}

func (s *contextSuite) TestConfig(c *gc.C) {
	s.runner.outputs["config-get --format=json --all"] = `{"server.url-template": "http://x", "server.is-hosted": false, "database.pool-max": 50}`
	attrs, err := s.hctx.Config(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(attrs, jc.DeepEquals, map[string]interface{}{
		"server.url-template": "http://x",
		"server.is-hosted":    false,
		"database.pool-max":   json.Number("50"),
	})
}

func (s *contextSuite) TestSetStatus(c *gc.C) {
	err := s.hctx.SetStatus(context.Background(), status.StatusInfo{
		Status:  status.Blocked,
		Message: "waiting for pg relation",
	})
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckCall(c, 0, "RunTool", "status-set", []string{"blocked", "waiting for pg relation"})
}

func (s *contextSuite) TestSetStatusInvalid(c *gc.C) {
	err := s.hctx.SetStatus(context.Background(), status.StatusInfo{Status: "error"})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	s.runner.CheckNoCalls(c)
}

func (s *contextSuite) TestAppRelationData(c *gc.C) {
	s.runner.outputs["relation-ids --format=json livepatch"] = `["livepatch:1"]`
	s.runner.outputs["relation-get --format=json -r livepatch:1 --app - livepatch"] = `{"dsn": "postgresql://x"}`

	data, err := s.hctx.AppRelationData(context.Background(), "livepatch")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(data, jc.DeepEquals, map[string]string{"dsn": "postgresql://x"})
}

func (s *contextSuite) TestAppRelationDataMissingRelation(c *gc.C) {
	s.runner.outputs["relation-ids --format=json livepatch"] = `[]`
	_, err := s.hctx.AppRelationData(context.Background(), "livepatch")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *contextSuite) TestSetAppRelationData(c *gc.C) {
	s.runner.outputs["relation-ids --format=json livepatch"] = `["livepatch:1"]`
	err := s.hctx.SetAppRelationData(context.Background(), "livepatch", map[string]string{
		"resource-token": "token",
		"dsn":            "postgresql://x",
	})
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckCall(c, 1, "RunTool", "relation-set", []string{
		"-r", "livepatch:1", "--app", "dsn=postgresql://x", "resource-token=token",
	})
}

func (s *contextSuite) TestRemoteAppData(c *gc.C) {
	s.runner.outputs["relation-list --format=json -r database:3 --app"] = `"postgresql"`
	s.runner.outputs["relation-get --format=json -r database:3 --app - postgresql"] = `{"username": "u"}`

	data, err := s.hctx.RemoteAppData(context.Background(), "database:3")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(data, jc.DeepEquals, map[string]string{"username": "u"})
}

func (s *contextSuite) TestRelationUnitsSorted(c *gc.C) {
	s.runner.outputs["relation-list --format=json -r database-legacy:2"] = `["postgresql/1", "postgresql/0"]`
	units, err := s.hctx.RelationUnits(context.Background(), "database-legacy:2")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(units, jc.DeepEquals, []string{"postgresql/0", "postgresql/1"})
}

func (s *contextSuite) TestSetLocalUnitData(c *gc.C) {
	err := s.hctx.SetLocalUnitData(context.Background(), "database-legacy:2", map[string]string{"database": "livepatch-server"})
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckCall(c, 0, "RunTool", "relation-set", []string{"-r", "database-legacy:2", "database=livepatch-server"})
}

func (s *contextSuite) TestToolFailure(c *gc.C) {
	s.runner.SetErrors(&hookcontext.ToolError{Tool: "relation-set", Code: 1, Stderr: "permission denied"})
	err := s.hctx.SetLocalAppData(context.Background(), "database:3", map[string]string{"database": "livepatch-server"})
	c.Assert(err, gc.ErrorMatches, "updating relation database:3: relation-set failed: permission denied")
}

func (s *contextSuite) TestActions(c *gc.C) {
	s.runner.outputs["action-get --format=json"] = `{"contract-token": "abc"}`
	params, err := s.hctx.ActionParams(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(params, jc.DeepEquals, map[string]interface{}{"contract-token": "abc"})

	err = s.hctx.SetActionResult(context.Background(), map[string]string{"result": "resource token set"})
	c.Assert(err, jc.ErrorIsNil)
	err = s.hctx.FailAction(context.Background(), "boom")
	c.Assert(err, jc.ErrorIsNil)

	s.runner.CheckCall(c, 1, "RunTool", "action-set", []string{"result=resource token set"})
	s.runner.CheckCall(c, 2, "RunTool", "action-fail", []string{"boom"})
}

func (s *contextSuite) TestUnitState(c *gc.C) {
	s.runner.outputs["state-get --format=json"] = `{"deferred-events": "config-changed"}`
	state, err := s.hctx.UnitState(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(state, jc.DeepEquals, map[string]string{"deferred-events": "config-changed"})

	c.Assert(s.hctx.SetUnitState(context.Background(), "deferred-events", "start"), jc.ErrorIsNil)
	c.Assert(s.hctx.SetUnitState(context.Background(), "deferred-events", ""), jc.ErrorIsNil)
	s.runner.CheckCall(c, 1, "RunTool", "state-set", []string{"deferred-events=start"})
	s.runner.CheckCall(c, 2, "RunTool", "state-delete", []string{"deferred-events"})
}

func (s *contextSuite) TestLogWriter(c *gc.C) {
	w := hookcontext.NewLogWriter(s.runner)
	w.Write(loggo.Entry{Level: loggo.WARNING, Module: "livepatch.charm", Message: "hello"})
	s.runner.CheckCall(c, 0, "RunTool", "juju-log", []string{"--log-level", "WARNING", "livepatch.charm: hello"})
}

type fakeRunner struct {
	testing.Stub
	outputs map[string]string
}

func (r *fakeRunner) RunTool(ctx context.Context, tool string, args ...string) ([]byte, error) {
	r.MethodCall(r, "RunTool", tool, args)
	if err := r.NextErr(); err != nil {
		return nil, err
	}
	key := strings.Join(append([]string{tool}, args...), " ")
	return []byte(r.outputs[key]), nil
}
