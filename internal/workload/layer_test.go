// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload_test

import (
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/livepatch-k8s-operator/internal/workload"
)

type layerSuite struct{}

var _ = gc.Suite(&layerSuite{})

func (s *layerSuite) TestServerLayer(c *gc.C) {
	layer := workload.ServerLayer(map[string]string{"LP_SERVER_URL_TEMPLATE": "http://x/{filename}"}, 8080)

	svc := layer.Services["livepatch"]
	c.Assert(svc, gc.NotNil)
	c.Check(svc.Override, gc.Equals, workload.Merge)
	c.Check(svc.Command, gc.Equals, "/usr/local/bin/livepatch-server")
	c.Check(svc.Startup, gc.Equals, "disabled")
	c.Check(svc.Environment, jc.DeepEquals, map[string]string{"LP_SERVER_URL_TEMPLATE": "http://x/{filename}"})

	chk := layer.Checks["livepatch-check"]
	c.Assert(chk, gc.NotNil)
	c.Check(chk.Override, gc.Equals, workload.Replace)
	c.Check(chk.Period, gc.Equals, "1m")
	c.Check(chk.HTTP.URL, gc.Equals, "http://localhost:8080/debug/status")
}

func (s *layerSuite) TestMarshalParse(c *gc.C) {
	layer := workload.ServerLayer(map[string]string{"LP_A": "1"}, 8080)
	data, err := layer.Marshal()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), jc.Contains, "startup: disabled")

	parsed, err := workload.ParseLayer(data)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(parsed, jc.DeepEquals, layer)
}

func (s *layerSuite) TestParseInvalid(c *gc.C) {
	_, err := workload.ParseLayer([]byte("services: [\n"))
	c.Assert(err, gc.ErrorMatches, "parsing pebble layer: .*")
}

func (s *layerSuite) TestIsEmpty(c *gc.C) {
	var nilLayer *workload.Layer
	c.Check(nilLayer.IsEmpty(), jc.IsTrue)
	c.Check((&workload.Layer{Summary: "x"}).IsEmpty(), jc.IsTrue)
	c.Check(workload.ServerLayer(nil, 8080).IsEmpty(), jc.IsFalse)
}

func (s *layerSuite) TestCombineMergesEnvironment(c *gc.C) {
	plan := &workload.Layer{}
	c.Assert(plan.Combine(workload.ServerLayer(map[string]string{"LP_A": "1", "LP_B": "2"}, 8080)), jc.ErrorIsNil)
	c.Assert(plan.Combine(workload.ServerLayer(map[string]string{"LP_B": "3"}, 8080)), jc.ErrorIsNil)

	c.Check(plan.Services["livepatch"].Environment, jc.DeepEquals, map[string]string{
		"LP_A": "1",
		"LP_B": "3",
	})
}

func (s *layerSuite) TestCombineIdempotent(c *gc.C) {
	layer := workload.ServerLayer(map[string]string{"LP_A": "1"}, 8080)

	once := &workload.Layer{}
	c.Assert(once.Combine(layer), jc.ErrorIsNil)
	twice := &workload.Layer{}
	c.Assert(twice.Combine(layer), jc.ErrorIsNil)
	c.Assert(twice.Combine(layer), jc.ErrorIsNil)

	c.Check(twice, jc.DeepEquals, once)
}

func (s *layerSuite) TestCombineDoesNotAlias(c *gc.C) {
	env := map[string]string{"LP_A": "1"}
	plan := &workload.Layer{}
	c.Assert(plan.Combine(workload.ServerLayer(env, 8080)), jc.ErrorIsNil)

	env["LP_A"] = "changed"
	c.Check(plan.Services["livepatch"].Environment["LP_A"], gc.Equals, "1")
}

func (s *layerSuite) TestCombineReplace(c *gc.C) {
	plan := &workload.Layer{
		Checks: map[string]*workload.Check{
			"livepatch-check": {Level: "alive", Period: "10s"},
		},
	}
	c.Assert(plan.Combine(workload.ServerLayer(nil, 9000)), jc.ErrorIsNil)

	chk := plan.Checks["livepatch-check"]
	c.Check(chk.Level, gc.Equals, "")
	c.Check(chk.Period, gc.Equals, "1m")
	c.Check(chk.HTTP.URL, gc.Equals, "http://localhost:9000/debug/status")
}

func (s *layerSuite) TestCombineInvalidOverride(c *gc.C) {
	plan := &workload.Layer{
		Services: map[string]*workload.Service{"livepatch": {Command: "x"}},
	}
	err := plan.Combine(&workload.Layer{
		Services: map[string]*workload.Service{"livepatch": {Override: "bogus"}},
	})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}
