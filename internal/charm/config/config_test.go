// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package config_test

import (
	"encoding/json"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/livepatch-k8s-operator/internal/charm/config"
)

type configSuite struct{}

var _ = gc.Suite(&configSuite{})

func (s *configSuite) TestNewCoercesKnownOptions(c *gc.C) {
	cfg, err := config.New(map[string]interface{}{
		"server.is-hosted":  "false",
		"database.pool-max": json.Number("20"),
		"some.other-option": "kept",
		"unset":             nil,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.IsHosted(), jc.IsFalse)
	c.Check(cfg.String("database.pool-max"), gc.Equals, "20")
	c.Check(cfg.String("some.other-option"), gc.Equals, "kept")
	c.Check(cfg.Keys(), jc.DeepEquals, []string{"database.pool-max", "server.is-hosted", "some.other-option"})
}

func (s *configSuite) TestNewRejectsBadType(c *gc.C) {
	_, err := config.New(map[string]interface{}{
		"server.is-hosted": "not-a-bool",
	})
	c.Assert(err, gc.ErrorMatches, `validating charm config: .*server.is-hosted.*`)
}

func (s *configSuite) TestDefaults(c *gc.C) {
	cfg, err := config.New(nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.IsHosted(), jc.IsTrue)
	c.Check(cfg.URLTemplate(), gc.Equals, "")
	c.Check(cfg.ContractsURL(), gc.Equals, "https://contracts.canonical.com")
}
