// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package contracts_test

import (
	"net/http"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/livepatch-k8s-operator/internal/charm/config"
	"github.com/canonical/livepatch-k8s-operator/internal/contracts"
)

type proxySuite struct{}

var _ = gc.Suite(&proxySuite{})

func (s *proxySuite) TestProxySettingsConfigWins(c *gc.C) {
	cfg, err := config.New(map[string]interface{}{
		"http-proxy": "http://squid.internal:3128",
	})
	c.Assert(err, jc.ErrorIsNil)
	env := map[string]string{
		"JUJU_CHARM_HTTP_PROXY":  "http://model-proxy:3128",
		"JUJU_CHARM_HTTPS_PROXY": "http://model-proxy:3129",
		"JUJU_CHARM_NO_PROXY":    "10.0.0.0/8",
	}
	settings := contracts.ProxySettings(cfg, func(key string) string { return env[key] })
	c.Check(settings.Http, gc.Equals, "http://squid.internal:3128")
	c.Check(settings.Https, gc.Equals, "http://model-proxy:3129")
	c.Check(settings.NoProxy, gc.Equals, "10.0.0.0/8")
}

func (s *proxySuite) TestNewHTTPClientUsesProxy(c *gc.C) {
	cfg, err := config.New(map[string]interface{}{
		"https-proxy": "http://squid.internal:3128",
		"no-proxy":    "internal.example.com",
	})
	c.Assert(err, jc.ErrorIsNil)
	client := contracts.NewHTTPClient(contracts.ProxySettings(cfg, func(string) string { return "" }))
	transport := client.Transport.(*http.Transport)

	req, err := http.NewRequest("GET", "https://contracts.canonical.com/v1", nil)
	c.Assert(err, jc.ErrorIsNil)
	proxyURL, err := transport.Proxy(req)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(proxyURL, gc.NotNil)
	c.Check(proxyURL.Host, gc.Equals, "squid.internal:3128")

	req, err = http.NewRequest("GET", "https://internal.example.com/v1", nil)
	c.Assert(err, jc.ErrorIsNil)
	proxyURL, err = transport.Proxy(req)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(proxyURL, gc.IsNil)
}

func (s *proxySuite) TestNewHTTPClientWithoutProxy(c *gc.C) {
	client := contracts.NewHTTPClient(contracts.ProxySettings(config.ApplicationConfig{}, func(string) string { return "" }))
	c.Check(client.Transport.(*http.Transport).Proxy, gc.IsNil)
}
