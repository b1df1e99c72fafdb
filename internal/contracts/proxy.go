// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package contracts

import (
	"net/http"
	"net/url"

	"github.com/juju/proxy"
	"golang.org/x/net/http/httpproxy"

	"github.com/canonical/livepatch-k8s-operator/internal/charm/config"
)

// ProxySettings returns the proxies to use for outbound requests. Charm
// config wins over the model proxies Juju hands to the charm.
func ProxySettings(cfg config.ApplicationConfig, getenv func(string) string) proxy.Settings {
	pick := func(key, env string) string {
		if v := cfg.String(key); v != "" {
			return v
		}
		return getenv(env)
	}
	return proxy.Settings{
		Http:    pick(config.HTTPProxyKey, "JUJU_CHARM_HTTP_PROXY"),
		Https:   pick(config.HTTPSProxyKey, "JUJU_CHARM_HTTPS_PROXY"),
		NoProxy: pick(config.NoProxyKey, "JUJU_CHARM_NO_PROXY"),
	}
}

// NewHTTPClient returns an http.Client using the given proxies.
func NewHTTPClient(settings proxy.Settings) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if settings.HasProxySet() {
		proxyFunc := (&httpproxy.Config{
			HTTPProxy:  settings.Http,
			HTTPSProxy: settings.Https,
			NoProxy:    settings.NoProxy,
		}).ProxyFunc()
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			return proxyFunc(req.URL)
		}
	} else {
		transport.Proxy = nil
	}
	return &http.Client{Transport: transport}
}
