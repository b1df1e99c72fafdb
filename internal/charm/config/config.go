// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config holds the charm's application configuration and maps it
// onto the environment of the livepatch server process.
package config

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/juju/environschema.v1"
)

const (
	URLTemplateKey                 = "server.url-template"
	IsHostedKey                    = "server.is-hosted"
	LogLevelKey                    = "server.log-level"
	ContractsURLKey                = "contracts.url"
	PatchStorageTypeKey            = "patch-storage.type"
	PatchStoragePostgresConnStrKey = "patch-storage.postgres-connection-string"
	PatchStorageFilesystemPathKey  = "patch-storage.filesystem-path"
	PatchCacheEnabledKey           = "patch-cache.enabled"
	AuthSSOEnabledKey              = "auth.sso.enabled"
	HTTPProxyKey                   = "http-proxy"
	HTTPSProxyKey                  = "https-proxy"
	NoProxyKey                     = "no-proxy"
	defaultContractsURL            = "https://contracts.canonical.com"
	postgresPatchStorageType       = "postgres"
	databasePoolMaxKey             = "database.pool-max"
	databaseLifetimeMaxKey         = "database.lifetime-max"
)

// configSchema describes the options the charm itself reasons about. Any
// other option published in config.yaml is passed through to the workload
// untouched.
var configSchema = environschema.Fields{
	URLTemplateKey: {
		Description: "URL template used by the server to build patch download links.",
		Type:        environschema.Tstring,
	},
	IsHostedKey: {
		Description: "Whether the server is hosted by Canonical; on-prem servers need a patch-sync token.",
		Type:        environschema.Tbool,
	},
	LogLevelKey: {
		Description: "Log level of the livepatch server.",
		Type:        environschema.Tstring,
	},
	ContractsURLKey: {
		Description: "Base URL of the contracts service used to obtain resource tokens.",
		Type:        environschema.Tstring,
	},
	PatchStorageTypeKey: {
		Description: "Patch storage backend (filesystem, postgres, swift, s3).",
		Type:        environschema.Tstring,
	},
	PatchStoragePostgresConnStrKey: {
		Description: "Connection string of the postgres patch storage.",
		Type:        environschema.Tstring,
		Secret:      true,
	},
	PatchStorageFilesystemPathKey: {
		Description: "Path of the filesystem patch storage.",
		Type:        environschema.Tstring,
	},
	PatchCacheEnabledKey: {
		Description: "Whether the in-memory patch cache is enabled.",
		Type:        environschema.Tbool,
	},
	AuthSSOEnabledKey: {
		Description: "Whether SSO authentication is enabled.",
		Type:        environschema.Tbool,
	},
	databasePoolMaxKey: {
		Description: "Maximum number of database connections.",
		Type:        environschema.Tint,
	},
	databaseLifetimeMaxKey: {
		Description: "Maximum lifetime of a database connection.",
		Type:        environschema.Tstring,
	},
	HTTPProxyKey: {
		Description: "Proxy used for outbound http requests.",
		Type:        environschema.Tstring,
	},
	HTTPSProxyKey: {
		Description: "Proxy used for outbound https requests.",
		Type:        environschema.Tstring,
	},
	NoProxyKey: {
		Description: "Hosts excluded from proxying.",
		Type:        environschema.Tstring,
	},
}

var configDefaults = schema.Defaults{
	URLTemplateKey:                 schema.Omit,
	IsHostedKey:                    schema.Omit,
	LogLevelKey:                    schema.Omit,
	ContractsURLKey:                schema.Omit,
	PatchStorageTypeKey:            schema.Omit,
	PatchStoragePostgresConnStrKey: schema.Omit,
	PatchStorageFilesystemPathKey:  schema.Omit,
	PatchCacheEnabledKey:           schema.Omit,
	AuthSSOEnabledKey:              schema.Omit,
	databasePoolMaxKey:             schema.Omit,
	databaseLifetimeMaxKey:         schema.Omit,
	HTTPProxyKey:                   schema.Omit,
	HTTPSProxyKey:                  schema.Omit,
	NoProxyKey:                     schema.Omit,
}

// ApplicationConfig is an immutable view of the application's charm
// configuration for a single hook.
type ApplicationConfig struct {
	attrs map[string]interface{}
}

// New validates attrs against the known options and returns the
// resulting configuration. Unknown options are kept as-is.
func New(attrs map[string]interface{}) (ApplicationConfig, error) {
	fields, _, err := configSchema.ValidationSchema()
	if err != nil {
		return ApplicationConfig{}, errors.Trace(err)
	}

	in := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		if v == nil {
			continue
		}
		if n, ok := v.(json.Number); ok {
			v = numberValue(n)
		}
		in[k] = v
	}

	coerced, err := schema.FieldMap(fields, configDefaults).Coerce(in, nil)
	if err != nil {
		return ApplicationConfig{}, errors.Annotate(err, "validating charm config")
	}

	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	for k, v := range coerced.(map[string]interface{}) {
		out[k] = v
	}
	return ApplicationConfig{attrs: out}, nil
}

// numberValue keeps integers as int64 and anything else as float64, which
// is what the config schema coercers expect.
func numberValue(n json.Number) interface{} {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// Keys returns the option names in sorted order.
func (c ApplicationConfig) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of the option, if set.
func (c ApplicationConfig) Get(key string) (interface{}, bool) {
	v, ok := c.attrs[key]
	return v, ok
}

// String returns the option as a string, or "" if it is not set.
func (c ApplicationConfig) String(key string) string {
	v, ok := c.attrs[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return renderValue(v)
}

// Bool returns the option as a bool, or defaultValue if it is not set.
func (c ApplicationConfig) Bool(key string, defaultValue bool) bool {
	v, ok := c.attrs[key]
	if !ok {
		return defaultValue
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// URLTemplate returns the server URL template.
func (c ApplicationConfig) URLTemplate() string {
	return c.String(URLTemplateKey)
}

// IsHosted reports whether the server runs in hosted mode. Servers
// default to hosted when the option is absent.
func (c ApplicationConfig) IsHosted() bool {
	return c.Bool(IsHostedKey, true)
}

// ContractsURL returns the contracts service base URL.
func (c ApplicationConfig) ContractsURL() string {
	if url := c.String(ContractsURLKey); url != "" {
		return url
	}
	return defaultContractsURL
}
