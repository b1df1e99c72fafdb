// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/canonical/livepatch-k8s-operator/core/leadership"
)

// EnvPrefix namespaces every variable handed to the livepatch server.
const EnvPrefix = "LP_"

const (
	DatabaseConnectionStringEnv    = "LP_DATABASE_CONNECTION_STRING"
	ServerIsLeaderEnv              = "LP_SERVER_IS_LEADER"
	ServerAddressEnv               = "LP_SERVER_ADDRESS"
	PatchSyncTokenEnv              = "LP_PATCH_SYNC_TOKEN"
	PatchStoragePostgresConnStrEnv = "LP_PATCH_STORAGE_POSTGRES_CONNECTION_STRING"
	DefaultServerAddress           = ":8080"
)

// Extras are the values computed by the charm, rather than supplied by the
// operator, that the workload needs.
type Extras struct {
	Role          leadership.Role
	DSN           string
	ResourceToken string
	ServerAddress string
}

// EnvKey maps an option name onto its environment variable,
// eg "patch-storage.type" becomes "LP_PATCH_STORAGE_TYPE".
func EnvKey(key string) string {
	key = strings.NewReplacer(".", "_", "-", "_").Replace(key)
	return EnvPrefix + strings.ToUpper(key)
}

// Environment returns the environment of the livepatch server process.
// Extras win over options that map onto the same variable. Variables with
// empty values are omitted; false and zero are rendered, so a layer merged
// over an older one always overrides the leadership flag.
func Environment(cfg ApplicationConfig, extras Extras) map[string]string {
	values := make(map[string]interface{})
	for _, key := range cfg.Keys() {
		v, _ := cfg.Get(key)
		values[EnvKey(key)] = v
	}

	// The database relation doubles as postgres patch storage unless the
	// operator points it somewhere else.
	if cfg.String(PatchStorageTypeKey) == postgresPatchStorageType &&
		cfg.String(PatchStoragePostgresConnStrKey) == "" {
		values[PatchStoragePostgresConnStrEnv] = extras.DSN
	}

	address := extras.ServerAddress
	if address == "" {
		address = DefaultServerAddress
	}
	values[DatabaseConnectionStringEnv] = extras.DSN
	values[ServerIsLeaderEnv] = extras.Role.IsLeader()
	values[ServerAddressEnv] = address
	values[PatchSyncTokenEnv] = extras.ResourceToken

	env := make(map[string]string, len(values))
	for k, v := range values {
		if isEmpty(v) {
			continue
		}
		env[k] = renderValue(v)
	}
	return env
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

func renderValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
