// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/errors"
)

// ParseLegacyDSN turns the master connection string offered over the pgsql
// interface, either a libpq key/value string or a URI, into a postgresql
// URI without query parameters. Some of the livepatch tooling rejects
// parameters it does not know.
//
// Only the fields present in master are used. Libpq fills in the rest from
// the charm process (PGUSER, PGPORT, the OS user, pgpass), none of which
// describe the remote database.
func ParseLegacyDSN(master string) (string, error) {
	master = strings.TrimSpace(master)
	var (
		explicit map[string]bool
		err      error
	)
	if strings.Contains(master, "://") {
		master, _, _ = strings.Cut(master, "?")
		explicit, err = uriFields(master)
	} else {
		explicit, err = keywordFields(master)
	}
	if err != nil {
		return "", errors.NotValidf("connection string")
	}
	cfg, err := pgconn.ParseConfig(master)
	if err != nil {
		return "", errors.NotValidf("connection string")
	}
	if !explicit["host"] || !explicit["dbname"] {
		return "", errors.NotValidf("connection string without host or database")
	}
	if !explicit["user"] {
		return "", errors.NotValidf("connection string without user")
	}

	port := defaultPort
	if explicit["port"] {
		port = int(cfg.Port)
	}
	u := url.URL{
		Scheme: "postgresql",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
		User:   url.User(cfg.User),
	}
	if explicit["password"] && cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String(), nil
}

const defaultPort = 5432

// uriFields reports which connection fields a postgres URI sets.
func uriFields(uri string) (map[string]bool, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Trace(err)
	}
	fields := map[string]bool{
		"host":   u.Hostname() != "",
		"port":   u.Port() != "",
		"dbname": strings.TrimPrefix(u.Path, "/") != "",
	}
	if u.User != nil {
		fields["user"] = u.User.Username() != ""
		_, fields["password"] = u.User.Password()
	}
	return fields, nil
}

// keywordFields reports which keywords a libpq key/value string sets.
// Values may be single quoted with backslash escapes.
func keywordFields(dsn string) (map[string]bool, error) {
	fields := make(map[string]bool)
	rest := dsn
	for {
		rest = strings.TrimLeft(rest, " \t\n\r")
		if rest == "" {
			return fields, nil
		}
		key, after, ok := strings.Cut(rest, "=")
		if !ok {
			return nil, errors.Errorf("missing value")
		}
		key = strings.TrimSpace(key)
		rest = strings.TrimLeft(after, " \t\n\r")

		var value strings.Builder
		if strings.HasPrefix(rest, "'") {
			closed := false
			i := 1
			for ; i < len(rest); i++ {
				if rest[i] == '\\' && i+1 < len(rest) {
					i++
					value.WriteByte(rest[i])
					continue
				}
				if rest[i] == '\'' {
					closed = true
					break
				}
				value.WriteByte(rest[i])
			}
			if !closed {
				return nil, errors.Errorf("unterminated quoted value")
			}
			rest = rest[i+1:]
		} else {
			end := strings.IndexAny(rest, " \t\n\r")
			if end < 0 {
				end = len(rest)
			}
			value.WriteString(rest[:end])
			rest = rest[end:]
		}
		fields[key] = value.Len() > 0
	}
}

// ModernDSN builds the connection string from the data bag published over
// the postgresql_client interface. It returns false until username,
// password and endpoints are all present. Only the first endpoint is used.
func ModernDSN(data map[string]string) (string, bool) {
	user, password, endpoints := data["username"], data["password"], data["endpoints"]
	if user == "" || password == "" || endpoints == "" {
		return "", false
	}
	endpoint, _, _ := strings.Cut(endpoints, ",")
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false
	}
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   endpoint,
		Path:   "/" + DatabaseName,
	}
	return u.String(), true
}
