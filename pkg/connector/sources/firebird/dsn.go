package firebird

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

const defaultHost = "localhost"

// dbNamePattern splits "host[/port]:path". The host ends at the first colon,
// so Windows paths after it stay whole.
var dbNamePattern = regexp.MustCompile(`^([^/:\\]+)(?:/([0-9]+))?:(.*)$`)

// drivePathPattern matches a local Windows path such as C:\data\db.fdb.
var drivePathPattern = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// Target is a parsed Firebird connection string.
type Target struct {
	Host string
	Port int
	Path string
}

// ParseDatabaseName splits a dbname parameter. A bare path or alias has no
// host and connects to localhost.
func ParseDatabaseName(dbName string) Target {
	if drivePathPattern.MatchString(dbName) {
		return Target{Path: dbName}
	}

	m := dbNamePattern.FindStringSubmatch(dbName)
	if m == nil {
		return Target{Path: dbName}
	}

	target := Target{Host: m[1], Path: m[3]}
	if m[2] != "" {
		target.Port, _ = strconv.Atoi(m[2])
	}
	return target
}

// String renders the target in Firebird's "host/port:path" form.
func (t Target) String() string {
	if t.Host == "" {
		return t.Path
	}
	if t.Port > 0 {
		return t.Host + "/" + strconv.Itoa(t.Port) + ":" + t.Path
	}
	return t.Host + ":" + t.Path
}

// ResolveTarget returns the target to connect to. When a tunnel is active,
// params carry its local endpoint, which replaces the dbname host and port.
func ResolveTarget(params core.ConnectionParameters) Target {
	target := ParseDatabaseName(params.DatabaseName)
	if params.Host != "" {
		target.Host = params.Host
		target.Port = params.Port
	}
	return target
}

// validateParameters checks the parameters a connection cannot do without.
func validateParameters(params core.ConnectionParameters) error {
	required := []struct {
		name  string
		value string
	}{
		{"dbname", params.DatabaseName},
		{"user", params.User},
		{"#password", params.Password},
	}

	for _, p := range required {
		if strings.TrimSpace(p.value) == "" {
			return nebulaerrors.Newf(nebulaerrors.KindConfiguration, "Parameter %s is missing.", p.name).
				WithDetail("parameter", p.name)
		}
	}
	return nil
}

// BuildDSN renders params as a firebirdsql driver DSN:
// user:password@host[:port]/path.
func BuildDSN(params core.ConnectionParameters) (string, error) {
	if err := validateParameters(params); err != nil {
		return "", err
	}

	target := ResolveTarget(params)
	host := target.Host
	if host == "" {
		host = defaultHost
	}
	if target.Port > 0 {
		host += ":" + strconv.Itoa(target.Port)
	}

	return url.UserPassword(params.User, params.Password).String() + "@" + host + "/" + target.Path, nil
}
