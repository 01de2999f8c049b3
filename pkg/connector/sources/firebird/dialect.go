// Package firebird implements the extraction dialect for Firebird databases
// over the pure-Go firebirdsql driver.
package firebird

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/nakagami/firebirdsql" // registers the "firebirdsql" driver
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/logger"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

const (
	// Name is the registry name of the dialect.
	Name = "firebird"

	driverName    = "firebirdsql"
	livenessQuery = "select 1 from rdb$database"
)

var _ core.Dialect = (*Dialect)(nil)

// Dialect is the Firebird implementation of core.Dialect.
type Dialect struct {
	driverName string
	logger     *zap.Logger
}

// NewDialect creates a Firebird dialect.
func NewDialect() *Dialect {
	return &Dialect{
		driverName: driverName,
		logger:     logger.Get().With(zap.String("component", "firebird_dialect"), zap.String("connector", Name)),
	}
}

// Name implements core.Dialect.
func (d *Dialect) Name() string { return Name }

// Capabilities implements core.Dialect.
func (d *Dialect) Capabilities() core.Capabilities {
	return core.Capabilities{SchemaListing: true, IncrementalFetching: true}
}

// LivenessQuery implements core.Dialect.
func (d *Dialect) LivenessQuery() string { return livenessQuery }

// Open validates params, connects and pings. The handle is limited to one
// connection; the extractor never runs statements concurrently.
func (d *Dialect) Open(ctx context.Context, params core.ConnectionParameters) (*sql.DB, error) {
	dsn, err := BuildDSN(params)
	if err != nil {
		return nil, err
	}

	target := ResolveTarget(params)
	d.logger.Info("connecting to database",
		zap.String("host", target.Host),
		zap.Int("port", target.Port),
		zap.String("database", target.Path),
		zap.String("user", params.User))

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "Error connecting to DB")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nebulaerrors.Wrap(err, nebulaerrors.KindTransient, "Error connecting to DB")
	}
	return db, nil
}

// TestConnection runs the liveness query through q.
func (d *Dialect) TestConnection(ctx context.Context, q core.Querier) error {
	_, err := q.Query(ctx, livenessQuery, "Error test connection")
	return err
}

// NormalizeIdentifier upper-cases unquoted names the way Firebird stores
// them in the catalog. Double-quoted names keep their case.
func (d *Dialect) NormalizeIdentifier(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 2 && strings.HasPrefix(name, `"`) && strings.HasSuffix(name, `"`) {
		return strings.ReplaceAll(name[1:len(name)-1], `""`, `"`)
	}
	return strings.ToUpper(name)
}
