package base

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
)

const probeQuery = "select 1 from rdb$database"

// stubDialect implements core.Dialect with canned catalog answers.
type stubDialect struct {
	columns []core.ColumnDescriptor
	listErr error
	lookups []string
}

func (d *stubDialect) Name() string { return "stub" }

func (d *stubDialect) Capabilities() core.Capabilities {
	return core.Capabilities{SchemaListing: true, IncrementalFetching: true}
}

func (d *stubDialect) Open(context.Context, core.ConnectionParameters) (*sql.DB, error) {
	return nil, errors.New("stub dialect cannot open connections")
}

func (d *stubDialect) LivenessQuery() string { return probeQuery }

func (d *stubDialect) TestConnection(context.Context, core.Querier) error { return nil }

func (d *stubDialect) ListTables(context.Context, core.Querier) ([]core.TableDescriptor, error) {
	return nil, nil
}

func (d *stubDialect) ListColumns(_ context.Context, _ core.Querier, table, column string) ([]core.ColumnDescriptor, error) {
	d.lookups = append(d.lookups, table+"."+column)
	if d.listErr != nil {
		return nil, d.listErr
	}
	return d.columns, nil
}

func (d *stubDialect) BuildQuery(table core.TableRef, _ []string, _ *core.IncrementalSpec) (string, error) {
	return "SELECT * FROM " + table.TableName, nil
}

func (d *stubDialect) BuildMaxQuery(table core.TableRef, spec core.IncrementalSpec) (string, error) {
	query := fmt.Sprintf("SELECT MAX(%s) AS %s FROM %s", spec.Column, spec.Column, table.TableName)
	if spec.LastValue != "" {
		query += fmt.Sprintf(" WHERE %s >= %s", spec.Column, spec.LastValue)
	}
	return query, nil
}

func (d *stubDialect) NormalizeIdentifier(name string) string { return strings.ToUpper(name) }

func (d *stubDialect) FormatValue(value interface{}, _ string) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

// fakeQuerier answers queries from a map and records what was asked.
type fakeQuerier struct {
	mu      sync.Mutex
	results map[string][]core.Row
	err     error
	queries []string
}

func (q *fakeQuerier) Query(_ context.Context, query, _ string, _ ...interface{}) ([]core.Row, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries = append(q.queries, query)
	if q.err != nil {
		return nil, q.err
	}
	return q.results[query], nil
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	return db, mock
}

// sequenceOpener hands out dbs in order, then fails with openErr (or a
// generic error when nil).
func sequenceOpener(openErr error, dbs ...*sql.DB) (Opener, *int) {
	calls := 0
	return func(context.Context, core.ConnectionParameters) (*sql.DB, error) {
		calls++
		if calls <= len(dbs) {
			return dbs[calls-1], nil
		}
		if openErr != nil {
			return nil, openErr
		}
		return nil, errors.New("no more connections")
	}, &calls
}
