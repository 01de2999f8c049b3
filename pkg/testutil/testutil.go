// Package testutil provides testing utilities for the extractor packages.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout, canceled
// when the test ends.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// NewSQLMock creates a sqlmock database. Queries match with regular
// expressions, as sqlmock does by default.
func NewSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

// MockOpener hands out dbs in order on every open, then fails.
func MockOpener(dbs ...*sql.DB) func(context.Context, core.ConnectionParameters) (*sql.DB, error) {
	calls := 0
	return func(context.Context, core.ConnectionParameters) (*sql.DB, error) {
		if calls >= len(dbs) {
			return nil, sql.ErrConnDone
		}
		calls++
		return dbs[calls-1], nil
	}
}

// WriteFile writes content to dir/name, creating parent directories.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
