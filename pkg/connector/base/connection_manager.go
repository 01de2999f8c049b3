package base

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/logger"
	"github.com/ajitpratap0/nebula-firebird/pkg/metrics"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

// Opener opens a database handle for params.
type Opener func(ctx context.Context, params core.ConnectionParameters) (*sql.DB, error)

// ConnectionProvider hands out the current handle and restores it after a
// connection loss. The retry executor depends only on this interface.
type ConnectionProvider interface {
	Connection(ctx context.Context) (*sql.DB, error)
	IsAlive(ctx context.Context) error
	Reconnect(ctx context.Context) error
}

// ConnectionManager exclusively owns the single database handle of a run.
// The handle is opened lazily and replaced wholesale on reconnect.
type ConnectionManager struct {
	params          core.ConnectionParameters
	open            Opener
	probeQuery      string
	probeTimeout    time.Duration
	reconnectPolicy *RetryPolicy
	logger          *zap.Logger

	mu sync.Mutex
	db *sql.DB
}

// ConnectionOption configures a ConnectionManager.
type ConnectionOption func(*ConnectionManager)

// WithOpener replaces the dialect's Open, typically with a sqlmock factory.
func WithOpener(open Opener) ConnectionOption {
	return func(m *ConnectionManager) { m.open = open }
}

// WithReconnectPolicy overrides ReconnectPolicy().
func WithReconnectPolicy(policy *RetryPolicy) ConnectionOption {
	return func(m *ConnectionManager) { m.reconnectPolicy = policy }
}

// WithConnectionLogger sets the logger.
func WithConnectionLogger(l *zap.Logger) ConnectionOption {
	return func(m *ConnectionManager) { m.logger = l }
}

// NewConnectionManager creates a manager that opens connections through dialect.
func NewConnectionManager(dialect core.Dialect, params core.ConnectionParameters, opts ...ConnectionOption) *ConnectionManager {
	m := &ConnectionManager{
		params:          params,
		open:            dialect.Open,
		probeQuery:      dialect.LivenessQuery(),
		probeTimeout:    30 * time.Second,
		reconnectPolicy: ReconnectPolicy(),
		logger:          logger.Get().With(zap.String("component", "connection_manager"), zap.String("connector", dialect.Name())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connection returns the current handle, opening it on first use.
func (m *ConnectionManager) Connection(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return m.db, nil
	}

	db, err := m.open(ctx, m.params)
	if err != nil {
		return nil, err
	}
	m.db = db
	m.logger.Debug("connection opened")
	return db, nil
}

// IsAlive runs the liveness probe against the current handle. A failed
// probe, or no handle at all, yields a KindDeadConnection error.
func (m *ConnectionManager) IsAlive(ctx context.Context) error {
	m.mu.Lock()
	db := m.db
	m.mu.Unlock()

	if db == nil {
		metrics.LivenessFailures.Inc()
		return nebulaerrors.New(nebulaerrors.KindDeadConnection, "Dead connection: no open connection")
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	rows, err := db.QueryContext(probeCtx, m.probeQuery)
	if err == nil {
		for rows.Next() {
		}
		err = rows.Err()
		if closeErr := rows.Close(); err == nil {
			err = closeErr
		}
	}
	if err != nil {
		metrics.LivenessFailures.Inc()
		m.logger.Warn("liveness probe failed", zap.Error(err))
		return nebulaerrors.Wrap(err, nebulaerrors.KindDeadConnection, "Dead connection")
	}
	return nil
}

// Reconnect discards the current handle and opens a new one under the
// reconnect policy.
func (m *ConnectionManager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		if err := m.db.Close(); err != nil {
			m.logger.Debug("closing dead connection failed", zap.Error(err))
		}
		m.db = nil
	}

	attempt := 0
	err := m.reconnectPolicy.ExecuteWithCondition(ctx, func() error {
		attempt++
		m.logger.Info("reconnecting to the database", zap.Int("attempt", attempt))

		db, err := m.open(ctx, m.params)
		if err != nil {
			m.logger.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		m.db = db
		return nil
	}, nebulaerrors.IsRetryable)

	if err != nil {
		metrics.Reconnects.WithLabelValues("failure").Inc()
		if nebulaerrors.IsKind(err, nebulaerrors.KindConfiguration) {
			return err
		}
		return nebulaerrors.Wrap(err, nebulaerrors.KindTransient, "Unable to reconnect to the database").
			WithDetail("attempts", attempt)
	}

	metrics.Reconnects.WithLabelValues("success").Inc()
	m.logger.Info("reconnected to the database", zap.Int("attempts", attempt))
	return nil
}

// Close closes the current handle, if any.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}
