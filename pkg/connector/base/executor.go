package base

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/logger"
	"github.com/ajitpratap0/nebula-firebird/pkg/metrics"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
	"github.com/ajitpratap0/nebula-firebird/pkg/observability"
)

// Operation is one attempt of a database operation against db.
type Operation func(ctx context.Context, db *sql.DB) error

// Executor runs database operations with bounded retries. Before every retry
// it probes the connection once and reconnects if the probe fails.
type Executor struct {
	conn      ConnectionProvider
	policy    *RetryPolicy
	operation string
	logger    *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRetryPolicy overrides DefaultRetryPolicy().
func WithRetryPolicy(policy *RetryPolicy) ExecutorOption {
	return func(e *Executor) { e.policy = policy }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor over conn.
func NewExecutor(conn ConnectionProvider, opts ...ExecutorOption) *Executor {
	e := &Executor{
		conn:      conn,
		policy:    DefaultRetryPolicy(),
		operation: "catalog",
		logger:    logger.Get().With(zap.String("component", "retry_executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithPolicy returns a copy of e using policy.
func (e *Executor) WithPolicy(policy *RetryPolicy) *Executor {
	clone := *e
	clone.policy = policy
	return &clone
}

// WithOperation returns a copy of e reporting durations under label.
func (e *Executor) WithOperation(label string) *Executor {
	clone := *e
	clone.operation = label
	return &clone
}

// Run executes op until it succeeds or the retry budget is spent. The handle
// is fetched from the connection provider on every attempt, so a reconnect
// between attempts is picked up. Exhaustion yields a transient error reading
// "<errorMessage>: <last error>"; a failed reconnect aborts immediately.
func (e *Executor) Run(ctx context.Context, errorMessage string, op Operation) error {
	maxAttempts := e.policy.attempts()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := e.attempt(ctx, errorMessage, attempt, op)
		if err == nil {
			return nil
		}
		lastErr = err

		if !nebulaerrors.IsRetryable(err) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, errorMessage)
			}
			return err
		}

		if attempt == maxAttempts {
			break
		}

		e.logger.Warn("query failed, retrying",
			zap.String("context", errorMessage),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.String("error_type", categorizeError(err)),
			zap.Error(err))
		metrics.QueryRetries.Inc()

		if err := e.restoreConnection(ctx); err != nil {
			return err
		}

		if err := e.policy.Wait(ctx, attempt-1); err != nil {
			return nebulaerrors.Wrap(err, nebulaerrors.KindFatal, errorMessage)
		}
	}

	return nebulaerrors.Wrap(lastErr, nebulaerrors.KindTransient, errorMessage).
		WithDetail("attempts", maxAttempts)
}

func (e *Executor) attempt(ctx context.Context, errorMessage string, attempt int, op Operation) (err error) {
	ctx, span := observability.StartSpan(ctx, "query.attempt",
		"context", errorMessage,
		"attempt", strconv.Itoa(attempt),
		"operation", e.operation)
	defer func() { observability.EndSpan(span, err) }()

	db, err := e.conn.Connection(ctx)
	if err != nil {
		metrics.QueryAttempts.WithLabelValues("error").Inc()
		return err
	}

	timer := metrics.NewTimer()
	err = op(ctx, db)
	metrics.QueryDuration.WithLabelValues(e.operation).Observe(timer.Stop().Seconds())

	if err != nil {
		metrics.QueryAttempts.WithLabelValues("error").Inc()
		return err
	}
	metrics.QueryAttempts.WithLabelValues("success").Inc()
	return nil
}

func (e *Executor) restoreConnection(ctx context.Context) error {
	if err := e.conn.IsAlive(ctx); err == nil {
		return nil
	}
	return e.conn.Reconnect(ctx)
}

// Query runs query with retries and returns every row as a column-keyed map.
func (e *Executor) Query(ctx context.Context, query, errorMessage string, args ...interface{}) ([]core.Row, error) {
	var result []core.Row

	err := e.Run(ctx, errorMessage, func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		result, err = ScanRows(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ScanRows reads all of rows into column-keyed maps.
func ScanRows(rows *sql.Rows) ([]core.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []core.Row
	values := make([]interface{}, len(columns))
	pointers := make([]interface{}, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(core.Row, len(columns))
		for i, name := range columns {
			row[name] = values[i]
		}
		result = append(result, row)
	}

	return result, rows.Err()
}
