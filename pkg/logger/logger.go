// Package logger provides structured logging for the extractor
package logger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	mu           sync.RWMutex
)

// contextKey is the type for context keys
type contextKey string

const (
	// JobIDKey is the context key for the run ID
	JobIDKey contextKey = "job_id"
	// ConnectorKey is the context key for the dialect name
	ConnectorKey contextKey = "connector"
	// TableKey is the context key for the table being exported
	TableKey contextKey = "table"
)

// Config represents logger configuration
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console
	OutputPaths []string
	// Disabled installs a no-op logger. Sync actions use it so stdout only
	// carries the JSON result.
	Disabled bool
}

// Init builds the global logger from cfg, replacing any previous one.
func Init(cfg Config) error {
	if cfg.Disabled {
		Replace(zap.NewNop())
		return nil
	}

	l, err := newLogger(cfg)
	if err != nil {
		return err
	}
	Replace(l)
	return nil
}

// Replace swaps the global logger. Tests use it to install zaptest loggers.
func Replace(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = l
}

func newLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	l, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if cfg.Development {
		l = l.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return l, nil
}

// Get returns the global logger, building an info-level JSON logger on first use.
func Get() *zap.Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	built, err := newLogger(Config{Level: "info", Encoding: "json"})
	if err != nil {
		built, _ = zap.NewProduction()
	}
	Replace(built)
	return built
}

// NewRunID returns a fresh identifier for one extractor run.
func NewRunID() string {
	return uuid.NewString()
}

// WithRunID stores the run ID in ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, JobIDKey, runID)
}

// WithContext returns a logger carrying the context values set by the pipeline.
func WithContext(ctx context.Context) *zap.Logger {
	l := Get()

	if jobID, ok := ctx.Value(JobIDKey).(string); ok {
		l = l.With(zap.String("job_id", jobID))
	}

	if connector, ok := ctx.Value(ConnectorKey).(string); ok {
		l = l.With(zap.String("connector", connector))
	}

	if table, ok := ctx.Value(TableKey).(string); ok {
		l = l.With(zap.String("table", table))
	}

	return l
}

// With creates a child logger with additional fields
func With(fields ...zap.Field) *zap.Logger {
	return Get().With(fields...)
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}
