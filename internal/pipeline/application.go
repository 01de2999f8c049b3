// Package pipeline runs one extractor action: it wires the configuration to
// the dialect, the connection manager and the retry executor, exports tables
// into CSV files and reports the result.
//
// # Basic Usage
//
//	app, err := pipeline.NewApplication(cfg, dataDir, state)
//	if err != nil {
//	    return err
//	}
//	defer app.Close()
//
//	result, err := app.Run(ctx)
package pipeline

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-firebird/pkg/config"
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/base"
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/registry"
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/sources/firebird"
	"github.com/ajitpratap0/nebula-firebird/pkg/logger"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
	"github.com/ajitpratap0/nebula-firebird/pkg/observability"
	"github.com/ajitpratap0/nebula-firebird/pkg/tunnel"
)

// DefaultDialect is the dialect used when none is set with WithDialect.
const DefaultDialect = firebird.Name

// TunnelOpener opens the SSH tunnel of a run.
type TunnelOpener func(ctx context.Context, cfg core.SSHParameters) (Closer, error)

// Closer is anything the application must release when the run ends.
type Closer interface {
	Close() error
}

// Application executes one configured action.
type Application struct {
	cfg     *config.Config
	dataDir string
	state   core.RunState

	dialectName     string
	dialect         core.Dialect
	opener          base.Opener
	openTunnel      TunnelOpener
	retryPolicy     *base.RetryPolicy
	reconnectPolicy *base.RetryPolicy
	bufferSize      int

	conn     *base.ConnectionManager
	executor *base.Executor
	tunnel   Closer

	logger *zap.Logger
}

// Option configures an Application.
type Option func(*Application)

// WithDialect selects a registered dialect by name.
func WithDialect(name string) Option {
	return func(a *Application) { a.dialectName = name }
}

// WithOpener replaces the dialect's Open.
func WithOpener(open base.Opener) Option {
	return func(a *Application) { a.opener = open }
}

// WithTunnelOpener replaces tunnel.Open.
func WithTunnelOpener(open TunnelOpener) Option {
	return func(a *Application) { a.openTunnel = open }
}

// WithRetryPolicy sets the query retry policy. Per-table retries still
// override its attempt count.
func WithRetryPolicy(policy *base.RetryPolicy) Option {
	return func(a *Application) { a.retryPolicy = policy }
}

// WithReconnectPolicy sets the reconnect policy of the connection manager.
func WithReconnectPolicy(policy *base.RetryPolicy) Option {
	return func(a *Application) { a.reconnectPolicy = policy }
}

// WithBufferSize sets how many formatted rows may be in flight between the
// database reader and the CSV writer.
func WithBufferSize(n int) Option {
	return func(a *Application) { a.bufferSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Application) { a.logger = l }
}

// NewApplication validates cfg and prepares the action. state is the state
// left by the previous run; it only matters for incremental fetching.
func NewApplication(cfg *config.Config, dataDir string, state core.RunState, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Application{
		cfg:             cfg,
		dataDir:         dataDir,
		state:           state,
		dialectName:     DefaultDialect,
		openTunnel:      openSSHTunnel,
		retryPolicy:     base.DefaultRetryPolicy(),
		reconnectPolicy: base.ReconnectPolicy(),
		bufferSize:      1000,
		logger:          logger.Get(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "application"), zap.String("action", cfg.ActionName()))

	dialect, err := registry.CreateDialect(a.dialectName)
	if err != nil {
		return nil, err
	}
	a.dialect = dialect
	return a, nil
}

func openSSHTunnel(ctx context.Context, cfg core.SSHParameters) (Closer, error) {
	return tunnel.Open(ctx, cfg)
}

// Run executes the configured action.
func (a *Application) Run(ctx context.Context) (result *Result, err error) {
	ctx, span := observability.StartSpan(ctx, "action", "action", a.cfg.ActionName(), "connector", a.dialect.Name())
	defer func() { observability.EndSpan(span, err) }()

	if err := a.connect(ctx); err != nil {
		return nil, err
	}

	switch a.cfg.ActionName() {
	case config.ActionTestConnection:
		return a.testConnection(ctx)
	case config.ActionGetTables:
		return a.getTables(ctx)
	default:
		return a.run(ctx)
	}
}

// connect prepares the connection manager and executor. The database is
// opened lazily by the first query.
func (a *Application) connect(ctx context.Context) error {
	params := a.cfg.Parameters.DB.ConnectionParameters()

	if params.SSH != nil && params.SSH.Enabled {
		// the tunnel ends where dbname points unless configured otherwise
		target := firebird.ParseDatabaseName(params.DatabaseName)
		ssh := *params.SSH
		if ssh.RemoteHost == "" {
			ssh.RemoteHost = firstNonEmpty(a.cfg.Parameters.DB.Host, target.Host, "localhost")
		}
		if ssh.RemotePort == 0 {
			ssh.RemotePort = a.cfg.Parameters.DB.Port.OrDefault(target.Port)
		}
		if ssh.RemotePort == 0 {
			ssh.RemotePort = tunnel.DefaultRemotePort
		}

		t, err := a.openTunnel(ctx, ssh)
		if err != nil {
			return err
		}
		a.tunnel = t
		params.Host = "127.0.0.1"
		params.Port = ssh.LocalPort
	}

	connOpts := []base.ConnectionOption{
		base.WithReconnectPolicy(a.reconnectPolicy),
		base.WithConnectionLogger(a.logger),
	}
	if a.opener != nil {
		connOpts = append(connOpts, base.WithOpener(a.opener))
	}
	a.conn = base.NewConnectionManager(a.dialect, params, connOpts...)
	a.executor = base.NewExecutor(a.conn,
		base.WithRetryPolicy(a.retryPolicy),
		base.WithExecutorLogger(a.logger))
	return nil
}

func (a *Application) testConnection(ctx context.Context) (*Result, error) {
	if err := a.dialect.TestConnection(ctx, a.executor); err != nil {
		return nil, err
	}
	return &Result{Status: StatusSuccess}, nil
}

func (a *Application) getTables(ctx context.Context) (*Result, error) {
	if !a.dialect.Capabilities().SchemaListing {
		return nil, nebulaerrors.Newf(nebulaerrors.KindConfiguration,
			"Listing tables is not supported by the %s connector.", a.dialect.Name())
	}

	tables, err := a.dialect.ListTables(ctx, a.executor.WithOperation("catalog"))
	if err != nil {
		return nil, err
	}
	return &Result{Status: StatusSuccess, Tables: tableResults(tables)}, nil
}

func (a *Application) run(ctx context.Context) (*Result, error) {
	jobs := a.cfg.Jobs()
	imported := make([]ImportedTable, 0, len(jobs))

	var state *core.RunState
	for _, job := range jobs {
		exported, next, err := a.exportTable(ctx, job)
		if err != nil {
			return nil, err
		}
		imported = append(imported, exported)
		if next != nil {
			state = next
		}
	}

	result := &Result{Status: StatusSuccess}
	if a.cfg.IsRowConfig() && len(imported) == 1 {
		result.Imported = imported[0]
	} else {
		result.Imported = imported
	}

	if state != nil && !state.Empty() {
		if err := config.SaveState(a.dataDir, *state); err != nil {
			return nil, err
		}
		result.State = state
	}
	return result, nil
}

func (a *Application) outputDir() string {
	return filepath.Join(a.dataDir, "out", "tables")
}

// Close releases the connection and the tunnel.
func (a *Application) Close() error {
	var firstErr error
	if a.conn != nil {
		firstErr = a.conn.Close()
	}
	if a.tunnel != nil {
		if err := a.tunnel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
