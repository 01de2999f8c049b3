package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-firebird/internal/pipeline"
	"github.com/ajitpratap0/nebula-firebird/pkg/config"
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/registry"
	"github.com/ajitpratap0/nebula-firebird/pkg/logger"
	"github.com/ajitpratap0/nebula-firebird/pkg/metrics"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
	"github.com/ajitpratap0/nebula-firebird/pkg/observability"
)

var version = "0.1.0"

// Flags are bound through viper, so every flag can also come from the
// environment: --data from KBC_DATADIR, the rest from EX_FIREBIRD_<FLAG>.
const envPrefix = "EX_FIREBIRD"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	v := viper.New()
	exitCode := nebulaerrors.ExitSuccess

	root := &cobra.Command{
		Use:   "ex-firebird",
		Short: "Firebird extractor",
		Long: `ex-firebird exports tables from a Firebird database into CSV files.

It reads config.json (or config.yml) from the data directory, runs the
configured action (run, testConnection or getTables) and prints the result
as JSON on stdout.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exitCode = runAction(cmd.Context(), v, stdout, stderr)
			return nil
		},
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.Flags()
	flags.String("data", "", "Data directory with config.json, in/ and out/ (env KBC_DATADIR)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-encoding", "json", "Log encoding (json or console)")
	flags.String("metrics-file", "", "Write Prometheus metrics to this file when the run ends")
	flags.String("trace-file", "", "Write OpenTelemetry spans to this file")
	if err := bindFlags(v, flags); err != nil {
		fmt.Fprintln(stderr, err)
		return nebulaerrors.ExitApplication
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ex-firebird v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(cmd.OutOrStdout(), "Dialects: %s\n", strings.Join(registry.ListDialects(), ", "))
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, err)
		return nebulaerrors.ExitUserError
	}
	return exitCode
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	return v.BindEnv("data", "KBC_DATADIR")
}

// runAction loads the configuration, runs the action and prints the result.
// It returns the process exit code.
func runAction(ctx context.Context, v *viper.Viper, stdout, stderr io.Writer) int {
	dataDir := v.GetString("data")
	if dataDir == "" {
		fmt.Fprintln(stderr, "Data directory is not set, use --data or KBC_DATADIR.")
		return nebulaerrors.ExitUserError
	}

	cfg, err := config.LoadFromDataDir(dataDir)
	if err != nil {
		return report(stderr, err)
	}

	if err := logger.Init(logger.Config{
		Level:       v.GetString("log-level"),
		Encoding:    v.GetString("log-encoding"),
		OutputPaths: []string{"stderr"},
		Disabled:    cfg.ActionName() != config.ActionRun,
	}); err != nil {
		return report(stderr, nebulaerrors.Wrap(err, nebulaerrors.KindConfiguration, "Invalid logging options"))
	}
	defer func() { _ = logger.Sync() }()

	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.WithContext(ctx).With(zap.String("connector", pipeline.DefaultDialect))

	shutdownTracing, err := initTracing(v.GetString("trace-file"))
	if err != nil {
		return report(stderr, err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("flushing traces failed", zap.Error(err))
		}
	}()

	defer func() {
		path := v.GetString("metrics-file")
		if path == "" {
			return
		}
		if err := metrics.SampleProcess(); err != nil {
			log.Debug("sampling process metrics failed", zap.Error(err))
		}
		if err := metrics.WriteTextfile(path); err != nil {
			log.Warn("writing metrics failed", zap.Error(err))
		}
	}()

	state, err := config.LoadState(dataDir)
	if err != nil {
		return report(stderr, err)
	}

	app, err := pipeline.NewApplication(cfg, dataDir, state, pipeline.WithLogger(log))
	if err != nil {
		return report(stderr, err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("closing connection failed", zap.Error(err))
		}
	}()

	log.Info("starting extractor", zap.String("action", cfg.ActionName()), zap.String("version", version))
	result, err := app.Run(ctx)
	if err != nil {
		log.Error("extractor failed", zap.Error(err), zap.String("error_kind", string(nebulaerrors.KindOf(err))))
		return report(stderr, err)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return report(stderr, nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "failed to encode result"))
	}
	fmt.Fprintln(stdout, string(out))
	return nebulaerrors.ExitSuccess
}

func initTracing(path string) (observability.ShutdownFunc, error) {
	if path == "" {
		return observability.InitTracing(observability.TracingConfig{})
	}

	f, err := os.Create(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, nebulaerrors.Wrap(err, nebulaerrors.KindConfiguration, "Unable to create trace file").
			WithDetail("path", path)
	}

	shutdown, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "ex-firebird",
		ServiceVersion: version,
		Output:         f,
	})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return func(ctx context.Context) error {
		err := shutdown(ctx)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	}, nil
}

// report prints err on stderr and maps it to an exit code.
func report(stderr io.Writer, err error) int {
	code := nebulaerrors.ExitCode(err)
	if code == nebulaerrors.ExitUserError {
		fmt.Fprintln(stderr, err.Error())
	} else {
		fmt.Fprintf(stderr, "Application error: %s\n", err.Error())
	}
	return code
}
