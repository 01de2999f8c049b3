package pipeline

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/nebula-firebird/pkg/config"
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/base"
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/destinations/csv"
	"github.com/ajitpratap0/nebula-firebird/pkg/metrics"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
	"github.com/ajitpratap0/nebula-firebird/pkg/observability"
)

// exportTable exports one table and, for incremental jobs, returns the state
// for the next run.
func (a *Application) exportTable(ctx context.Context, job config.TableConfig) (exported ImportedTable, next *core.RunState, err error) {
	ctx, span := observability.StartSpan(ctx, "table.export",
		"table", job.DisplayName(),
		"output_table", job.OutputTable)
	defer func() { observability.EndSpan(span, err) }()

	log := a.logger.With(zap.String("table", job.DisplayName()), zap.String("output_table", job.OutputTable))
	exported.OutputTable = job.OutputTable

	req := job.Request()
	var tracker *base.IncrementalTracker
	if job.IncrementalFetchingColumn != "" {
		if !a.dialect.Capabilities().IncrementalFetching {
			return exported, nil, nebulaerrors.Newf(nebulaerrors.KindConfiguration,
				"Incremental fetching is not supported by the %s connector.", a.dialect.Name())
		}

		tracker = base.NewIncrementalTracker(a.dialect, a.executor)
		spec, err := tracker.Validate(ctx, *req.Table, job.IncrementalFetchingColumn,
			job.IncrementalFetchingLimit, a.state.LastFetchedRow)
		if err != nil {
			return exported, nil, err
		}
		req.Incremental = &spec
	}

	query := req.Query
	if query == "" {
		query, err = a.dialect.BuildQuery(*req.Table, req.Columns, req.Incremental)
		if err != nil {
			return exported, nil, err
		}
	}
	log.Info("exporting table", zap.String("query", query))

	dest := csv.NewDestination(a.outputDir(), job.OutputTable, csv.Options{Compress: a.cfg.Parameters.Compress})
	exec := a.executor.
		WithPolicy(a.retryPolicy.Clone().WithMaxAttempts(job.MaxAttempts(a.retryPolicy.MaxAttempts))).
		WithOperation("export")

	var incrementalColumn string
	if req.Incremental != nil {
		incrementalColumn = req.Incremental.Column
	}

	err = exec.Run(ctx, "Error executing ["+job.DisplayName()+"]", func(ctx context.Context, db *sql.DB) error {
		if err := dest.Reset(); err != nil {
			return err
		}
		if tracker != nil {
			tracker.Reset()
		}
		return a.stream(ctx, db, query, dest, tracker, incrementalColumn)
	})
	if err != nil {
		_ = dest.Remove()
		return exported, nil, err
	}

	exported.Rows = dest.Rows()
	metrics.RowsExtracted.WithLabelValues(job.OutputTable).Add(float64(exported.Rows))

	if exported.Rows == 0 {
		log.Warn("query returned no rows, output table skipped")
		if err := dest.Remove(); err != nil {
			return exported, nil, err
		}
	} else {
		if err := dest.Close(); err != nil {
			return exported, nil, err
		}
		if err := dest.WriteManifest(csv.Manifest{
			Destination: job.OutputTable,
			Incremental: job.Incremental,
			PrimaryKey:  job.PrimaryKey,
		}); err != nil {
			return exported, nil, err
		}
	}
	log.Info("table exported", zap.Int64("rows", exported.Rows))

	if tracker == nil {
		return exported, nil, nil
	}

	_, state, err := tracker.ComputeNextState(ctx, *req.Table, *req.Incremental, exported.Rows)
	if err != nil {
		return exported, nil, err
	}
	return exported, &state, nil
}

// stream runs query on db and writes every row to dest. One goroutine scans
// and formats rows, another writes them.
func (a *Application) stream(ctx context.Context, db *sql.DB, query string, dest *csv.Destination,
	tracker *base.IncrementalTracker, incrementalColumn string) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	databaseTypes := make([]string, len(columns))
	if columnTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range columnTypes {
			databaseTypes[i] = ct.DatabaseTypeName()
		}
	}

	// an exact match wins over a case-insensitive one
	watermarkIndex := -1
	for i, name := range columns {
		name = strings.TrimSpace(name)
		if incrementalColumn == "" {
			break
		}
		if name == incrementalColumn {
			watermarkIndex = i
			break
		}
		if watermarkIndex < 0 && strings.EqualFold(name, incrementalColumn) {
			watermarkIndex = i
		}
	}
	if tracker != nil && watermarkIndex < 0 {
		return nebulaerrors.Newf(nebulaerrors.KindConfiguration,
			"Incremental fetching column [%s] is not in the query result.", incrementalColumn)
	}

	if err := dest.WriteHeader(columns); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	records := make(chan []string, a.bufferSize)

	g.Go(func() error {
		defer close(records)

		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}

		for rows.Next() {
			if err := rows.Scan(pointers...); err != nil {
				return err
			}
			record := make([]string, len(columns))
			for i, v := range values {
				record[i] = a.dialect.FormatValue(v, databaseTypes[i])
			}

			select {
			case records <- record:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return rows.Err()
	})

	g.Go(func() error {
		for record := range records {
			if err := dest.WriteRow(record); err != nil {
				return err
			}
			if tracker != nil {
				tracker.Observe(record[watermarkIndex])
			}
		}
		return nil
	})

	return g.Wait()
}
