package base

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/logger"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

type trackerState int

const (
	trackerUninitialized trackerState = iota
	trackerValidated
	trackerFetched
)

func (s trackerState) String() string {
	switch s {
	case trackerUninitialized:
		return "uninitialized"
	case trackerValidated:
		return "validated"
	case trackerFetched:
		return "fetched"
	default:
		return "unknown"
	}
}

// IncrementalTracker validates the incremental column of one extraction and
// computes the watermark persisted for the next run. It moves through
// uninitialized, validated and fetched exactly once.
type IncrementalTracker struct {
	dialect core.Dialect
	querier core.Querier
	logger  *zap.Logger

	state      trackerState
	valueType  core.ValueType
	maxEmitted string
}

// NewIncrementalTracker creates a tracker using dialect for column lookups
// and querier for catalog and aggregate queries.
func NewIncrementalTracker(dialect core.Dialect, querier core.Querier) *IncrementalTracker {
	return &IncrementalTracker{
		dialect: dialect,
		querier: querier,
		logger:  logger.Get().With(zap.String("component", "incremental_tracker")),
	}
}

// Validate looks up column on table and derives the incremental spec. Only
// numeric, timestamp and date columns qualify.
func (t *IncrementalTracker) Validate(ctx context.Context, table core.TableRef, column string, limit int, lastValue string) (core.IncrementalSpec, error) {
	if t.state != trackerUninitialized {
		return core.IncrementalSpec{}, t.misuse("Validate")
	}
	if limit < 0 {
		return core.IncrementalSpec{}, nebulaerrors.Newf(nebulaerrors.KindConfiguration,
			"Incremental fetching limit must be a non-negative number, %d given", limit)
	}

	invalid := func(cause error) error {
		msg := fmt.Sprintf("Column [%s] specified for incremental fetching is not a numeric or timestamp type column", column)
		if cause != nil {
			return nebulaerrors.Wrap(cause, nebulaerrors.KindConfiguration, msg).WithDetail("table", table.TableName)
		}
		return nebulaerrors.New(nebulaerrors.KindConfiguration, msg).WithDetail("table", table.TableName)
	}

	columns, err := t.dialect.ListColumns(ctx, t.querier, table.TableName, column)
	if err != nil {
		return core.IncrementalSpec{}, invalid(err)
	}
	if len(columns) == 0 {
		return core.IncrementalSpec{}, invalid(nil)
	}

	var valueType core.ValueType
	switch baseType := columns[0].BaseType; {
	case baseType.IsNumeric():
		valueType = core.ValueNumeric
	case baseType == core.BaseTypeTimestamp && strings.Contains(strings.ToUpper(columns[0].NativeType), "TIME ZONE"):
		valueType = core.ValueTimestampTZ
	case baseType == core.BaseTypeTimestamp:
		valueType = core.ValueTimestamp
	case baseType == core.BaseTypeDate:
		valueType = core.ValueDate
	default:
		return core.IncrementalSpec{}, invalid(nil)
	}

	t.state = trackerValidated
	t.valueType = valueType
	t.logger.Info("incremental fetching enabled",
		zap.String("table", table.TableName),
		zap.String("column", columns[0].Name),
		zap.String("value_type", string(valueType)),
		zap.Int("limit", limit),
		zap.String("last_value", lastValue))

	return core.IncrementalSpec{
		Column:    columns[0].Name,
		ValueType: valueType,
		Limit:     limit,
		LastValue: lastValue,
	}, nil
}

// Observe records the incremental column value of one emitted row, already
// rendered by the dialect. NULL values render empty and are ignored.
func (t *IncrementalTracker) Observe(value string) {
	if value == "" {
		return
	}
	if t.maxEmitted == "" || compareValues(t.valueType, value, t.maxEmitted) > 0 {
		t.maxEmitted = value
	}
}

// Reset discards observed values. Called when an export attempt restarts.
func (t *IncrementalTracker) Reset() {
	t.maxEmitted = ""
}

// ComputeNextState derives the watermark after rowsFetched rows were exported
// with spec. Without rows the previous state is kept. With a limit the
// largest emitted value wins; otherwise a MAX() query over the same predicate
// decides.
func (t *IncrementalTracker) ComputeNextState(ctx context.Context, table core.TableRef, spec core.IncrementalSpec, rowsFetched int64) (core.IncrementalSpec, core.RunState, error) {
	if t.state != trackerValidated {
		return spec, core.RunState{}, t.misuse("ComputeNextState")
	}
	t.state = trackerFetched

	if rowsFetched == 0 {
		return spec, core.RunState{LastFetchedRow: spec.LastValue}, nil
	}

	next := t.maxEmitted
	if !spec.Limited() {
		maxValue, err := t.queryMax(ctx, table, spec)
		if err != nil {
			return spec, core.RunState{}, err
		}
		if maxValue != "" && t.maxEmitted != "" && compareValues(spec.ValueType, maxValue, t.maxEmitted) != 0 {
			t.logger.Warn("maximum of incremental column changed during export",
				zap.String("column", spec.Column),
				zap.String("emitted_max", t.maxEmitted),
				zap.String("queried_max", maxValue))
		}
		if maxValue != "" {
			next = maxValue
		}
	}

	if next == "" || (spec.LastValue != "" && compareValues(spec.ValueType, next, spec.LastValue) < 0) {
		next = spec.LastValue
	}

	spec.LastValue = next
	return spec, core.RunState{LastFetchedRow: next}, nil
}

func (t *IncrementalTracker) queryMax(ctx context.Context, table core.TableRef, spec core.IncrementalSpec) (string, error) {
	query, err := t.dialect.BuildMaxQuery(table, spec)
	if err != nil {
		return "", err
	}

	rows, err := t.querier.Query(ctx, query, "Error fetching maximum value of incremental fetching column")
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}

	value, ok := rows[0][spec.Column]
	if !ok {
		// single-column result, whatever the driver named it
		for _, v := range rows[0] {
			value = v
		}
	}
	return t.dialect.FormatValue(value, DatabaseTypeFor(spec.ValueType)), nil
}

func (t *IncrementalTracker) misuse(op string) error {
	return nebulaerrors.Newf(nebulaerrors.KindFatal,
		"incremental tracker: %s called in state %s", op, t.state)
}

// DatabaseTypeFor returns the type name FormatValue expects for watermarks
// of valueType.
func DatabaseTypeFor(valueType core.ValueType) string {
	switch valueType {
	case core.ValueTimestamp:
		return "TIMESTAMP"
	case core.ValueTimestampTZ:
		return "TIMESTAMP WITH TIME ZONE"
	case core.ValueDate:
		return "DATE"
	default:
		return ""
	}
}

// temporalLayouts parse rendered temporal watermarks. Fractional seconds
// are accepted by every layout.
var temporalLayouts = []string{
	"2006-01-02 15:04:05 -07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// compareValues orders two rendered watermarks. Numbers compare as decimals
// and temporal values as instants; anything unparseable compares lexically.
func compareValues(valueType core.ValueType, a, b string) int {
	switch valueType {
	case core.ValueNumeric:
		da, errA := decimal.NewFromString(a)
		db, errB := decimal.NewFromString(b)
		if errA == nil && errB == nil {
			return da.Cmp(db)
		}
	case core.ValueTimestamp, core.ValueTimestampTZ, core.ValueDate:
		ta, okA := parseTemporal(a)
		tb, okB := parseTemporal(b)
		if okA && okB {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			default:
				return 0
			}
		}
	}

	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func parseTemporal(value string) (time.Time, bool) {
	for _, layout := range temporalLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
