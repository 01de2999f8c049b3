// Package metrics tracks extraction activity with Prometheus metrics.
//
// The metrics live in a dedicated registry rather than the default one: the
// extractor is a batch job, so the registry is dumped to a textfile at the
// end of a run for the node exporter to pick up.
//
// # Basic Usage
//
//	timer := metrics.NewTimer()
//	rows, err := db.QueryContext(ctx, query)
//	metrics.QueryDuration.WithLabelValues("export").Observe(timer.Stop().Seconds())
//
//	metrics.RowsExtracted.WithLabelValues("in.c-main.sales").Add(float64(n))
//
//	if path != "" {
//	    _ = metrics.WriteTextfile(path)
//	}
package metrics

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/process"
)

// Registry holds every extractor metric.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// RowsExtracted counts rows written to output tables.
	// Labels: output_table
	RowsExtracted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_firebird_rows_extracted_total",
			Help: "Total number of rows written to output tables",
		},
		[]string{"output_table"},
	)

	// QueryAttempts counts executor attempts by outcome (success/error).
	QueryAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_firebird_query_attempts_total",
			Help: "Total number of query attempts made by the retry executor",
		},
		[]string{"outcome"},
	)

	// QueryRetries counts attempts that were followed by another attempt.
	QueryRetries = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "nebula_firebird_query_retries_total",
			Help: "Total number of query retries",
		},
	)

	// Reconnects counts reconnect cycles by outcome (success/failure).
	Reconnects = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_firebird_reconnects_total",
			Help: "Total number of reconnect cycles",
		},
		[]string{"outcome"},
	)

	// LivenessFailures counts failed liveness probes.
	LivenessFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "nebula_firebird_liveness_failures_total",
			Help: "Total number of failed connection liveness probes",
		},
	)

	// QueryDuration tracks query latency in seconds.
	// Labels: operation (catalog/export/max)
	QueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nebula_firebird_query_duration_seconds",
			Help:    "Query duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"operation"},
	)

	// ProcessResidentMemory is the extractor's RSS at the last sample.
	ProcessResidentMemory = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "nebula_firebird_process_resident_memory_bytes",
			Help: "Resident set size of the extractor process",
		},
	)
)

// SampleProcess records the current process memory usage.
func SampleProcess() error {
	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return fmt.Errorf("failed to inspect process: %w", err)
	}

	mem, err := p.MemoryInfo()
	if err != nil {
		return fmt.Errorf("failed to read process memory: %w", err)
	}

	ProcessResidentMemory.Set(float64(mem.RSS))
	return nil
}

// WriteTextfile writes the registry in the Prometheus text format to path.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer measures the duration of one operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time since the timer started.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
