// Package firebird is the root of the Firebird extractor: a batch job that
// exports tables from a Firebird database into CSV files plus manifests.
//
// # Architecture
//
// A run flows through four layers:
//
//  1. cmd/ex-firebird reads flags, loads config.json from the data directory
//     and prints the JSON result.
//  2. internal/pipeline picks the action (run, testConnection, getTables)
//     and exports each table.
//  3. pkg/connector/base holds the extraction engine: the connection manager,
//     the retry executor and the incremental state tracker.
//  4. pkg/connector/sources/firebird implements the core.Dialect capability
//     interface: catalog queries, type mapping, query building, DSN handling.
//
// # Failure Handling
//
// Every database call goes through base.Executor. A failed attempt is
// followed by one liveness probe; a dead connection is reopened before the
// next attempt. Errors carry a nebulaerrors.Kind that decides both whether
// to retry and the exit code:
//
//	0  success
//	1  configuration, transient or dead-connection errors
//	2  everything else
//
// # Incremental Fetching
//
// With incrementalFetchingColumn set, the run exports rows at or above the
// watermark from in/state.json and writes the next watermark to
// out/state.json. The boundary row is exported again on every run.
//
// # Observability
//
// Logs are structured zap JSON on stderr. --metrics-file dumps Prometheus
// metrics at the end of the run and --trace-file writes OpenTelemetry spans.
package firebird
