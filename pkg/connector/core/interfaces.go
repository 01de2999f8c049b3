// Package core defines the types and the dialect capability interface shared
// by the extraction engine and the database-specific sources.
package core

import (
	"context"
	"database/sql"
	"strings"
)

// BaseType is the canonical, database-independent column type.
type BaseType string

const (
	BaseTypeString    BaseType = "STRING"
	BaseTypeInteger   BaseType = "INTEGER"
	BaseTypeNumeric   BaseType = "NUMERIC"
	BaseTypeFloat     BaseType = "FLOAT"
	BaseTypeDate      BaseType = "DATE"
	BaseTypeTimestamp BaseType = "TIMESTAMP"
	BaseTypeUnknown   BaseType = "UNKNOWN"
)

// IsNumeric reports whether values of this type compare numerically.
func (b BaseType) IsNumeric() bool {
	switch b {
	case BaseTypeInteger, BaseTypeNumeric, BaseTypeFloat:
		return true
	default:
		return false
	}
}

// TableKind distinguishes base tables from views.
type TableKind string

const (
	KindTable TableKind = "table"
	KindView  TableKind = "view"
)

// ValueType is how an incremental watermark is compared and rendered.
type ValueType string

const (
	ValueNumeric   ValueType = "numeric"
	ValueTimestamp ValueType = "timestamp"
	ValueDate      ValueType = "date"

	// ValueTimestampTZ watermarks carry their UTC offset.
	ValueTimestampTZ ValueType = "timestamp_tz"
)

// SSHParameters describes the tunnel the connection is routed through.
type SSHParameters struct {
	Enabled    bool
	Host       string
	Port       int
	User       string
	PrivateKey string
	RemoteHost string
	RemotePort int
	LocalPort  int
}

// ConnectionParameters identify the database to extract from. Built once per
// run and treated as immutable; Host and Port are only set when a tunnel is
// active.
type ConnectionParameters struct {
	DatabaseName string
	Host         string
	Port         int
	User         string
	Password     string
	SSH          *SSHParameters
}

// ColumnDescriptor describes one column in native field-position order.
type ColumnDescriptor struct {
	Name       string
	NativeType string
	BaseType   BaseType
	Length     int
	Nullable   bool
}

// TableDescriptor describes one user relation.
type TableDescriptor struct {
	Name    string
	Schema  string
	Kind    TableKind
	Columns []ColumnDescriptor
}

// TableRef names a table in the source database.
type TableRef struct {
	Schema    string
	TableName string
}

// IncrementalSpec describes incremental fetching for one extraction. It is
// passed by value into and out of every operation that uses it.
type IncrementalSpec struct {
	Column    string
	ValueType ValueType
	Limit     int
	LastValue string
}

// Limited reports whether the extraction is capped to Limit rows.
func (s IncrementalSpec) Limited() bool {
	return s.Limit > 0
}

// ExtractionRequest is what to export: a table (optionally restricted to
// columns) or a raw query. Incremental fetching requires a table.
type ExtractionRequest struct {
	Table       *TableRef
	Query       string
	Columns     []string
	Incremental *IncrementalSpec
}

// RunState is the persisted output of an incremental run.
type RunState struct {
	LastFetchedRow string `json:"lastFetchedRow,omitempty"`
}

// Empty reports whether the state carries no watermark.
func (s RunState) Empty() bool {
	return s.LastFetchedRow == ""
}

// Row is one result row keyed by column name.
type Row map[string]interface{}

// String returns the value of column name rendered as a trimmed string.
// Catalog CHAR fields arrive padded and sometimes as raw bytes.
func (r Row) String(name string) string {
	switch v := r[name].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	default:
		return strings.TrimSpace(toString(v))
	}
}

// Querier runs catalog and aggregate queries with retry semantics.
type Querier interface {
	Query(ctx context.Context, query, errorMessage string, args ...interface{}) ([]Row, error)
}

// Capabilities lists optional dialect features.
type Capabilities struct {
	SchemaListing       bool
	IncrementalFetching bool
}

// Dialect is the capability interface a database source implements. The
// retry executor and the incremental tracker depend only on it.
type Dialect interface {
	Name() string
	Capabilities() Capabilities

	// Open validates params and returns a handle limited to one connection.
	Open(ctx context.Context, params ConnectionParameters) (*sql.DB, error)
	// LivenessQuery is the cheap statement used to probe a connection.
	LivenessQuery() string
	TestConnection(ctx context.Context, q Querier) error

	ListTables(ctx context.Context, q Querier) ([]TableDescriptor, error)
	// ListColumns returns the columns of table, or only column when it is
	// non-empty.
	ListColumns(ctx context.Context, q Querier, table, column string) ([]ColumnDescriptor, error)

	BuildQuery(table TableRef, columns []string, spec *IncrementalSpec) (string, error)
	BuildMaxQuery(table TableRef, spec IncrementalSpec) (string, error)

	// NormalizeIdentifier applies the dialect's case rules to an unquoted name.
	NormalizeIdentifier(name string) string
	// FormatValue renders a driver value for CSV output and watermarks.
	// databaseType is the result column's type name, if known.
	FormatValue(value interface{}, databaseType string) string
}
