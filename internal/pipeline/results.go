package pipeline

import (
	"regexp"
	"strings"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
)

// StatusSuccess is the only status a result is ever printed with; failures
// surface as errors instead.
const StatusSuccess = "success"

// Result is the JSON document printed on stdout after an action.
type Result struct {
	Status string `json:"status"`

	// Imported is an ImportedTable for single-table configurations and a
	// list of them for tables lists.
	Imported interface{}    `json:"imported,omitempty"`
	State    *core.RunState `json:"state,omitempty"`

	Tables []TableResult `json:"tables,omitempty"`
}

// ImportedTable reports one exported table.
type ImportedTable struct {
	OutputTable string `json:"outputTable"`
	Rows        int64  `json:"rows"`
}

// TableResult is one relation in the getTables listing.
type TableResult struct {
	Name    string         `json:"name"`
	Schema  string         `json:"schema"`
	Type    string         `json:"type"`
	Columns []ColumnResult `json:"columns"`
}

// ColumnResult is one column in the getTables listing.
type ColumnResult struct {
	Name          string `json:"name"`
	SanitizedName string `json:"sanitizedName"`
	Type          string `json:"type"`
	Length        int    `json:"length"`
	Nullable      bool   `json:"nullable"`
	PrimaryKey    bool   `json:"primaryKey"`
	UniqueKey     bool   `json:"uniqueKey"`
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// SanitizeName turns a column name into a storage-safe identifier.
func SanitizeName(name string) string {
	return strings.Trim(unsafeNameChars.ReplaceAllString(name, "_"), "_")
}

func tableResults(tables []core.TableDescriptor) []TableResult {
	result := make([]TableResult, 0, len(tables))
	for _, table := range tables {
		columns := make([]ColumnResult, 0, len(table.Columns))
		for _, c := range table.Columns {
			columns = append(columns, ColumnResult{
				Name:          c.Name,
				SanitizedName: SanitizeName(c.Name),
				Type:          string(c.BaseType),
				Length:        c.Length,
				Nullable:      c.Nullable,
			})
		}
		result = append(result, TableResult{
			Name:    table.Name,
			Schema:  table.Schema,
			Type:    string(table.Kind),
			Columns: columns,
		})
	}
	return result
}
