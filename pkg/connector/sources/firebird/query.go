package firebird

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

// plainIdentifierPattern matches names Firebird stores as written when they
// appear unquoted.
var plainIdentifierPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_$]*$`)

// BuildQuery renders the extraction query for table:
//
//	SELECT [FIRST n] <columns|*> FROM <table> [WHERE <col> >= <value>] [ORDER BY <col>]
//
// Columns are joined verbatim. The ORDER BY clause is present exactly when a
// limit is, so that FIRST n pages deterministically.
func (d *Dialect) BuildQuery(table core.TableRef, columns []string, spec *core.IncrementalSpec) (string, error) {
	var b strings.Builder
	b.WriteString("SELECT ")

	if spec != nil && spec.Limited() {
		b.WriteString("FIRST ")
		b.WriteString(strconv.Itoa(spec.Limit))
		b.WriteByte(' ')
	}

	if len(columns) > 0 {
		b.WriteString(strings.Join(columns, ", "))
	} else {
		b.WriteByte('*')
	}

	b.WriteString(" FROM ")
	b.WriteString(table.TableName)

	if spec != nil {
		predicate, err := incrementalPredicate(*spec)
		if err != nil {
			return "", err
		}
		b.WriteString(predicate)

		if spec.Limited() {
			b.WriteString(" ORDER BY ")
			b.WriteString(quoteIdentifier(spec.Column))
		}
	}

	return b.String(), nil
}

// BuildMaxQuery renders the aggregate that reads the watermark after an
// unlimited export, using the same predicate as the export.
func (d *Dialect) BuildMaxQuery(table core.TableRef, spec core.IncrementalSpec) (string, error) {
	predicate, err := incrementalPredicate(spec)
	if err != nil {
		return "", err
	}
	column := quoteIdentifier(spec.Column)
	return "SELECT MAX(" + column + ") AS " + column + " FROM " + table.TableName + predicate, nil
}

// incrementalPredicate returns " WHERE <col> >= <value>", or "" on a first run.
func incrementalPredicate(spec core.IncrementalSpec) (string, error) {
	if spec.LastValue == "" {
		return "", nil
	}

	var literal string
	switch spec.ValueType {
	case core.ValueNumeric:
		// Numeric watermarks go into the statement unquoted, so they must be
		// plain decimal literals.
		if _, err := decimal.NewFromString(spec.LastValue); err != nil || strings.ContainsAny(spec.LastValue, "eE") {
			return "", nebulaerrors.Newf(nebulaerrors.KindConfiguration,
				"Invalid numeric value [%s] of the incremental fetching state", spec.LastValue).
				WithDetail("column", spec.Column)
		}
		literal = spec.LastValue
	default:
		literal = quoteLiteral(spec.LastValue)
	}

	return " WHERE " + quoteIdentifier(spec.Column) + " >= " + literal, nil
}

// quoteIdentifier renders a catalog name for use in a statement. Names that
// are not plain upper-case identifiers are double-quoted so Firebird does not
// fold them to upper case.
func quoteIdentifier(name string) string {
	if plainIdentifierPattern.MatchString(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral renders s as an SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
