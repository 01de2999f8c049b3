package firebird

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
)

const tablesQuery = `SELECT TRIM(RDB$RELATION_NAME) AS NAME,
CASE WHEN RDB$VIEW_BLR IS NULL THEN 0 ELSE 1 END AS IS_VIEW
FROM RDB$RELATIONS
WHERE RDB$SYSTEM_FLAG IS NULL OR RDB$SYSTEM_FLAG = 0
ORDER BY RDB$RELATION_ID`

const columnsQuery = `SELECT TRIM(r.RDB$FIELD_NAME) AS FIELD_NAME,
f.RDB$FIELD_TYPE AS FIELD_TYPE,
f.RDB$FIELD_SUB_TYPE AS FIELD_SUB_TYPE,
f.RDB$FIELD_LENGTH AS FIELD_LENGTH,
CASE WHEN COALESCE(r.RDB$NULL_FLAG, f.RDB$NULL_FLAG, 0) = 1 THEN 0 ELSE 1 END AS NULLABLE
FROM RDB$RELATION_FIELDS r
LEFT JOIN RDB$FIELDS f ON r.RDB$FIELD_SOURCE = f.RDB$FIELD_NAME
WHERE r.RDB$RELATION_NAME = ?`

const columnFilter = `
AND r.RDB$FIELD_NAME = ?`

const columnsOrder = `
ORDER BY r.RDB$FIELD_POSITION`

// ListTables returns every non-system relation with its columns, in catalog order.
func (d *Dialect) ListTables(ctx context.Context, q core.Querier) ([]core.TableDescriptor, error) {
	rows, err := q.Query(ctx, tablesQuery, "Error fetching tables")
	if err != nil {
		return nil, err
	}

	tables := make([]core.TableDescriptor, 0, len(rows))
	for _, row := range rows {
		table := core.TableDescriptor{
			Name: row.String("NAME"),
			Kind: core.KindTable,
		}
		if row.Int("IS_VIEW") == 1 {
			table.Kind = core.KindView
		}

		table.Columns, err = d.ListColumns(ctx, q, table.Name, "")
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}

	d.logger.Debug("tables listed", zap.Int("count", len(tables)))
	return tables, nil
}

// ListColumns returns the columns of table in field-position order, or just
// column when it is non-empty.
func (d *Dialect) ListColumns(ctx context.Context, q core.Querier, table, column string) ([]core.ColumnDescriptor, error) {
	query := columnsQuery
	args := []interface{}{d.NormalizeIdentifier(table)}
	if column != "" {
		query += columnFilter
		args = append(args, d.NormalizeIdentifier(column))
	}
	query += columnsOrder

	rows, err := q.Query(ctx, query, "Error fetching table columns", args...)
	if err != nil {
		return nil, err
	}

	columns := make([]core.ColumnDescriptor, 0, len(rows))
	for _, row := range rows {
		nativeType := NativeTypeName(row.Int("FIELD_TYPE"), row.Int("FIELD_SUB_TYPE"))
		columns = append(columns, core.ColumnDescriptor{
			Name:       row.String("FIELD_NAME"),
			NativeType: nativeType,
			BaseType:   BaseTypeOf(nativeType),
			Length:     row.Int("FIELD_LENGTH"),
			Nullable:   row.Int("NULLABLE") == 1,
		})
	}
	return columns, nil
}
