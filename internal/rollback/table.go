package rollback

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

const (
	insertBatchSize = 100
	deleteBatchSize = 500
)

// TableAccess reads and restores rows of a single MySQL table. Rows always
// travel as Row maps with every value scanned through sql.NullString, which
// keeps snapshots reproducible across the capture/restore/verify cycle.
type TableAccess struct {
	db        *sql.DB
	table     string
	keyColumn string
}

// NewTableAccess creates table access for the named table, ordered by keyColumn
func NewTableAccess(db *sql.DB, table, keyColumn string) (*TableAccess, error) {
	if db == nil {
		return nil, NewValidationError("database handle is required", nil)
	}
	if table == "" {
		return nil, NewValidationError("table name is required", nil)
	}
	if keyColumn == "" {
		keyColumn = "id"
	}

	return &TableAccess{
		db:        db,
		table:     table,
		keyColumn: keyColumn,
	}, nil
}

// Table returns the table name
func (t *TableAccess) Table() string {
	return t.table
}

// KeyColumn returns the ordering column
func (t *TableAccess) KeyColumn() string {
	return t.keyColumn
}

// ReadRows captures every row of the table in key-column order
func (t *TableAccess) ReadRows(ctx context.Context) ([]Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s",
		quoteIdentifier(t.table), quoteIdentifier(t.keyColumn))

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, NewDatabaseError(fmt.Sprintf("failed to read table %s", t.table), err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, NewDatabaseError("failed to read result columns", err)
	}

	var result []Row
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		scanTargets := make([]interface{}, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}

		if err := rows.Scan(scanTargets...); err != nil {
			return nil, NewDatabaseError("failed to scan row", err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if values[i].Valid {
				v := values[i].String
				row[col] = &v
			} else {
				row[col] = nil
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError("failed to iterate rows", err)
	}

	return result, nil
}

// Count returns the current row count of the table
func (t *TableAccess) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdentifier(t.table))

	var count int
	if err := t.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, NewDatabaseError(fmt.Sprintf("failed to count rows in %s", t.table), err)
	}

	return count, nil
}

// Truncate empties the table
func (t *TableAccess) Truncate(ctx context.Context) error {
	query := fmt.Sprintf("TRUNCATE TABLE %s", quoteIdentifier(t.table))

	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return NewDatabaseError(fmt.Sprintf("failed to truncate table %s", t.table), err)
	}

	return nil
}

// InsertRows restores rows into the table in batches. The column set is taken
// from the first row; snapshots always carry the full column set per row.
func (t *TableAccess) InsertRows(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdentifier(col)
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"

	for start := 0; start < len(rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		valueClauses := make([]string, len(batch))
		args := make([]interface{}, 0, len(batch)*len(columns))
		for i, row := range batch {
			valueClauses[i] = placeholders
			for _, col := range columns {
				value, ok := row[col]
				if !ok {
					return NewValidationError(
						fmt.Sprintf("row %d is missing column %s", start+i, col), nil)
				}
				if value == nil {
					args = append(args, nil)
				} else {
					args = append(args, *value)
				}
			}
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			quoteIdentifier(t.table),
			strings.Join(quoted, ", "),
			strings.Join(valueClauses, ", "))

		if _, err := t.db.ExecContext(ctx, query, args...); err != nil {
			return NewDatabaseError(
				fmt.Sprintf("failed to restore rows %d-%d into %s", start, end-1, t.table), err)
		}
	}

	return nil
}

// DeleteByIDs removes the rows whose key column matches one of ids, in
// batches. Returns the total number of rows deleted.
func (t *TableAccess) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	deleted := 0
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			quoteIdentifier(t.table), quoteIdentifier(t.keyColumn), placeholders)

		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		res, err := t.db.ExecContext(ctx, query, args...)
		if err != nil {
			return deleted, NewDatabaseError(
				fmt.Sprintf("failed to delete rows from %s", t.table), err)
		}
		if affected, err := res.RowsAffected(); err == nil {
			deleted += int(affected)
		}
	}

	return deleted, nil
}

// quoteIdentifier backtick-quotes a MySQL identifier
func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
