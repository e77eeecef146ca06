package migration

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"mysql-data-migrate/internal/logging"
	"mysql-data-migrate/internal/rollback"
)

const maxInputLineSize = 16 * 1024 * 1024

// RowCheck validates a row after it has been inserted. A non-nil error marks
// the row failed; its inserted copy is then a leftover the rollback engine
// has to remove.
type RowCheck func(row rollback.Row) error

// Loader reads newline-delimited JSON rows and inserts them into a table
// one row at a time, reporting each outcome to the migration context. A run
// with any failed row returns an error, which is what hands control to the
// rollback engine.
type Loader struct {
	db        *sql.DB
	table     string
	keyColumn string
	check     RowCheck
	logger    *logging.Logger
}

// NewLoader creates a loader targeting the given table
func NewLoader(db *sql.DB, table, keyColumn string, logger *logging.Logger) (*Loader, error) {
	if db == nil {
		return nil, rollback.NewValidationError("database handle is required", nil)
	}
	if table == "" {
		return nil, rollback.NewValidationError("table name is required", nil)
	}
	if keyColumn == "" {
		keyColumn = "id"
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	return &Loader{
		db:        db,
		table:     table,
		keyColumn: keyColumn,
		logger:    logger,
	}, nil
}

// SetRowCheck installs a post-insert validation applied to every row
func (l *Loader) SetRowCheck(check RowCheck) {
	l.check = check
}

// Run is the migration body: it consumes NDJSON rows from input and inserts
// them, recording per-row outcomes on mctx. A row that inserts but fails the
// row check is reported as a failure together with its key value, so a
// Partial rollback can remove the leftover while the clean rows stay.
// It matches rollback.MigrationFunc once the input is bound.
func (l *Loader) Run(ctx context.Context, mctx *rollback.MigrationContext, input io.Reader) error {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxInputLineSize)

	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return rollback.NewDatabaseError("migration cancelled", err)
		}

		line := scanner.Bytes()
		lineNo++
		if len(line) == 0 {
			continue
		}

		row, err := parseRow(line)
		if err != nil {
			mctx.RecordFailure()
			l.logger.Warnf("line %d: %v", lineNo, err)
			continue
		}

		keyValue, err := l.insertRow(ctx, row)
		if err != nil {
			// A failed INSERT leaves nothing behind, so there is no
			// artifact to record.
			mctx.RecordFailure()
			l.logger.Warnf("line %d: insert failed: %v", lineNo, err)
			continue
		}

		if l.check != nil {
			if err := l.check(row); err != nil {
				mctx.RecordFailure()
				if keyValue != "" {
					mctx.RecordFailureArtifact(keyValue)
				}
				l.logger.Warnf("line %d: row rejected after insert: %v", lineNo, err)
				continue
			}
		}

		mctx.RecordSuccess()
	}
	if err := scanner.Err(); err != nil {
		return rollback.NewSerializationError("failed to read migration input", err)
	}

	if failed := mctx.Failed(); failed > 0 {
		return rollback.NewDatabaseError(
			fmt.Sprintf("%d of %d rows failed to migrate", failed, mctx.Attempted()), nil)
	}

	return nil
}

// insertRow inserts one row and returns its key column value, when present
func (l *Loader) insertRow(ctx context.Context, row rollback.Row) (string, error) {
	columns := make([]string, 0, len(row))
	for col := range row {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, col := range columns {
		quoted[i] = "`" + strings.ReplaceAll(col, "`", "``") + "`"
		if row[col] == nil {
			args[i] = nil
		} else {
			args[i] = *row[col]
		}
	}

	query := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)",
		strings.ReplaceAll(l.table, "`", "``"),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?,", len(columns)), ","))

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return "", err
	}

	keyValue := ""
	if v, ok := row[l.keyColumn]; ok && v != nil {
		keyValue = *v
	}

	return keyValue, nil
}

// parseRow decodes one NDJSON object into a Row. Every scalar is carried as
// a string; json.Number keeps numeric values exactly as written in the input.
func parseRow(line []byte) (rollback.Row, error) {
	decoder := json.NewDecoder(strings.NewReader(string(line)))
	decoder.UseNumber()

	var raw map[string]interface{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, rollback.NewSerializationError("invalid JSON row", err)
	}

	row := make(rollback.Row, len(raw))
	for col, value := range raw {
		switch v := value.(type) {
		case nil:
			row[col] = nil
		case string:
			s := v
			row[col] = &s
		case json.Number:
			s := v.String()
			row[col] = &s
		case bool:
			s := "0"
			if v {
				s = "1"
			}
			row[col] = &s
		default:
			return nil, rollback.NewSerializationError(
				fmt.Sprintf("column %s has unsupported nested value", col), nil)
		}
	}

	return row, nil
}
