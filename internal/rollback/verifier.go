package rollback

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Verifier proves that a restored table matches its snapshot by re-reading
// the table, re-serializing it and comparing checksum and row count against
// the backup record. Verification is read-only and idempotent; running it
// twice yields the same verdict and changes nothing.
type Verifier struct {
	db    *sql.DB
	codec *Codec
}

// NewVerifier creates a verifier over the given connection pool
func NewVerifier(db *sql.DB) *Verifier {
	return &Verifier{
		db:    db,
		codec: NewCodec(),
	}
}

// Verify compares the content of tableName against the rollback point's
// backup record. tableName is usually the point's own table; a restore into a
// different table passes that table instead, so the verdict covers the rows
// the restore actually wrote. An empty tableName falls back to the point's
// table. A populated VerificationResult is returned in both directions; on
// mismatch it is accompanied by a DataIntegrityError carrying the expected
// and actual values.
func (v *Verifier) Verify(ctx context.Context, point *RollbackPoint, tableName string) (*VerificationResult, error) {
	if point == nil {
		return nil, NewValidationError("rollback point is required", nil)
	}
	if point.Backup == nil {
		return nil, NewValidationError(
			fmt.Sprintf("rollback point %s has no backup to verify against", point.ID), nil)
	}
	if tableName == "" {
		tableName = point.TableName
	}

	access, err := NewTableAccess(v.db, tableName, point.KeyColumn)
	if err != nil {
		return nil, err
	}

	rows, err := access.ReadRows(ctx)
	if err != nil {
		return nil, err
	}

	// The snapshot embeds the point's table name in its first record, so the
	// re-encoding must use that name even when the rows came from elsewhere.
	_, checksum, err := v.codec.Encode(point.TableName, rows)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{
		ExpectedChecksum: point.Backup.Checksum,
		ActualChecksum:   checksum,
		ExpectedRows:     point.Backup.RowCount,
		ActualRows:       len(rows),
		CheckedAt:        time.Now().UTC(),
	}
	result.Valid = result.ExpectedChecksum == result.ActualChecksum &&
		result.ExpectedRows == result.ActualRows

	if !result.Valid {
		return result, NewDataIntegrityError(
			fmt.Sprintf("table %s does not match snapshot for rollback point %s",
				tableName, point.ID), nil).
			WithContext("expected_checksum", result.ExpectedChecksum).
			WithContext("actual_checksum", result.ActualChecksum).
			WithContext("expected_rows", fmt.Sprintf("%d", result.ExpectedRows)).
			WithContext("actual_rows", fmt.Sprintf("%d", result.ActualRows))
	}

	return result, nil
}
