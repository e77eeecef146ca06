package rollback

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// SnapshotSchemaVersion is the current version of the line record format
const SnapshotSchemaVersion = 1

// maxSnapshotLineSize bounds a single serialized record when scanning
// line-oriented files back in
const maxSnapshotLineSize = 16 * 1024 * 1024

// snapshotRecord is one serialized table row: a self-describing JSON object
// carrying the record format version alongside the column values
type snapshotRecord struct {
	SchemaVersion int    `json:"schema_version"`
	Columns       Row    `json:"columns"`
	Table         string `json:"table,omitempty"`
}

// Codec serializes table rows to newline-delimited JSON and computes content
// checksums over the serialized bytes. Checksumming the bytes rather than the
// in-memory rows makes verification reproducible from the file alone.
type Codec struct{}

// NewCodec creates a new snapshot codec
func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes rows for the named table and returns the serialized bytes
// together with the SHA-256 checksum of those bytes.
//
// json.Marshal emits map keys in sorted order, so the output is deterministic
// for a given row ordering; callers must supply rows in a stable order
// (the table reader orders by key column).
func (c *Codec) Encode(tableName string, rows []Row) ([]byte, string, error) {
	var buf bytes.Buffer

	for i, row := range rows {
		record := snapshotRecord{
			SchemaVersion: SnapshotSchemaVersion,
			Columns:       row,
		}
		if i == 0 {
			// Table name on the first record only keeps the file
			// self-describing without bloating every line
			record.Table = tableName
		}

		data, err := json.Marshal(record)
		if err != nil {
			return nil, "", NewSerializationError(fmt.Sprintf("row %d cannot be serialized", i), err)
		}

		buf.Write(data)
		buf.WriteByte('\n')
	}

	checksum, err := c.ChecksumReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, "", err
	}

	return buf.Bytes(), checksum, nil
}

// Decode parses serialized snapshot bytes back into rows
func (c *Codec) Decode(data []byte) ([]Row, error) {
	rows := make([]Row, 0)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	// Rows with large text columns can exceed the default scanner buffer
	scanner.Buffer(make([]byte, 64*1024), maxSnapshotLineSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var record snapshotRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, NewSerializationError(fmt.Sprintf("line %d is not a valid snapshot record", line), err)
		}

		if record.SchemaVersion != SnapshotSchemaVersion {
			return nil, NewSerializationError(
				fmt.Sprintf("line %d has unsupported schema version %d", line, record.SchemaVersion), nil)
		}

		if record.Columns == nil {
			record.Columns = Row{}
		}
		rows = append(rows, record.Columns)
	}

	if err := scanner.Err(); err != nil {
		return nil, NewSerializationError("failed to read snapshot data", err)
	}

	return rows, nil
}

// Checksum computes the SHA-256 checksum of data
func (c *Codec) Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ChecksumReader computes the SHA-256 checksum over a stream
func (c *Codec) ChecksumReader(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", NewChecksumError("failed to hash snapshot content", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyChecksum reports whether data matches the expected checksum
func (c *Codec) VerifyChecksum(data []byte, expected string) bool {
	return c.Checksum(data) == expected
}
