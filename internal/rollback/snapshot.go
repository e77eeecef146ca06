package rollback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	snapshotDataSuffix = ".snap"
	snapshotMetaSuffix = ".meta.json"
)

// Snapshotter creates and restores durable table snapshots: NDJSON encoding,
// optional compression and encryption, atomic storage, and a sidecar metadata
// file describing the stored object.
//
// The recorded checksum always covers the serialized plaintext, so integrity
// can be verified regardless of the compression or encryption applied at rest.
type Snapshotter struct {
	codec       *Codec
	compression *CompressionManager
	encryption  *EncryptionManager
	store       BackupStore

	compressionType  CompressionType
	compressionLevel int
}

// NewSnapshotter creates a new Snapshotter
func NewSnapshotter(store BackupStore, cfg Config) *Snapshotter {
	compressionType := cfg.Compression
	if compressionType == "" {
		compressionType = CompressionTypeNone
	}

	return &Snapshotter{
		codec:            NewCodec(),
		compression:      NewCompressionManager(),
		encryption:       NewEncryptionManager(cfg.Encryption),
		store:            store,
		compressionType:  compressionType,
		compressionLevel: cfg.CompressionLevel,
	}
}

// Codec exposes the snapshot codec for verification use
func (s *Snapshotter) Codec() *Codec {
	return s.codec
}

// Create serializes rows, persists the snapshot plus its sidecar metadata,
// and returns the immutable BackupRecord.
//
// Serialization and checksum failures abort before anything is written, so a
// failed snapshot never leaves registry or storage residue.
func (s *Snapshotter) Create(ctx context.Context, rollbackID, tableName string, rows []Row) (*BackupRecord, error) {
	plaintext, checksum, err := s.codec.Encode(tableName, rows)
	if err != nil {
		return nil, err
	}

	stored, err := s.compression.Compress(plaintext, s.compressionType, s.compressionLevel)
	if err != nil {
		return nil, err
	}

	stored, err = s.encryption.Encrypt(stored)
	if err != nil {
		return nil, err
	}

	path, err := s.store.Write(ctx, rollbackID+snapshotDataSuffix, stored)
	if err != nil {
		return nil, err
	}

	record := &BackupRecord{
		Path:        path,
		Checksum:    checksum,
		RowCount:    len(rows),
		ByteSize:    int64(len(stored)),
		Compression: s.compressionType,
		Encrypted:   s.encryption.Enabled(),
		CreatedAt:   time.Now().UTC(),
	}

	metaData, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, NewSerializationError("failed to serialize backup metadata", err)
	}
	if _, err := s.store.Write(ctx, rollbackID+snapshotMetaSuffix, metaData); err != nil {
		return nil, err
	}

	return record, nil
}

// Load reads a snapshot back into rows, verifying the plaintext checksum
// against the record before decoding. A mismatch means the stored bytes were
// altered after creation and is a hard integrity failure.
func (s *Snapshotter) Load(ctx context.Context, record *BackupRecord) ([]Row, error) {
	if record == nil {
		return nil, NewValidationError("backup record is required", nil)
	}

	stored, err := s.store.Read(ctx, record.Path)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.encryption.Decrypt(stored)
	if err != nil {
		return nil, err
	}

	plaintext, err = s.compression.Decompress(plaintext, record.Compression)
	if err != nil {
		return nil, err
	}

	if actual := s.codec.Checksum(plaintext); actual != record.Checksum {
		return nil, NewDataIntegrityError(
			fmt.Sprintf("snapshot checksum mismatch for %s", record.Path), nil).
			WithContext("expected", record.Checksum).
			WithContext("actual", actual)
	}

	rows, err := s.codec.Decode(plaintext)
	if err != nil {
		return nil, err
	}

	if len(rows) != record.RowCount {
		return nil, NewDataIntegrityError(
			fmt.Sprintf("snapshot row count mismatch for %s: recorded %d, decoded %d",
				record.Path, record.RowCount, len(rows)), nil)
	}

	return rows, nil
}

// LoadFromPath restores a snapshot addressed directly by its storage path,
// independent of any rollback point bookkeeping. The sidecar metadata file
// next to the snapshot supplies the integrity checksum and is required.
func (s *Snapshotter) LoadFromPath(ctx context.Context, dataPath string) ([]Row, *BackupRecord, error) {
	metaData, err := s.store.Read(ctx, metaPathFor(dataPath))
	if err != nil {
		return nil, nil, NewStorageError(
			fmt.Sprintf("snapshot metadata sidecar not readable for %s", dataPath), err)
	}

	var record BackupRecord
	if err := json.Unmarshal(metaData, &record); err != nil {
		return nil, nil, NewSerializationError("failed to parse snapshot metadata sidecar", err)
	}
	record.Path = dataPath

	if err := record.Validate(); err != nil {
		return nil, nil, NewValidationError("invalid snapshot metadata sidecar", err)
	}

	rows, err := s.Load(ctx, &record)
	if err != nil {
		return nil, nil, err
	}

	return rows, &record, nil
}

// Delete removes a snapshot and its sidecar metadata
func (s *Snapshotter) Delete(ctx context.Context, record *BackupRecord) error {
	if record == nil {
		return NewValidationError("backup record is required", nil)
	}

	if err := s.store.Delete(ctx, record.Path); err != nil {
		return err
	}
	// Sidecar removal failure leaves only inert metadata behind
	if err := s.store.Delete(ctx, metaPathFor(record.Path)); err != nil && !IsNotFound(err) {
		return err
	}

	return nil
}

func metaPathFor(dataPath string) string {
	return strings.TrimSuffix(dataPath, snapshotDataSuffix) + snapshotMetaSuffix
}
