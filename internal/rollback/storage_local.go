package rollback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalBackupStore implements BackupStore on the local file system.
// Writes go to a temp file in the same directory followed by an atomic
// rename, so a snapshot is never visible under its final path until it
// is complete.
type LocalBackupStore struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalBackupStore creates a new LocalBackupStore instance
func NewLocalBackupStore(config *LocalConfig) (*LocalBackupStore, error) {
	if config == nil {
		return nil, NewValidationError("local storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid local storage configuration", err)
	}

	store := &LocalBackupStore{
		basePath:    config.BasePath,
		permissions: config.Permissions,
	}

	if err := os.MkdirAll(store.basePath, store.permissions); err != nil {
		return nil, NewStorageError("failed to create backup base directory", err)
	}

	return store, nil
}

// Write stores data atomically and returns the final file path
func (s *LocalBackupStore) Write(ctx context.Context, name string, data []byte) (string, error) {
	if name == "" {
		return "", NewValidationError("object name cannot be empty", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", NewStorageError("write cancelled", err)
	}

	finalPath := filepath.Join(s.basePath, sanitizeObjectName(name))

	tmp, err := os.CreateTemp(s.basePath, "."+sanitizeObjectName(name)+".tmp-*")
	if err != nil {
		return "", NewStorageError("failed to create temp file", err)
	}
	tmpPath := tmp.Name()

	// Any failure below must not leave the temp file behind
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return "", NewStorageError("failed to write snapshot data", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", NewStorageError("failed to sync snapshot data", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", NewStorageError("failed to close temp file", err)
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return "", NewStorageError("failed to set snapshot permissions", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", NewStorageError("failed to publish snapshot file", err)
	}

	return finalPath, nil
}

// Read loads the object at path
func (s *LocalBackupStore) Read(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, NewValidationError("path cannot be empty", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("read cancelled", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewNotFoundError(fmt.Sprintf("backup file %s not found", path), err)
		}
		return nil, NewStorageError("failed to read backup file", err)
	}

	return data, nil
}

// Delete removes the object at path
func (s *LocalBackupStore) Delete(ctx context.Context, path string) error {
	if path == "" {
		return NewValidationError("path cannot be empty", nil)
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return NewNotFoundError(fmt.Sprintf("backup file %s not found", path), err)
		}
		return NewStorageError("failed to delete backup file", err)
	}

	return nil
}

// BasePath returns the base directory of the store
func (s *LocalBackupStore) BasePath() string {
	return s.basePath
}

// HealthCheck verifies the base directory is writable and readable
func (s *LocalBackupStore) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(s.basePath, ".health_check")

	if err := os.WriteFile(testFile, []byte("health_check"), 0644); err != nil {
		return NewStorageError("backup store health check failed: cannot write to base directory", err)
	}
	if _, err := os.ReadFile(testFile); err != nil {
		return NewStorageError("backup store health check failed: cannot read from base directory", err)
	}
	os.Remove(testFile)

	return nil
}
