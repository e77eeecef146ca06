package rollback

import (
	"context"
	"fmt"
	"strings"
)

// BackupStore abstracts durable snapshot storage. Implementations must
// guarantee atomic visibility: a partially written object never appears
// under its final path. Object names are scoped per rollback id upstream,
// so concurrent writers for different ids never collide.
type BackupStore interface {
	// Write stores data under name and returns the durable path
	Write(ctx context.Context, name string, data []byte) (string, error)
	// Read loads the object previously written at path
	Read(ctx context.Context, path string) ([]byte, error)
	// Delete removes the object at path
	Delete(ctx context.Context, path string) error
}

// NewBackupStore creates a backup store for the configured provider
func NewBackupStore(ctx context.Context, config StorageConfig) (BackupStore, error) {
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid storage configuration", err)
	}

	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalBackupStore(config.Local)
	case StorageProviderS3:
		return NewS3BackupStore(config.S3)
	case StorageProviderAzure:
		return NewAzureBackupStore(config.Azure)
	case StorageProviderGCS:
		return NewGCSBackupStore(ctx, config.GCS)
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// sanitizeObjectName strips path separators from a storage object name to
// prevent directory traversal
func sanitizeObjectName(name string) string {
	sanitized := strings.ReplaceAll(name, "/", "_")
	sanitized = strings.ReplaceAll(sanitized, "\\", "_")
	sanitized = strings.ReplaceAll(sanitized, "..", "_")
	return sanitized
}

// splitObjectPath parses a "<scheme>://<bucket>/<key>" storage path
func splitObjectPath(scheme, path string) (bucket, key string, err error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(path, prefix) {
		return "", "", NewValidationError(fmt.Sprintf("path %q is not a %s path", path, scheme), nil)
	}

	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", NewValidationError(fmt.Sprintf("malformed %s path: %q", scheme, path), nil)
	}

	return parts[0], parts[1], nil
}
