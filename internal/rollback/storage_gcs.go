package rollback

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsObjectPrefix = "backups/"

// GCSBackupStore implements BackupStore on Google Cloud Storage
type GCSBackupStore struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSBackupStore creates a new GCSBackupStore instance
func NewGCSBackupStore(ctx context.Context, config *GCSConfig) (*GCSBackupStore, error) {
	if config == nil {
		return nil, NewValidationError("GCS storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid GCS storage configuration", err)
	}

	var client *storage.Client
	var err error

	if config.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSBackupStore{
		client:     client,
		bucketName: config.Bucket,
		prefix:     gcsObjectPrefix,
	}, nil
}

// Write uploads data and returns the gs:// object path
func (g *GCSBackupStore) Write(ctx context.Context, name string, data []byte) (string, error) {
	if name == "" {
		return "", NewValidationError("object name cannot be empty", nil)
	}

	objectName := g.prefix + sanitizeObjectName(name)

	// GCS objects become visible only when the writer closes successfully
	writer := g.client.Bucket(g.bucketName).Object(objectName).NewWriter(ctx)
	writer.ContentType = "application/x-ndjson"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return "", NewStorageError("failed to upload snapshot to GCS", err)
	}
	if err := writer.Close(); err != nil {
		return "", NewStorageError("failed to finalize snapshot upload to GCS", err)
	}

	return fmt.Sprintf("gs://%s/%s", g.bucketName, objectName), nil
}

// Read downloads the object at path
func (g *GCSBackupStore) Read(ctx context.Context, path string) ([]byte, error) {
	bucket, object, err := splitObjectPath("gs", path)
	if err != nil {
		return nil, err
	}

	reader, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("snapshot %s not found", path), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to open snapshot %s from GCS", path), err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewStorageError("failed to read snapshot data", err)
	}

	return data, nil
}

// Delete removes the object at path
func (g *GCSBackupStore) Delete(ctx context.Context, path string) error {
	bucket, object, err := splitObjectPath("gs", path)
	if err != nil {
		return err
	}

	if err := g.client.Bucket(bucket).Object(object).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return NewNotFoundError(fmt.Sprintf("snapshot %s not found", path), err)
		}
		return NewStorageError(fmt.Sprintf("failed to delete snapshot %s from GCS", path), err)
	}

	return nil
}

// Close releases the underlying GCS client
func (g *GCSBackupStore) Close() error {
	return g.client.Close()
}
