package rollback

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

const s3ObjectPrefix = "backups/"

// S3BackupStore implements BackupStore on Amazon S3
type S3BackupStore struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3BackupStore creates a new S3BackupStore instance
func NewS3BackupStore(config *S3Config) (*S3BackupStore, error) {
	if config == nil {
		return nil, NewValidationError("S3 storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid S3 storage configuration", err)
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"", // token
		),
	})
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	return &S3BackupStore{
		client: s3.New(sess),
		bucket: config.Bucket,
		prefix: s3ObjectPrefix,
	}, nil
}

// Write uploads data and returns the s3:// object path
func (s *S3BackupStore) Write(ctx context.Context, name string, data []byte) (string, error) {
	if name == "" {
		return "", NewValidationError("object name cannot be empty", nil)
	}

	key := s.prefix + sanitizeObjectName(name)

	// S3 PUTs are atomic per object: the key never exposes a partial body
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", NewStorageError("failed to upload snapshot to S3", err)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Read downloads the object at path
func (s *S3BackupStore) Read(ctx context.Context, path string) ([]byte, error) {
	bucket, key, err := splitObjectPath("s3", path)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if awsErr, ok := err.(awserr.Error); ok && awsErr.Code() == s3.ErrCodeNoSuchKey {
			return nil, NewNotFoundError(fmt.Sprintf("snapshot %s not found", path), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download snapshot %s from S3", path), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, NewStorageError("failed to read snapshot data", err)
	}

	return data, nil
}

// Delete removes the object at path
func (s *S3BackupStore) Delete(ctx context.Context, path string) error {
	bucket, key, err := splitObjectPath("s3", path)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to delete snapshot %s from S3", path), err)
	}

	return nil
}
