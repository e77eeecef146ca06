package rollback

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

const azureBlobPrefix = "backups/"

// AzureBackupStore implements BackupStore on Azure Blob Storage
type AzureBackupStore struct {
	serviceURL    azblob.ServiceURL
	containerName string
	prefix        string
}

// NewAzureBackupStore creates a new AzureBackupStore instance
func NewAzureBackupStore(config *AzureConfig) (*AzureBackupStore, error) {
	if config == nil {
		return nil, NewValidationError("Azure storage configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid Azure storage configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureBackupStore{
		serviceURL:    azblob.NewServiceURL(*serviceURL, pipeline),
		containerName: config.ContainerName,
		prefix:        azureBlobPrefix,
	}, nil
}

// Write uploads data and returns the azure:// blob path
func (a *AzureBackupStore) Write(ctx context.Context, name string, data []byte) (string, error) {
	if name == "" {
		return "", NewValidationError("object name cannot be empty", nil)
	}

	blobName := a.prefix + sanitizeObjectName(name)
	blobURL := a.serviceURL.NewContainerURL(a.containerName).NewBlockBlobURL(blobName)

	// Block blob commit is atomic: the blob appears only after the final
	// block list is committed
	_, err := azblob.UploadBufferToBlockBlob(ctx, data, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/x-ndjson",
		},
	})
	if err != nil {
		return "", NewStorageError("failed to upload snapshot to Azure", err)
	}

	return fmt.Sprintf("azure://%s/%s", a.containerName, blobName), nil
}

// Read downloads the blob at path
func (a *AzureBackupStore) Read(ctx context.Context, path string) ([]byte, error) {
	container, blobName, err := splitObjectPath("azure", path)
	if err != nil {
		return nil, err
	}

	blobURL := a.serviceURL.NewContainerURL(container).NewBlockBlobURL(blobName)

	response, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if storageErr, ok := err.(azblob.StorageError); ok && storageErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil, NewNotFoundError(fmt.Sprintf("snapshot %s not found", path), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download snapshot %s from Azure", path), err)
	}

	body := response.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, NewStorageError("failed to read snapshot data", err)
	}

	return data, nil
}

// Delete removes the blob at path
func (a *AzureBackupStore) Delete(ctx context.Context, path string) error {
	container, blobName, err := splitObjectPath("azure", path)
	if err != nil {
		return err
	}

	blobURL := a.serviceURL.NewContainerURL(container).NewBlockBlobURL(blobName)

	_, err = blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		if storageErr, ok := err.(azblob.StorageError); ok && storageErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return NewNotFoundError(fmt.Sprintf("snapshot %s not found", path), err)
		}
		return NewStorageError(fmt.Sprintf("failed to delete snapshot %s from Azure", path), err)
	}

	return nil
}
