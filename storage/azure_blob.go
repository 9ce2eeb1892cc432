package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// AzureBlobStorage stores files as block blobs in a single container.
type AzureBlobStorage struct {
	containerClient *container.Client
	containerName   string
	publicBaseURL   string
}

func NewAzureBlobStorage(accountName, accountKey, containerName, publicBaseURL string) (*AzureBlobStorage, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, err
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, err
	}
	containerClient := client.ServiceClient().NewContainerClient(containerName)
	if publicBaseURL == "" {
		publicBaseURL = containerClient.URL()
	}
	return &AzureBlobStorage{
		containerClient: containerClient,
		containerName:   containerName,
		publicBaseURL:   strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (s *AzureBlobStorage) Name() string {
	return s.containerName
}

// EnsureContainer creates the container when it does not exist yet.
func (s *AzureBlobStorage) EnsureContainer(ctx context.Context) error {
	_, err := s.containerClient.Create(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", s.containerName, err)
	}
	return nil
}

func (s *AzureBlobStorage) DownloadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	blob := s.containerClient.NewBlockBlobClient(name)
	resp, err := blob.DownloadStream(ctx, nil)
	if err != nil {
		return nil, s.mapError(name, err)
	}
	return resp.Body, nil
}

func (s *AzureBlobStorage) ListFiles(ctx context.Context) ([]FileInfo, error) {
	pager := s.containerClient.NewListBlobsFlatPager(nil)
	files := []FileInfo{}
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %w", ErrStorageIO, s.containerName, err)
		}
		for _, blob := range page.Segment.BlobItems {
			files = append(files, FileInfo{
				Name: *blob.Name,
				URL:  s.blobURL(*blob.Name),
			})
		}
	}
	return files, nil
}

func (s *AzureBlobStorage) UploadFile(ctx context.Context, name string, data io.Reader) (FileInfo, error) {
	blobClient := s.containerClient.NewBlockBlobClient(name)
	_, err := blobClient.UploadStream(ctx, data, &blockblob.UploadStreamOptions{})
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: upload %s: %w", ErrStorageIO, name, err)
	}
	return FileInfo{
		Name: name,
		URL:  s.blobURL(name),
	}, nil
}

func (s *AzureBlobStorage) DeleteFile(ctx context.Context, name string) error {
	blobClient := s.containerClient.NewBlobClient(name)
	_, err := blobClient.Delete(ctx, nil)
	if err != nil {
		return s.mapError(name, err)
	}
	return nil
}

func (s *AzureBlobStorage) blobURL(name string) string {
	return s.publicBaseURL + "/" + url.PathEscape(name)
}

func (s *AzureBlobStorage) mapError(name string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageIO, name, err)
}
