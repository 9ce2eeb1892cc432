package storage

import (
	"context"
	"io"
)

// FileInfo is the external view of a stored file: its storage name and the
// URL it can be fetched from.
type FileInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Storage defines a generic file storage interface. The local upload
// directory and the Azure mirror both implement it.
type Storage interface {
	ListFiles(ctx context.Context) ([]FileInfo, error)
	DownloadFile(ctx context.Context, name string) (io.ReadCloser, error)
	UploadFile(ctx context.Context, name string, data io.Reader) (FileInfo, error)
	DeleteFile(ctx context.Context, name string) error
}
