package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrInvalidKey       = errors.New("invalid storage key")
	ErrFileNotFound     = errors.New("file not found")
	ErrInvalidSignature = errors.New("invalid or expired upload signature")
	ErrFileTooLarge     = errors.New("file exceeds the maximum size")
)

// Store is the object storage used for condition photos and rental
// contracts. Only the local filesystem backend is implemented; a cloud
// backend would hand out real presigned URLs through the same methods.
type Store interface {
	// GenerateUploadURL returns a URL the client PUTs the object to.
	GenerateUploadURL(ctx context.Context, key string, contentType string, expiresIn time.Duration) (string, error)

	GenerateDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, error)

	// FileExists checks if a file exists and returns its size
	FileExists(ctx context.Context, key string) (exists bool, size int64, err error)

	DeleteFile(ctx context.Context, key string) error

	SaveFile(ctx context.Context, key string, reader io.Reader) error

	ReadFile(ctx context.Context, key string) (io.ReadCloser, error)
}
