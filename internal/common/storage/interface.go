package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the object storage operations used for problem data and report archives.
type ObjectStorage interface {
	// PutObject uploads sizeBytes bytes from reader; sizeBytes may be -1 when unknown.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// ListObjects streams every object below prefix.
	ListObjects(ctx context.Context, bucket, prefix string) <-chan ObjectInfo
}

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key       string
	SizeBytes int64
	Err       error
}
