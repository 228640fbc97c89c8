package ports

import (
	"context"
	"io"
)

// ObjectStorage keeps copies of uploaded guest lists.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, objectName, contentType string, reader io.Reader, size int64) (string, error)
	Remove(ctx context.Context, bucket, objectName string) error
}
