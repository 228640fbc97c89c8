package minio

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/njprem/Visitor_Invite_Console/internal/repository/ports"
)

func NewClient(endpoint, key, secret string, useSSL bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(key, secret, ""),
		Secure: useSSL,
	})
}

// ObjectStorage archives uploaded guest lists in a MinIO bucket.
type ObjectStorage struct {
	client    *minio.Client
	publicURL string
}

var _ ports.ObjectStorage = (*ObjectStorage)(nil)

func NewObjectStorage(client *minio.Client, publicURL string) *ObjectStorage {
	return &ObjectStorage{client: client, publicURL: strings.TrimRight(strings.TrimSpace(publicURL), "/")}
}

// EnsureBucket creates bucket when it does not exist yet.
func (s *ObjectStorage) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("minio: check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("minio: create bucket %s: %w", bucket, err)
	}
	return nil
}

func (s *ObjectStorage) Upload(ctx context.Context, bucket, objectName, contentType string, reader io.Reader, size int64) (string, error) {
	if _, err := s.client.PutObject(ctx, bucket, objectName, reader, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("minio: put %s/%s: %w", bucket, objectName, err)
	}
	return ObjectURL(s.publicURL, bucket, objectName), nil
}

func (s *ObjectStorage) Remove(ctx context.Context, bucket, objectName string) error {
	if err := s.client.RemoveObject(ctx, bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio: remove %s/%s: %w", bucket, objectName, err)
	}
	return nil
}

// ObjectURL joins the public endpoint with bucket and key. Without a public
// endpoint only the bucket-relative path is returned.
func ObjectURL(publicURL, bucket, objectName string) string {
	path := strings.TrimLeft(objectName, "/")
	if publicURL == "" {
		return bucket + "/" + path
	}
	return strings.TrimRight(publicURL, "/") + "/" + bucket + "/" + path
}
