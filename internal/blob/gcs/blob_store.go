// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/jayteealao/htbase/internal/capture"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore uploads capture artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Upload streams the local file to the bucket and returns its gs:// URI and
// byte size.
func (s *BlobStore) Upload(ctx context.Context, localPath, objectPath string) (capture.UploadResult, error) {
	if strings.TrimSpace(objectPath) == "" {
		return capture.UploadResult{}, fmt.Errorf("object path is required")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return capture.UploadResult{}, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	object := objectPath
	if s.prefix != "" {
		object = path.Join(s.prefix, objectPath)
	}

	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	n, err := io.Copy(writer, f)
	if err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return capture.UploadResult{}, fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return capture.UploadResult{}, fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return capture.UploadResult{}, fmt.Errorf("close writer: %w", err)
	}
	return capture.UploadResult{
		URI:       fmt.Sprintf("gs://%s/%s", s.bucket, object),
		SizeBytes: n,
	}, nil
}
