// Package noop provides a BlobStore that leaves artifacts where the capture
// tool wrote them.
package noop

import (
	"context"
	"fmt"
	"os"

	"github.com/jayteealao/htbase/internal/capture"
)

// BlobStore records the artifact in place without copying it anywhere.
type BlobStore struct{}

// New returns a no-op blob store.
func New() *BlobStore {
	return &BlobStore{}
}

// Upload stats the local file and returns its path as the stored URI.
func (s *BlobStore) Upload(_ context.Context, localPath, _ string) (capture.UploadResult, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return capture.UploadResult{}, fmt.Errorf("stat artifact: %w", err)
	}
	return capture.UploadResult{URI: localPath, SizeBytes: info.Size()}, nil
}
