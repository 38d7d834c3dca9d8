// Package local provides a filesystem BlobStore for single-node deployments
// and tests.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jayteealao/htbase/internal/capture"
)

// BlobStore copies capture artifacts under a root directory.
type BlobStore struct {
	root   string
	prefix string
}

// New creates a filesystem blob store rooted at dir.
func New(dir, prefix string) (*BlobStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &BlobStore{root: dir, prefix: strings.Trim(prefix, "/")}, nil
}

// Upload copies the local file under the root and returns a file:// URI and
// the copied byte count.
func (s *BlobStore) Upload(_ context.Context, localPath, objectPath string) (capture.UploadResult, error) {
	if strings.TrimSpace(objectPath) == "" {
		return capture.UploadResult{}, fmt.Errorf("object path is required")
	}
	src, err := os.Open(localPath)
	if err != nil {
		return capture.UploadResult{}, fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	rel := objectPath
	if s.prefix != "" {
		rel = filepath.Join(s.prefix, objectPath)
	}
	dest := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return capture.UploadResult{}, fmt.Errorf("create blob directory: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return capture.UploadResult{}, fmt.Errorf("create blob: %w", err)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		_ = out.Close()
		return capture.UploadResult{}, fmt.Errorf("copy blob: %w", err)
	}
	if err := out.Close(); err != nil {
		return capture.UploadResult{}, fmt.Errorf("close blob: %w", err)
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		abs = dest
	}
	return capture.UploadResult{
		URI:       "file://" + filepath.ToSlash(abs),
		SizeBytes: n,
	}, nil
}
