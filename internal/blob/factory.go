// Package blob selects the configured blob store provider.
package blob

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"

	"github.com/jayteealao/htbase/internal/blob/gcs"
	"github.com/jayteealao/htbase/internal/blob/local"
	"github.com/jayteealao/htbase/internal/blob/noop"
	"github.com/jayteealao/htbase/internal/capture"
	"github.com/jayteealao/htbase/internal/config"
)

// Open builds the BlobStore named by cfg.Provider. The returned closer is
// non-nil only for providers holding external connections.
func Open(ctx context.Context, cfg config.StorageConfig) (capture.BlobStore, func() error, error) {
	switch cfg.Provider {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil
	case "local":
		store, err := local.New(cfg.LocalDir, cfg.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "noop":
		return noop.New(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
}
