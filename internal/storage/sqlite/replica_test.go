package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jayteealao/htbase/internal/capture"
)

func newTestReplica(t *testing.T) *Replica {
	t.Helper()
	r, err := New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.EnsureSchema(context.Background()))
	return r
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	r := newTestReplica(t)
	require.NoError(t, r.EnsureSchema(context.Background()))
}

func TestPutTargetUpsertKeepsExistingItemID(t *testing.T) {
	r := newTestReplica(t)
	ctx := context.Background()

	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, r.PutTarget(ctx, capture.Target{
		URL: "https://example.com/post", ItemID: "item-1", CreatedAt: now,
	}))
	// A later replication without an item id must not clear the stored one.
	require.NoError(t, r.PutTarget(ctx, capture.Target{
		URL: "https://example.com/post", TotalSizeBytes: 2048, CreatedAt: now,
	}))

	got, err := r.GetTargetByURL(ctx, "https://example.com/post")
	require.NoError(t, err)
	require.Equal(t, "item-1", got.ItemID)
	require.Equal(t, int64(2048), got.TotalSizeBytes)

	byItem, err := r.GetTargetByItemID(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, got.URL, byItem.URL)
}

func TestGetTargetNotFound(t *testing.T) {
	r := newTestReplica(t)
	_, err := r.GetTargetByURL(context.Background(), "https://nope.example.com")
	require.ErrorIs(t, err, capture.ErrNotFound)
	_, err = r.GetTargetByItemID(context.Background(), "")
	require.ErrorIs(t, err, capture.ErrNotFound)
}

func TestPutArtifactUpsertsByURLAndTool(t *testing.T) {
	r := newTestReplica(t)
	ctx := context.Background()
	url := "https://example.com/post"

	require.NoError(t, r.PutTarget(ctx, capture.Target{URL: url}))
	require.NoError(t, r.PutArtifact(ctx, url, capture.Artifact{
		Tool: "monolith", Status: capture.StatusPending, JobID: "job-1",
	}))
	require.NoError(t, r.PutArtifact(ctx, url, capture.Artifact{
		Tool: "monolith", Status: capture.StatusSuccess, JobID: "job-1",
		Success: true, SavedPath: "gs://bucket/item-1/monolith/page.html", SizeBytes: 4096,
	}))
	require.NoError(t, r.PutArtifact(ctx, url, capture.Artifact{
		Tool: "pdf", Status: capture.StatusFailed, ExitCode: 1,
	}))

	arts, err := r.ListArtifactsByURL(ctx, url)
	require.NoError(t, err)
	require.Len(t, arts, 2)
	require.Equal(t, "monolith", arts[0].Tool)
	require.True(t, arts[0].Success)
	require.Equal(t, int64(4096), arts[0].SizeBytes)
	require.Equal(t, capture.StatusFailed, arts[1].Status)
}

func TestDeleteArtifact(t *testing.T) {
	r := newTestReplica(t)
	ctx := context.Background()
	url := "https://example.com/post"

	require.NoError(t, r.PutArtifact(ctx, url, capture.Artifact{Tool: "pdf", Status: capture.StatusSuccess}))
	require.NoError(t, r.DeleteArtifact(ctx, url, "pdf"))

	arts, err := r.ListArtifactsByURL(ctx, url)
	require.NoError(t, err)
	require.Empty(t, arts)
}

func TestPutPageMetadata(t *testing.T) {
	r := newTestReplica(t)
	ctx := context.Background()

	require.NoError(t, r.PutPageMetadata(ctx, "https://example.com/post", capture.PageMetadata{
		Title: "Example Post", WordCount: 120,
	}))
	require.NoError(t, r.PutPageMetadata(ctx, "https://example.com/post", capture.PageMetadata{
		Title: "Example Post (updated)", WordCount: 150,
	}))
}
