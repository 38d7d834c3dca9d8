package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jayteealao/htbase/internal/capture"
)

func TestGetOrCreateTargetBackfillsButNeverOverwrites(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	first, err := s.GetOrCreateTarget(ctx, "https://example.com/post", "", "")
	require.NoError(t, err)
	require.Empty(t, first.ItemID)

	second, err := s.GetOrCreateTarget(ctx, "https://example.com/post", "item-1", "Example")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "item-1", second.ItemID)
	require.Equal(t, "Example", second.Name)

	third, err := s.GetOrCreateTarget(ctx, "https://example.com/post", "item-2", "Other")
	require.NoError(t, err)
	require.Equal(t, "item-1", third.ItemID, "item id backfills once, never overwrites")
	require.Equal(t, "Example", third.Name)
}

func TestGetOrCreateTargetConcurrentCallersConverge(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	const callers = 16
	ids := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target, err := s.GetOrCreateTarget(ctx, "https://example.com/post", "", "")
			require.NoError(t, err)
			ids[i] = target.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		require.Equal(t, ids[0], id, "all callers see the same target row")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	require.Len(t, s.targets, 1)
}

func TestFinalizeArtifactIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	target, err := s.GetOrCreateTarget(ctx, "https://example.com/post", "", "")
	require.NoError(t, err)
	artifact, err := s.GetOrCreateArtifact(ctx, target.ID, "monolith", "job-1")
	require.NoError(t, err)

	fin := capture.FinalizeRequest{Success: true, ExitCode: 0, SavedPath: "file:///blobs/1/monolith/page.html", SizeBytes: 42}
	require.NoError(t, s.FinalizeArtifact(ctx, artifact.ID, fin))
	first, err := s.GetArtifact(ctx, artifact.ID)
	require.NoError(t, err)

	require.NoError(t, s.FinalizeArtifact(ctx, artifact.ID, fin))
	second, err := s.GetArtifact(ctx, artifact.ID)
	require.NoError(t, err)

	first.UpdatedAt = second.UpdatedAt
	require.Equal(t, first, second, "re-finalizing with the same outcome leaves the row unchanged")
	require.Equal(t, capture.StatusSuccess, second.Status)
}

func TestGetOrCreateArtifactRequeueResetsToPending(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	target, err := s.GetOrCreateTarget(ctx, "https://example.com/post", "", "")
	require.NoError(t, err)

	artifact, err := s.GetOrCreateArtifact(ctx, target.ID, "pdf", "job-1")
	require.NoError(t, err)
	require.NoError(t, s.FinalizeArtifact(ctx, artifact.ID, capture.FinalizeRequest{ExitCode: 1}))

	requeued, err := s.GetOrCreateArtifact(ctx, target.ID, "pdf", "job-2")
	require.NoError(t, err)
	require.Equal(t, artifact.ID, requeued.ID)
	require.Equal(t, capture.StatusPending, requeued.Status)
	require.Equal(t, "job-2", requeued.JobID)

	// Without a job id the row is returned untouched.
	same, err := s.GetOrCreateArtifact(ctx, target.ID, "pdf", "")
	require.NoError(t, err)
	require.Equal(t, "job-2", same.JobID)
}

func TestFinalizeArtifactUnknownIDIsNoOp(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.NoError(t, s.FinalizeArtifact(context.Background(), 999, capture.FinalizeRequest{Success: true}))
}

func TestFindSuccessfulPrefersURLMatch(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	target, err := s.GetOrCreateTarget(ctx, "https://example.com/a", "item-1", "")
	require.NoError(t, err)
	artifact, err := s.GetOrCreateArtifact(ctx, target.ID, "monolith", "job-1")
	require.NoError(t, err)
	require.NoError(t, s.FinalizeArtifact(ctx, artifact.ID, capture.FinalizeRequest{
		Success: true, SavedPath: "file:///blobs/item-1/monolith/page.html", SizeBytes: 3,
	}))

	got, err := s.FindSuccessful(ctx, "item-1", "https://example.com/a", "monolith")
	require.NoError(t, err)
	require.Equal(t, artifact.ID, got.ID)

	// Same item id but a different URL must not match.
	_, err = s.FindSuccessful(ctx, "item-1", "https://example.com/b", "monolith")
	require.ErrorIs(t, err, capture.ErrNotFound)

	// Failed artifacts never match.
	pending, err := s.GetOrCreateArtifact(ctx, target.ID, "pdf", "job-1")
	require.NoError(t, err)
	require.NoError(t, s.FinalizeArtifact(ctx, pending.ID, capture.FinalizeRequest{ExitCode: 1}))
	_, err = s.FindSuccessful(ctx, "item-1", "https://example.com/a", "pdf")
	require.ErrorIs(t, err, capture.ErrNotFound)
}

func TestUpdateTargetTotalSizeSumsArtifacts(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	target, err := s.GetOrCreateTarget(ctx, "https://example.com/post", "", "")
	require.NoError(t, err)

	a1, err := s.GetOrCreateArtifact(ctx, target.ID, "monolith", "")
	require.NoError(t, err)
	require.NoError(t, s.FinalizeArtifact(ctx, a1.ID, capture.FinalizeRequest{Success: true, SizeBytes: 100}))
	a2, err := s.GetOrCreateArtifact(ctx, target.ID, "pdf", "")
	require.NoError(t, err)
	require.NoError(t, s.FinalizeArtifact(ctx, a2.ID, capture.FinalizeRequest{Success: true, SizeBytes: 50}))

	require.NoError(t, s.UpdateTargetTotalSize(ctx, target.ID))
	got, err := s.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	require.Equal(t, int64(150), got.TotalSizeBytes)
}
