package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jayteealao/htbase/internal/capture"
)

func artifactRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "target_id", "tool", "status", "job_id", "success",
		"exit_code", "saved_path", "size_bytes", "created_at", "updated_at",
	})
}

func TestGetOrCreateTargetUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("INSERT INTO capture_targets").
		WithArgs("https://example.com/post", "item-1", "Example Post").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "item_id", "name", "total_size_bytes", "created_at"}).
			AddRow(int64(7), "https://example.com/post", "item-1", "Example Post", int64(0), now))

	target, err := store.GetOrCreateTarget(context.Background(), "https://example.com/post", "item-1", "Example Post")
	require.NoError(t, err)
	require.Equal(t, int64(7), target.ID)
	require.Equal(t, "item-1", target.ItemID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTargetNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM capture_targets WHERE id").
		WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "item_id", "name", "total_size_bytes", "created_at"}))

	_, err = store.GetTarget(context.Background(), 99)
	require.ErrorIs(t, err, capture.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateArtifactWithJobResetsToPending(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("INSERT INTO archive_artifacts").
		WithArgs(int64(7), "monolith", "job-2").
		WillReturnRows(artifactRows().
			AddRow(int64(3), int64(7), "monolith", "pending", "job-2", false,
				0, "", int64(0), now, nil))

	art, err := store.GetOrCreateArtifact(context.Background(), 7, "monolith", "job-2")
	require.NoError(t, err)
	require.Equal(t, capture.StatusPending, art.Status)
	require.Equal(t, "job-2", art.JobID)
	require.True(t, art.UpdatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeArtifactDerivesStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE archive_artifacts SET").
		WithArgs(int64(3), true, 0, "gs://bucket/item/monolith/page.html", int64(2048)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.FinalizeArtifact(context.Background(), 3, capture.FinalizeRequest{
		Success:   true,
		ExitCode:  0,
		SavedPath: "gs://bucket/item/monolith/page.html",
		SizeBytes: 2048,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeArtifactIdempotent(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	// Repeating the same outcome issues the same update and leaves the row
	// in the same terminal state.
	for i := 0; i < 2; i++ {
		mock.ExpectExec("UPDATE archive_artifacts SET").
			WithArgs(int64(3), true, 0, "gs://bucket/item/monolith/page.html", int64(2048)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	}

	fin := capture.FinalizeRequest{
		Success:   true,
		ExitCode:  0,
		SavedPath: "gs://bucket/item/monolith/page.html",
		SizeBytes: 2048,
	}
	require.NoError(t, store.FinalizeArtifact(context.Background(), 3, fin))
	require.NoError(t, store.FinalizeArtifact(context.Background(), 3, fin))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeArtifactMissingRowIsNoOp(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE archive_artifacts SET").
		WithArgs(int64(404), false, 1, "", int64(0)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.FinalizeArtifact(context.Background(), 404, capture.FinalizeRequest{ExitCode: 1})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSuccessfulFallsBackToItemID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	targetCols := []string{"id", "url", "item_id", "name", "total_size_bytes", "created_at"}

	mock.ExpectQuery("SELECT (.+) FROM capture_targets WHERE url").
		WithArgs("https://example.com/post").
		WillReturnRows(pgxmock.NewRows(targetCols))
	mock.ExpectQuery("SELECT (.+) FROM capture_targets WHERE item_id").
		WithArgs("item-1").
		WillReturnRows(pgxmock.NewRows(targetCols).
			AddRow(int64(7), "https://example.com/post", "item-1", "", int64(0), now))
	mock.ExpectQuery("SELECT (.+) FROM archive_artifacts").
		WithArgs(int64(7), "pdf").
		WillReturnRows(artifactRows().
			AddRow(int64(9), int64(7), "pdf", "success", "", true,
				0, "gs://bucket/item-1/pdf/page.pdf", int64(4096), now, &now))

	art, err := store.FindSuccessful(context.Background(), "item-1", "https://example.com/post", "pdf")
	require.NoError(t, err)
	require.True(t, art.Success)
	require.Equal(t, "gs://bucket/item-1/pdf/page.pdf", art.SavedPath)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSuccessfulRejectsStaleItemID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	targetCols := []string{"id", "url", "item_id", "name", "total_size_bytes", "created_at"}

	mock.ExpectQuery("SELECT (.+) FROM capture_targets WHERE url").
		WithArgs("https://example.com/new").
		WillReturnRows(pgxmock.NewRows(targetCols))
	mock.ExpectQuery("SELECT (.+) FROM capture_targets WHERE item_id").
		WithArgs("item-1").
		WillReturnRows(pgxmock.NewRows(targetCols).
			AddRow(int64(7), "https://example.com/old", "item-1", "", int64(0), now))

	_, err = store.FindSuccessful(context.Background(), "item-1", "https://example.com/new", "pdf")
	require.ErrorIs(t, err, capture.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteArtifactsReportsAffected(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM archive_artifacts").
		WithArgs([]int64{3, 4, 404}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err := store.DeleteArtifacts(context.Background(), []int64{3, 4, 404})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteArtifactsEmptySkipsQuery(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	n, err := store.DeleteArtifacts(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalCreateAndFinalizeExecution(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	journal, err := NewJournal(mock)
	require.NoError(t, err)

	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(3 * time.Second)

	mock.ExpectQuery("INSERT INTO command_executions").
		WithArgs("monolith 'https://example.com'", start, float64(300), int64(7), "monolith").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := journal.CreateExecution(context.Background(), capture.Execution{
		Command:        "monolith 'https://example.com'",
		StartTime:      start,
		TimeoutSeconds: 300,
		TargetID:       7,
		Tool:           "monolith",
	})
	require.NoError(t, err)
	require.Equal(t, int64(11), id)

	mock.ExpectExec("UPDATE command_executions SET").
		WithArgs(int64(11), end, 0, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, journal.FinalizeExecution(context.Background(), 11, end, 0, false))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalListOutputOrdersByTimestampThenID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	journal, err := NewJournal(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT (.+) FROM command_output_lines").
		WithArgs(int64(11)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "execution_id", "timestamp", "stream", "line", "line_number"}).
			AddRow(int64(1), int64(11), now, "stdin", "monolith 'https://example.com'", 1).
			AddRow(int64(2), int64(11), now.Add(time.Millisecond), "stdout", "fetching page", 1).
			AddRow(int64(3), int64(11), now.Add(2*time.Millisecond), "stderr", "warn: slow asset", 1))

	lines, err := journal.ListOutput(context.Background(), 11)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Equal(t, capture.StreamStdin, lines[0].Stream)
	require.Equal(t, capture.StreamStdout, lines[1].Stream)
	require.NoError(t, mock.ExpectationsWereMet())
}
