// Package postgres provides the primary Postgres-backed persistence
// implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jayteealao/htbase/internal/capture"
)

// db is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type db interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements capture.Store on Postgres.
type Store struct {
	pool db
}

// NewStore connects a pool and returns a Store.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool db) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const targetColumns = `id, url, COALESCE(item_id, ''), COALESCE(name, ''), COALESCE(total_size_bytes, 0), created_at`

func scanTarget(row pgx.Row) (capture.Target, error) {
	var t capture.Target
	err := row.Scan(&t.ID, &t.URL, &t.ItemID, &t.Name, &t.TotalSizeBytes, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return capture.Target{}, capture.ErrNotFound
	}
	if err != nil {
		return capture.Target{}, fmt.Errorf("scan target: %w", err)
	}
	return t, nil
}

// GetOrCreateTarget upserts the target row. The unique url constraint
// resolves concurrent first-references, and COALESCE backfills item_id/name
// only where currently null.
func (s *Store) GetOrCreateTarget(ctx context.Context, url, itemID, name string) (capture.Target, error) {
	if url == "" {
		return capture.Target{}, fmt.Errorf("url is required")
	}
	query := `
INSERT INTO capture_targets (url, item_id, name)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
ON CONFLICT (url) DO UPDATE SET
	item_id = COALESCE(capture_targets.item_id, EXCLUDED.item_id),
	name = COALESCE(capture_targets.name, EXCLUDED.name)
RETURNING ` + targetColumns
	t, err := scanTarget(s.pool.QueryRow(ctx, query, url, itemID, name))
	if err != nil {
		return capture.Target{}, fmt.Errorf("upsert target: %w", err)
	}
	return t, nil
}

// GetTarget returns a target by id.
func (s *Store) GetTarget(ctx context.Context, id int64) (capture.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM capture_targets WHERE id = $1`
	return scanTarget(s.pool.QueryRow(ctx, query, id))
}

// GetTargetByItemID returns the target carrying the item id.
func (s *Store) GetTargetByItemID(ctx context.Context, itemID string) (capture.Target, error) {
	if itemID == "" {
		return capture.Target{}, capture.ErrNotFound
	}
	query := `SELECT ` + targetColumns + ` FROM capture_targets WHERE item_id = $1 ORDER BY id LIMIT 1`
	return scanTarget(s.pool.QueryRow(ctx, query, itemID))
}

// UpdateTargetTotalSize recomputes total_size_bytes from the target's
// artifacts.
func (s *Store) UpdateTargetTotalSize(ctx context.Context, targetID int64) error {
	query := `
UPDATE capture_targets
SET total_size_bytes = (
	SELECT COALESCE(SUM(size_bytes), 0) FROM archive_artifacts WHERE target_id = $1
)
WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, targetID); err != nil {
		return fmt.Errorf("update target total size: %w", err)
	}
	return nil
}

const artifactColumns = `id, target_id, tool, status, COALESCE(job_id, ''), success,
	COALESCE(exit_code, 0), COALESCE(saved_path, ''), COALESCE(size_bytes, 0), created_at, updated_at`

func scanArtifact(row pgx.Row) (capture.Artifact, error) {
	var a capture.Artifact
	var updated *time.Time
	err := row.Scan(&a.ID, &a.TargetID, &a.Tool, &a.Status, &a.JobID, &a.Success,
		&a.ExitCode, &a.SavedPath, &a.SizeBytes, &a.CreatedAt, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return capture.Artifact{}, capture.ErrNotFound
	}
	if err != nil {
		return capture.Artifact{}, fmt.Errorf("scan artifact: %w", err)
	}
	if updated != nil {
		a.UpdatedAt = *updated
	}
	return a, nil
}

func scanArtifacts(rows pgx.Rows) ([]capture.Artifact, error) {
	defer rows.Close()
	var out []capture.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

// GetOrCreateArtifact returns the (target, tool) artifact, inserting a
// pending row if absent. When a job id is supplied an existing row is reset
// to pending with the new job id -- a requeue, not a duplicate.
func (s *Store) GetOrCreateArtifact(ctx context.Context, targetID int64, tool, jobID string) (capture.Artifact, error) {
	var query string
	var args []any
	if jobID != "" {
		query = `
INSERT INTO archive_artifacts (target_id, tool, job_id, status)
VALUES ($1, $2, $3, 'pending')
ON CONFLICT (target_id, tool) DO UPDATE SET
	job_id = EXCLUDED.job_id,
	status = 'pending',
	updated_at = now()
RETURNING ` + artifactColumns
		args = []any{targetID, tool, jobID}
	} else {
		// The no-op DO UPDATE lets RETURNING surface the existing row
		// unchanged.
		query = `
INSERT INTO archive_artifacts (target_id, tool, status)
VALUES ($1, $2, 'pending')
ON CONFLICT (target_id, tool) DO UPDATE SET tool = EXCLUDED.tool
RETURNING ` + artifactColumns
		args = []any{targetID, tool}
	}
	a, err := scanArtifact(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return capture.Artifact{}, fmt.Errorf("upsert artifact: %w", err)
	}
	return a, nil
}

// FinalizeArtifact records the outcome of one capture attempt. Status is
// derived from the success flag in the same statement so the two can never
// disagree. A missing row is a no-op.
func (s *Store) FinalizeArtifact(ctx context.Context, artifactID int64, fin capture.FinalizeRequest) error {
	query := `
UPDATE archive_artifacts SET
	success = $2,
	exit_code = $3,
	saved_path = NULLIF($4, ''),
	size_bytes = CASE WHEN $5::bigint > 0 THEN $5::bigint ELSE size_bytes END,
	status = CASE WHEN $2 THEN 'success' ELSE 'failed' END,
	updated_at = now()
WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, artifactID, fin.Success, fin.ExitCode, fin.SavedPath, fin.SizeBytes); err != nil {
		return fmt.Errorf("finalize artifact: %w", err)
	}
	return nil
}

// FindSuccessful resolves the target by exact URL; the item-id fallback is
// only trusted when the stored URL still matches the requested one, which
// guards against item ids that pointed at a different URL historically.
func (s *Store) FindSuccessful(ctx context.Context, itemID, url, tool string) (capture.Artifact, error) {
	target, err := scanTarget(s.pool.QueryRow(ctx,
		`SELECT `+targetColumns+` FROM capture_targets WHERE url = $1`, url))
	if errors.Is(err, capture.ErrNotFound) && itemID != "" {
		target, err = s.GetTargetByItemID(ctx, itemID)
		if err == nil && target.URL != url {
			return capture.Artifact{}, capture.ErrNotFound
		}
	}
	if err != nil {
		return capture.Artifact{}, err
	}
	query := `SELECT ` + artifactColumns + `
FROM archive_artifacts
WHERE target_id = $1 AND tool = $2 AND success = true
LIMIT 1`
	return scanArtifact(s.pool.QueryRow(ctx, query, target.ID, tool))
}

// GetArtifact returns an artifact by id.
func (s *Store) GetArtifact(ctx context.Context, id int64) (capture.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM archive_artifacts WHERE id = $1`
	return scanArtifact(s.pool.QueryRow(ctx, query, id))
}

// ListArtifactsByTarget returns a target's artifacts ordered by id.
func (s *Store) ListArtifactsByTarget(ctx context.Context, targetID int64) ([]capture.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM archive_artifacts WHERE target_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, targetID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts by target: %w", err)
	}
	return scanArtifacts(rows)
}

// ListArtifactsByToolStatus filters artifacts by tool and status set, most
// recently updated first.
func (s *Store) ListArtifactsByToolStatus(ctx context.Context, tool string, statuses []capture.ArtifactStatus, limit int) ([]capture.Artifact, error) {
	if limit <= 0 {
		limit = 100
	}
	vals := make([]string, 0, len(statuses))
	for _, st := range statuses {
		vals = append(vals, string(st))
	}
	query := `SELECT ` + artifactColumns + `
FROM archive_artifacts
WHERE ($1 = '' OR tool = $1)
	AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
ORDER BY updated_at DESC NULLS LAST, created_at DESC
LIMIT $3`
	rows, err := s.pool.Query(ctx, query, tool, vals, limit)
	if err != nil {
		return nil, fmt.Errorf("list artifacts by tool/status: %w", err)
	}
	return scanArtifacts(rows)
}

// ListArtifactsByJob returns artifacts carrying the given job id.
func (s *Store) ListArtifactsByJob(ctx context.Context, jobID string) ([]capture.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM archive_artifacts WHERE job_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts by job: %w", err)
	}
	return scanArtifacts(rows)
}

// ListArtifactsRecent pages through artifacts newest-first.
func (s *Store) ListArtifactsRecent(ctx context.Context, limit, offset int) ([]capture.Artifact, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + artifactColumns + `
FROM archive_artifacts
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list recent artifacts: %w", err)
	}
	return scanArtifacts(rows)
}

// DeleteArtifacts removes the given artifact ids, returning how many rows
// were actually deleted. Unknown ids are skipped silently.
func (s *Store) DeleteArtifacts(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM archive_artifacts WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete artifacts: %w", err)
	}
	return tag.RowsAffected(), nil
}
