// Package sqlite implements the secondary replica store on an embedded
// SQLite database. Rows are keyed by natural keys (target URL, tool) so the
// replica never depends on primary-store row ids.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jayteealao/htbase/internal/capture"
)

// Replica implements capture.ReplicaStore.
type Replica struct {
	db *sql.DB
}

// New opens (or creates) the replica database at path. An empty path opens
// an in-memory database.
func New(path string) (*Replica, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open replica database: %w", err)
	}
	// SQLite handles one writer; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping replica database: %w", err)
	}
	return &Replica{db: db}, nil
}

// Close closes the replica connection.
func (r *Replica) Close() error {
	return r.db.Close()
}

// EnsureSchema creates the replica tables when missing. Safe to call on
// every startup.
func (r *Replica) EnsureSchema(ctx context.Context) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS targets (
			url TEXT PRIMARY KEY,
			item_id TEXT,
			name TEXT,
			total_size_bytes INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP,
			replicated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_item_id ON targets (item_id)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			target_url TEXT NOT NULL,
			tool TEXT NOT NULL,
			status TEXT NOT NULL,
			job_id TEXT,
			success INTEGER NOT NULL DEFAULT 0,
			exit_code INTEGER NOT NULL DEFAULT 0,
			saved_path TEXT,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP,
			updated_at TIMESTAMP,
			replicated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (target_url, tool)
		)`,
		`CREATE TABLE IF NOT EXISTS page_metadata (
			target_url TEXT PRIMARY KEY,
			title TEXT,
			byline TEXT,
			site_name TEXT,
			description TEXT,
			language TEXT,
			word_count INTEGER NOT NULL DEFAULT 0,
			replicated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, schema := range schemas {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("ensure replica schema: %w", err)
		}
	}
	return nil
}

// PutTarget upserts a target row keyed by URL.
func (r *Replica) PutTarget(ctx context.Context, t capture.Target) error {
	if t.URL == "" {
		return fmt.Errorf("target url is required")
	}
	query := `
INSERT INTO targets (url, item_id, name, total_size_bytes, created_at, replicated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (url) DO UPDATE SET
	item_id = CASE WHEN excluded.item_id != '' THEN excluded.item_id ELSE targets.item_id END,
	name = CASE WHEN excluded.name != '' THEN excluded.name ELSE targets.name END,
	total_size_bytes = excluded.total_size_bytes,
	replicated_at = excluded.replicated_at`
	if _, err := r.db.ExecContext(ctx, query,
		t.URL, t.ItemID, t.Name, t.TotalSizeBytes, t.CreatedAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("replicate target: %w", err)
	}
	return nil
}

// PutArtifact upserts an artifact row keyed by (target URL, tool).
func (r *Replica) PutArtifact(ctx context.Context, targetURL string, a capture.Artifact) error {
	if targetURL == "" {
		return fmt.Errorf("target url is required")
	}
	query := `
INSERT INTO artifacts (target_url, tool, status, job_id, success, exit_code,
	saved_path, size_bytes, created_at, updated_at, replicated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (target_url, tool) DO UPDATE SET
	status = excluded.status,
	job_id = excluded.job_id,
	success = excluded.success,
	exit_code = excluded.exit_code,
	saved_path = excluded.saved_path,
	size_bytes = excluded.size_bytes,
	updated_at = excluded.updated_at,
	replicated_at = excluded.replicated_at`
	if _, err := r.db.ExecContext(ctx, query,
		targetURL, a.Tool, string(a.Status), a.JobID, a.Success, a.ExitCode,
		a.SavedPath, a.SizeBytes, a.CreatedAt, a.UpdatedAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("replicate artifact: %w", err)
	}
	return nil
}

// PutPageMetadata upserts page metadata keyed by target URL.
func (r *Replica) PutPageMetadata(ctx context.Context, targetURL string, meta capture.PageMetadata) error {
	if targetURL == "" {
		return fmt.Errorf("target url is required")
	}
	query := `
INSERT INTO page_metadata (target_url, title, byline, site_name, description, language, word_count, replicated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (target_url) DO UPDATE SET
	title = excluded.title,
	byline = excluded.byline,
	site_name = excluded.site_name,
	description = excluded.description,
	language = excluded.language,
	word_count = excluded.word_count,
	replicated_at = excluded.replicated_at`
	if _, err := r.db.ExecContext(ctx, query,
		targetURL, meta.Title, meta.Byline, meta.SiteName, meta.Description,
		meta.Language, meta.WordCount, time.Now().UTC()); err != nil {
		return fmt.Errorf("replicate page metadata: %w", err)
	}
	return nil
}

func (r *Replica) scanTarget(row *sql.Row) (capture.Target, error) {
	var t capture.Target
	var itemID, name sql.NullString
	var created sql.NullTime
	err := row.Scan(&t.URL, &itemID, &name, &t.TotalSizeBytes, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return capture.Target{}, capture.ErrNotFound
	}
	if err != nil {
		return capture.Target{}, fmt.Errorf("scan replica target: %w", err)
	}
	t.ItemID = itemID.String
	t.Name = name.String
	t.CreatedAt = created.Time
	return t, nil
}

// GetTargetByItemID looks a target up by item id.
func (r *Replica) GetTargetByItemID(ctx context.Context, itemID string) (capture.Target, error) {
	if itemID == "" {
		return capture.Target{}, capture.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT url, item_id, name, total_size_bytes, created_at FROM targets WHERE item_id = ? LIMIT 1`, itemID)
	return r.scanTarget(row)
}

// GetTargetByURL looks a target up by URL.
func (r *Replica) GetTargetByURL(ctx context.Context, url string) (capture.Target, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT url, item_id, name, total_size_bytes, created_at FROM targets WHERE url = ?`, url)
	return r.scanTarget(row)
}

// ListArtifactsByURL returns the replicated artifacts for a target URL.
func (r *Replica) ListArtifactsByURL(ctx context.Context, url string) ([]capture.Artifact, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT tool, status, job_id, success, exit_code, saved_path, size_bytes, created_at, updated_at
FROM artifacts WHERE target_url = ? ORDER BY tool`, url)
	if err != nil {
		return nil, fmt.Errorf("list replica artifacts: %w", err)
	}
	defer rows.Close()
	var out []capture.Artifact
	for rows.Next() {
		var a capture.Artifact
		var status string
		var jobID, savedPath sql.NullString
		var created, updated sql.NullTime
		if err := rows.Scan(&a.Tool, &status, &jobID, &a.Success, &a.ExitCode,
			&savedPath, &a.SizeBytes, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan replica artifact: %w", err)
		}
		a.Status = capture.ArtifactStatus(status)
		a.JobID = jobID.String
		a.SavedPath = savedPath.String
		a.CreatedAt = created.Time
		a.UpdatedAt = updated.Time
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replica artifacts: %w", err)
	}
	return out, nil
}

// DeleteArtifact removes one replicated artifact row.
func (r *Replica) DeleteArtifact(ctx context.Context, targetURL, tool string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE target_url = ? AND tool = ?`, targetURL, tool); err != nil {
		return fmt.Errorf("delete replica artifact: %w", err)
	}
	return nil
}
