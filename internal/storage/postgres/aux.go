package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jayteealao/htbase/internal/capture"
)

// UpsertPageMetadata stores readability-extracted metadata for a target,
// replacing any previous version.
func (s *Store) UpsertPageMetadata(ctx context.Context, meta capture.PageMetadata) error {
	if meta.TargetID == 0 {
		return fmt.Errorf("target id is required")
	}
	query := `
INSERT INTO page_metadata (target_id, title, byline, site_name, description, language, word_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (target_id) DO UPDATE SET
	title = EXCLUDED.title,
	byline = EXCLUDED.byline,
	site_name = EXCLUDED.site_name,
	description = EXCLUDED.description,
	language = EXCLUDED.language,
	word_count = EXCLUDED.word_count`
	if _, err := s.pool.Exec(ctx, query,
		meta.TargetID, meta.Title, meta.Byline, meta.SiteName, meta.Description, meta.Language, meta.WordCount); err != nil {
		return fmt.Errorf("upsert page metadata: %w", err)
	}
	return nil
}

// GetPageMetadata returns the stored page metadata for a target.
func (s *Store) GetPageMetadata(ctx context.Context, targetID int64) (capture.PageMetadata, error) {
	query := `
SELECT target_id, title, byline, site_name, description, language, word_count
FROM page_metadata WHERE target_id = $1`
	var m capture.PageMetadata
	err := s.pool.QueryRow(ctx, query, targetID).Scan(
		&m.TargetID, &m.Title, &m.Byline, &m.SiteName, &m.Description, &m.Language, &m.WordCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return capture.PageMetadata{}, capture.ErrNotFound
	}
	if err != nil {
		return capture.PageMetadata{}, fmt.Errorf("get page metadata: %w", err)
	}
	return m, nil
}

// UpsertSummary stores one summary per (target, summary type).
func (s *Store) UpsertSummary(ctx context.Context, sum capture.Summary) error {
	if sum.TargetID == 0 {
		return fmt.Errorf("target id is required")
	}
	if sum.SummaryType == "" {
		sum.SummaryType = "default"
	}
	query := `
INSERT INTO article_summaries (target_id, summary_type, summary_text, model_name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (target_id, summary_type) DO UPDATE SET
	summary_text = EXCLUDED.summary_text,
	model_name = EXCLUDED.model_name`
	if _, err := s.pool.Exec(ctx, query, sum.TargetID, sum.SummaryType, sum.Text, sum.ModelName); err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// ReplaceTags swaps the full tag set for a target. Delete-then-insert keeps
// the result exactly the caller's list.
func (s *Store) ReplaceTags(ctx context.Context, targetID int64, tags []capture.Tag) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM article_tags WHERE target_id = $1`, targetID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO article_tags (target_id, tag, confidence) VALUES ($1, $2, $3)`,
			targetID, tag.Tag, tag.Confidence); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	return nil
}

// ReplaceEntities swaps the full named-entity set for a target.
func (s *Store) ReplaceEntities(ctx context.Context, targetID int64, entities []capture.Entity) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM article_entities WHERE target_id = $1`, targetID); err != nil {
		return fmt.Errorf("clear entities: %w", err)
	}
	for _, ent := range entities {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO article_entities (target_id, entity, entity_type, confidence) VALUES ($1, $2, $3, $4)`,
			targetID, ent.Entity, ent.EntityType, ent.Confidence); err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
	}
	return nil
}
