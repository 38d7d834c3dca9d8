// Package dual coordinates writes across the primary store and the optional
// replica. The primary is always authoritative: every mutation lands there
// first, and reads are served from it. The replica receives a filtered copy
// (targets, artifacts, page metadata) keyed by natural keys.
package dual

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jayteealao/htbase/internal/capture"
	"github.com/jayteealao/htbase/internal/metrics"
)

// FailureMode controls how replica write failures are surfaced.
type FailureMode string

const (
	// FailFast returns the replica error to the caller. The primary write
	// has already committed at that point; there is no rollback.
	FailFast FailureMode = "fail_fast"
	// LogAndContinue records the failure and keeps going.
	LogAndContinue FailureMode = "log_and_continue"
)

// ParseFailureMode validates a configured failure mode string.
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(s) {
	case FailFast, LogAndContinue:
		return FailureMode(s), nil
	case "":
		return LogAndContinue, nil
	}
	return "", fmt.Errorf("unknown replica failure mode %q", s)
}

// Coordinator implements capture.Store over a primary store and a replica.
type Coordinator struct {
	primary       capture.Store
	replica       capture.ReplicaStore
	mode          FailureMode
	lazyMigration bool
	logger        *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFailureMode sets how replica failures are handled.
func WithFailureMode(mode FailureMode) Option {
	return func(c *Coordinator) { c.mode = mode }
}

// WithLazyMigration enables backfilling the replica on primary read hits
// that the replica is missing.
func WithLazyMigration(enabled bool) Option {
	return func(c *Coordinator) { c.lazyMigration = enabled }
}

// New builds a Coordinator. The replica is required; use the primary store
// directly when replication is disabled.
func New(primary capture.Store, replica capture.ReplicaStore, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary store is required")
	}
	if replica == nil {
		return nil, fmt.Errorf("replica store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		primary: primary,
		replica: replica,
		mode:    LogAndContinue,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// replicate applies one replica write under the configured failure mode.
func (c *Coordinator) replicate(op string, fn func() error) error {
	err := fn()
	if err == nil {
		metrics.ObserveReplicaWrite(op, "ok")
		return nil
	}
	metrics.ObserveReplicaWrite(op, "error")
	if c.mode == FailFast {
		return fmt.Errorf("replica %s: %w", op, err)
	}
	c.logger.Warn("replica write failed, continuing",
		zap.String("op", op),
		zap.Error(err))
	return nil
}

// GetOrCreateTarget writes through to the primary and mirrors the resulting
// row to the replica.
func (c *Coordinator) GetOrCreateTarget(ctx context.Context, url, itemID, name string) (capture.Target, error) {
	target, err := c.primary.GetOrCreateTarget(ctx, url, itemID, name)
	if err != nil {
		return capture.Target{}, err
	}
	if err := c.replicate("put_target", func() error {
		return c.replica.PutTarget(ctx, target)
	}); err != nil {
		return capture.Target{}, err
	}
	return target, nil
}

func (c *Coordinator) GetTarget(ctx context.Context, id int64) (capture.Target, error) {
	return c.primary.GetTarget(ctx, id)
}

// GetTargetByItemID reads from the primary. On a hit with lazy migration
// enabled, a replica miss for the same URL triggers a backfill of the target,
// its artifacts, and its page metadata. Backfill failures never surface.
func (c *Coordinator) GetTargetByItemID(ctx context.Context, itemID string) (capture.Target, error) {
	target, err := c.primary.GetTargetByItemID(ctx, itemID)
	if err != nil {
		return capture.Target{}, err
	}
	if c.lazyMigration {
		c.backfill(ctx, target)
	}
	return target, nil
}

// backfill copies one target and its dependents into the replica when the
// replica has no row for the URL yet.
func (c *Coordinator) backfill(ctx context.Context, target capture.Target) {
	if _, err := c.replica.GetTargetByURL(ctx, target.URL); err == nil {
		return
	} else if !errors.Is(err, capture.ErrNotFound) {
		c.logger.Warn("replica probe failed, skipping backfill",
			zap.String("url", target.URL), zap.Error(err))
		return
	}

	if err := c.replica.PutTarget(ctx, target); err != nil {
		metrics.ObserveReplicaWrite("backfill_target", "error")
		c.logger.Warn("backfill target failed", zap.String("url", target.URL), zap.Error(err))
		return
	}
	metrics.ObserveReplicaWrite("backfill_target", "ok")

	artifacts, err := c.primary.ListArtifactsByTarget(ctx, target.ID)
	if err != nil {
		c.logger.Warn("backfill artifact listing failed", zap.Int64("target_id", target.ID), zap.Error(err))
		return
	}
	for _, a := range artifacts {
		if err := c.replica.PutArtifact(ctx, target.URL, a); err != nil {
			metrics.ObserveReplicaWrite("backfill_artifact", "error")
			c.logger.Warn("backfill artifact failed",
				zap.String("url", target.URL), zap.String("tool", a.Tool), zap.Error(err))
			continue
		}
		metrics.ObserveReplicaWrite("backfill_artifact", "ok")
	}

	meta, err := c.primary.GetPageMetadata(ctx, target.ID)
	if err != nil {
		if !errors.Is(err, capture.ErrNotFound) {
			c.logger.Warn("backfill metadata read failed", zap.Int64("target_id", target.ID), zap.Error(err))
		}
		return
	}
	if err := c.replica.PutPageMetadata(ctx, target.URL, meta); err != nil {
		metrics.ObserveReplicaWrite("backfill_metadata", "error")
		c.logger.Warn("backfill metadata failed", zap.String("url", target.URL), zap.Error(err))
		return
	}
	metrics.ObserveReplicaWrite("backfill_metadata", "ok")
}

// UpdateTargetTotalSize updates the primary and mirrors the refreshed row.
func (c *Coordinator) UpdateTargetTotalSize(ctx context.Context, targetID int64) error {
	if err := c.primary.UpdateTargetTotalSize(ctx, targetID); err != nil {
		return err
	}
	target, err := c.primary.GetTarget(ctx, targetID)
	if err != nil {
		return err
	}
	return c.replicate("put_target", func() error {
		return c.replica.PutTarget(ctx, target)
	})
}

// GetOrCreateArtifact writes through to the primary and mirrors the row
// keyed by the owning target's URL.
func (c *Coordinator) GetOrCreateArtifact(ctx context.Context, targetID int64, tool, jobID string) (capture.Artifact, error) {
	artifact, err := c.primary.GetOrCreateArtifact(ctx, targetID, tool, jobID)
	if err != nil {
		return capture.Artifact{}, err
	}
	target, err := c.primary.GetTarget(ctx, targetID)
	if err != nil {
		return capture.Artifact{}, err
	}
	if err := c.replicate("put_artifact", func() error {
		return c.replica.PutArtifact(ctx, target.URL, artifact)
	}); err != nil {
		return capture.Artifact{}, err
	}
	return artifact, nil
}

// FinalizeArtifact finalizes on the primary and mirrors the updated row.
// A primary no-op (unknown artifact id) replicates nothing.
func (c *Coordinator) FinalizeArtifact(ctx context.Context, artifactID int64, fin capture.FinalizeRequest) error {
	if err := c.primary.FinalizeArtifact(ctx, artifactID, fin); err != nil {
		return err
	}
	artifact, err := c.primary.GetArtifact(ctx, artifactID)
	if errors.Is(err, capture.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	target, err := c.primary.GetTarget(ctx, artifact.TargetID)
	if err != nil {
		return err
	}
	return c.replicate("put_artifact", func() error {
		return c.replica.PutArtifact(ctx, target.URL, artifact)
	})
}

func (c *Coordinator) FindSuccessful(ctx context.Context, itemID, url, tool string) (capture.Artifact, error) {
	return c.primary.FindSuccessful(ctx, itemID, url, tool)
}

func (c *Coordinator) GetArtifact(ctx context.Context, id int64) (capture.Artifact, error) {
	return c.primary.GetArtifact(ctx, id)
}

func (c *Coordinator) ListArtifactsByTarget(ctx context.Context, targetID int64) ([]capture.Artifact, error) {
	return c.primary.ListArtifactsByTarget(ctx, targetID)
}

func (c *Coordinator) ListArtifactsByToolStatus(ctx context.Context, tool string, statuses []capture.ArtifactStatus, limit int) ([]capture.Artifact, error) {
	return c.primary.ListArtifactsByToolStatus(ctx, tool, statuses, limit)
}

func (c *Coordinator) ListArtifactsByJob(ctx context.Context, jobID string) ([]capture.Artifact, error) {
	return c.primary.ListArtifactsByJob(ctx, jobID)
}

func (c *Coordinator) ListArtifactsRecent(ctx context.Context, limit, offset int) ([]capture.Artifact, error) {
	return c.primary.ListArtifactsRecent(ctx, limit, offset)
}

// DeleteArtifacts resolves (url, tool) keys before deleting from the primary
// so the matching replica rows can be removed afterwards.
func (c *Coordinator) DeleteArtifacts(ctx context.Context, ids []int64) (int64, error) {
	type key struct {
		url  string
		tool string
	}
	keys := make([]key, 0, len(ids))
	for _, id := range ids {
		artifact, err := c.primary.GetArtifact(ctx, id)
		if errors.Is(err, capture.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		target, err := c.primary.GetTarget(ctx, artifact.TargetID)
		if err != nil {
			return 0, err
		}
		keys = append(keys, key{url: target.URL, tool: artifact.Tool})
	}

	n, err := c.primary.DeleteArtifacts(ctx, ids)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := c.replicate("delete_artifact", func() error {
			return c.replica.DeleteArtifact(ctx, k.url, k.tool)
		}); err != nil {
			return n, err
		}
	}
	return n, nil
}

// UpsertPageMetadata writes through to the primary and mirrors by URL.
func (c *Coordinator) UpsertPageMetadata(ctx context.Context, meta capture.PageMetadata) error {
	if err := c.primary.UpsertPageMetadata(ctx, meta); err != nil {
		return err
	}
	target, err := c.primary.GetTarget(ctx, meta.TargetID)
	if err != nil {
		return err
	}
	return c.replicate("put_metadata", func() error {
		return c.replica.PutPageMetadata(ctx, target.URL, meta)
	})
}

func (c *Coordinator) GetPageMetadata(ctx context.Context, targetID int64) (capture.PageMetadata, error) {
	return c.primary.GetPageMetadata(ctx, targetID)
}

// Summaries, tags and entities stay primary-only.

func (c *Coordinator) UpsertSummary(ctx context.Context, sum capture.Summary) error {
	return c.primary.UpsertSummary(ctx, sum)
}

func (c *Coordinator) ReplaceTags(ctx context.Context, targetID int64, tags []capture.Tag) error {
	return c.primary.ReplaceTags(ctx, targetID, tags)
}

func (c *Coordinator) ReplaceEntities(ctx context.Context, targetID int64, entities []capture.Entity) error {
	return c.primary.ReplaceEntities(ctx, targetID, entities)
}

// Close closes both stores, returning the replica error if the primary
// closed cleanly.
func (c *Coordinator) Close() {
	c.primary.Close()
	if err := c.replica.Close(); err != nil {
		c.logger.Warn("replica close failed", zap.Error(err))
	}
}
