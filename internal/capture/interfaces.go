package capture

import (
	"context"
	"time"
)

// Store is the artifact repository contract. The primary (Postgres) store,
// the in-memory store, and the dual-write coordinator all implement it.
type Store interface {
	// GetOrCreateTarget looks a target up by URL, inserting it if absent.
	// ItemID and name are backfilled only where currently unset. Safe under
	// concurrent invocation for the same URL.
	GetOrCreateTarget(ctx context.Context, url, itemID, name string) (Target, error)
	GetTarget(ctx context.Context, id int64) (Target, error)
	GetTargetByItemID(ctx context.Context, itemID string) (Target, error)
	// UpdateTargetTotalSize recomputes total_size_bytes from the target's
	// artifacts.
	UpdateTargetTotalSize(ctx context.Context, targetID int64) error

	// GetOrCreateArtifact returns the (target, tool) artifact, inserting a
	// pending row if absent. A non-empty jobID on an existing row overwrites
	// the job id and resets status to pending (a requeue).
	GetOrCreateArtifact(ctx context.Context, targetID int64, tool, jobID string) (Artifact, error)
	// FinalizeArtifact records the outcome of one capture attempt. A missing
	// artifact id is a no-op, not an error.
	FinalizeArtifact(ctx context.Context, artifactID int64, fin FinalizeRequest) error
	// FindSuccessful resolves the target by exact URL, falling back to itemID
	// only when the stored URL still matches, then returns its successful
	// artifact for the tool, or ErrNotFound.
	FindSuccessful(ctx context.Context, itemID, url, tool string) (Artifact, error)

	GetArtifact(ctx context.Context, id int64) (Artifact, error)
	ListArtifactsByTarget(ctx context.Context, targetID int64) ([]Artifact, error)
	ListArtifactsByToolStatus(ctx context.Context, tool string, statuses []ArtifactStatus, limit int) ([]Artifact, error)
	ListArtifactsByJob(ctx context.Context, jobID string) ([]Artifact, error)
	ListArtifactsRecent(ctx context.Context, limit, offset int) ([]Artifact, error)
	DeleteArtifacts(ctx context.Context, ids []int64) (int64, error)

	UpsertPageMetadata(ctx context.Context, meta PageMetadata) error
	GetPageMetadata(ctx context.Context, targetID int64) (PageMetadata, error)

	// Summaries, tags, and entities are deliberately primary-only; the
	// dual-write coordinator never replicates them.
	UpsertSummary(ctx context.Context, s Summary) error
	ReplaceTags(ctx context.Context, targetID int64, tags []Tag) error
	ReplaceEntities(ctx context.Context, targetID int64, entities []Entity) error

	Close()
}

// ReplicaStore is the narrow secondary-store contract. Rows are keyed by
// natural keys (URL, tool) so the replica never depends on primary row ids.
type ReplicaStore interface {
	EnsureSchema(ctx context.Context) error
	PutTarget(ctx context.Context, t Target) error
	PutArtifact(ctx context.Context, targetURL string, a Artifact) error
	PutPageMetadata(ctx context.Context, targetURL string, meta PageMetadata) error
	GetTargetByItemID(ctx context.Context, itemID string) (Target, error)
	GetTargetByURL(ctx context.Context, url string) (Target, error)
	ListArtifactsByURL(ctx context.Context, url string) ([]Artifact, error)
	DeleteArtifact(ctx context.Context, targetURL, tool string) error
	Close() error
}

// Journal durably records command executions and their output lines.
type Journal interface {
	CreateExecution(ctx context.Context, e Execution) (int64, error)
	AppendOutput(ctx context.Context, line OutputLine) error
	FinalizeExecution(ctx context.Context, id int64, end time.Time, exitCode int, timedOut bool) error
	GetExecution(ctx context.Context, id int64) (Execution, error)
	// ListOutput returns lines ordered by (timestamp, insertion id).
	ListOutput(ctx context.Context, executionID int64) ([]OutputLine, error)
	ListExecutions(ctx context.Context, targetID int64, tool string, limit int) ([]Execution, error)
}

// UploadResult is what a blob store reports after persisting a file.
type UploadResult struct {
	URI       string
	SizeBytes int64
}

// BlobStore moves a finished capture file into durable storage.
type BlobStore interface {
	Upload(ctx context.Context, localPath, objectPath string) (UploadResult, error)
}

// Queue hands capture jobs to the worker from the external broker.
type Queue interface {
	Dequeue(ctx context.Context) (Job, error)
	Close()
}

// Enqueuer accepts jobs submitted locally. The in-memory queue implements
// it; broker-backed queues receive jobs out of band.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}
