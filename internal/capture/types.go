// Package capture defines the domain types and collaborator interfaces for
// the archiving core: capture targets, artifacts, command executions, and the
// stores that persist them.
package capture

import (
	"errors"
	"time"
)

// ErrNotFound reports that a requested row does not exist. Callers use
// errors.Is to distinguish a clean miss from a store failure.
var ErrNotFound = errors.New("not found")

// ArtifactStatus is the lifecycle state of an artifact.
type ArtifactStatus string

const (
	StatusPending ArtifactStatus = "pending"
	StatusSuccess ArtifactStatus = "success"
	StatusFailed  ArtifactStatus = "failed"
)

// Valid reports whether s is one of the known artifact states.
func (s ArtifactStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Stream identifies which side of a command execution a journal line came from.
type Stream string

const (
	StreamStdin  Stream = "stdin"
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Target is a unique URL being archived. ItemID and Name are backfilled on
// later references but never overwritten once set.
type Target struct {
	ID             int64     `json:"id"`
	URL            string    `json:"url"`
	ItemID         string    `json:"item_id,omitempty"`
	Name           string    `json:"name,omitempty"`
	TotalSizeBytes int64     `json:"total_size_bytes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Artifact is the result of applying one capture tool to one target.
// At most one row exists per (target, tool).
type Artifact struct {
	ID        int64          `json:"id"`
	TargetID  int64          `json:"target_id"`
	Tool      string         `json:"tool"`
	Status    ArtifactStatus `json:"status"`
	JobID     string         `json:"job_id,omitempty"`
	Success   bool           `json:"success"`
	ExitCode  int            `json:"exit_code"`
	SavedPath string         `json:"saved_path,omitempty"`
	SizeBytes int64          `json:"size_bytes,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

// FinalizeRequest carries the outcome of one capture attempt. Status is
// derived from Success by the store, never set independently.
type FinalizeRequest struct {
	Success   bool
	ExitCode  int
	SavedPath string
	SizeBytes int64
}

// Execution is one journaled external command invocation. EndTime is zero
// while the command is still running.
type Execution struct {
	ID             int64     `json:"id"`
	Command        string    `json:"command"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
	TimeoutSeconds float64   `json:"timeout_seconds"`
	ExitCode       int       `json:"exit_code"`
	TimedOut       bool      `json:"timed_out"`
	TargetID       int64     `json:"target_id,omitempty"`
	Tool           string    `json:"tool,omitempty"`
}

// OutputLine is one journaled line of execution output. Lines are append-only
// and, within a stream, insertion order equals timestamp order.
type OutputLine struct {
	ID          int64     `json:"id"`
	ExecutionID int64     `json:"execution_id"`
	Timestamp   time.Time `json:"timestamp"`
	Stream      Stream    `json:"stream"`
	Line        string    `json:"line"`
	LineNumber  int       `json:"line_number,omitempty"`
}

// ExecutionResult is the in-memory view of a completed (or replayed)
// execution.
type ExecutionResult struct {
	ExecutionID     int64    `json:"execution_id"`
	Command         string   `json:"command"`
	ExitCode        int      `json:"exit_code"`
	TimedOut        bool     `json:"timed_out"`
	DurationSeconds float64  `json:"duration_seconds"`
	StdoutLines     []string `json:"stdout_lines"`
	StderrLines     []string `json:"stderr_lines"`
}

// Success reports whether the command completed cleanly.
func (r ExecutionResult) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Job is the inbound unit of work handed off by the queue broker.
type Job struct {
	URL    string `json:"url"`
	ItemID string `json:"item_id"`
	Name   string `json:"name,omitempty"`
	Tool   string `json:"tool"`
	JobID  string `json:"job_id"`
}

// PageMetadata holds extraction metadata for a target. It is one of the few
// entity kinds replicated to the secondary store.
type PageMetadata struct {
	TargetID    int64  `json:"target_id"`
	Title       string `json:"title,omitempty"`
	Byline      string `json:"byline,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	WordCount   int    `json:"word_count,omitempty"`
}

// Summary is an AI-generated summary for a target. Primary store only.
type Summary struct {
	TargetID    int64  `json:"target_id"`
	SummaryType string `json:"summary_type"`
	Text        string `json:"text"`
	ModelName   string `json:"model_name,omitempty"`
}

// Tag is an extracted topic tag. Primary store only.
type Tag struct {
	Tag        string  `json:"tag"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Entity is an extracted named entity. Primary store only.
type Entity struct {
	Entity     string  `json:"entity"`
	EntityType string  `json:"entity_type,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}
