// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jayteealao/htbase/internal/capture"
)

// Store is an in-memory capture.Store. It mirrors the semantics of the
// Postgres store closely enough to stand in for it in tests.
type Store struct {
	mu        sync.RWMutex
	nextID    int64
	targets   map[int64]capture.Target
	artifacts map[int64]capture.Artifact
	metadata  map[int64]capture.PageMetadata
	summaries map[int64][]capture.Summary
	tags      map[int64][]capture.Tag
	entities  map[int64][]capture.Entity
}

// NewStore constructs a Store.
func NewStore() *Store {
	return &Store{
		targets:   make(map[int64]capture.Target),
		artifacts: make(map[int64]capture.Artifact),
		metadata:  make(map[int64]capture.PageMetadata),
		summaries: make(map[int64][]capture.Summary),
		tags:      make(map[int64][]capture.Tag),
		entities:  make(map[int64][]capture.Entity),
	}
}

func (s *Store) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// GetOrCreateTarget looks up by URL, inserting if absent and backfilling
// item id and name only where currently unset.
func (s *Store) GetOrCreateTarget(_ context.Context, url, itemID, name string) (capture.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.targets {
		if t.URL != url {
			continue
		}
		if itemID != "" && t.ItemID == "" {
			t.ItemID = itemID
		}
		if name != "" && t.Name == "" {
			t.Name = name
		}
		s.targets[id] = t
		return t, nil
	}
	t := capture.Target{
		ID:        s.nextIDLocked(),
		URL:       url,
		ItemID:    itemID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	s.targets[t.ID] = t
	return t, nil
}

// GetTarget returns a target by id.
func (s *Store) GetTarget(_ context.Context, id int64) (capture.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[id]
	if !ok {
		return capture.Target{}, capture.ErrNotFound
	}
	return t, nil
}

// GetTargetByItemID returns the target carrying the given item id.
func (s *Store) GetTargetByItemID(_ context.Context, itemID string) (capture.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if itemID == "" {
		return capture.Target{}, capture.ErrNotFound
	}
	for _, t := range s.targets {
		if t.ItemID == itemID {
			return t, nil
		}
	}
	return capture.Target{}, capture.ErrNotFound
}

// UpdateTargetTotalSize recomputes the target's total size from its
// artifacts.
func (s *Store) UpdateTargetTotalSize(_ context.Context, targetID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[targetID]
	if !ok {
		return capture.ErrNotFound
	}
	var total int64
	for _, a := range s.artifacts {
		if a.TargetID == targetID {
			total += a.SizeBytes
		}
	}
	t.TotalSizeBytes = total
	s.targets[targetID] = t
	return nil
}

// GetOrCreateArtifact returns the (target, tool) artifact, inserting a
// pending row if absent. A supplied job id resets an existing row to pending.
func (s *Store) GetOrCreateArtifact(_ context.Context, targetID int64, tool, jobID string) (capture.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[targetID]; !ok {
		return capture.Artifact{}, capture.ErrNotFound
	}
	for id, a := range s.artifacts {
		if a.TargetID != targetID || a.Tool != tool {
			continue
		}
		if jobID != "" {
			a.JobID = jobID
			a.Status = capture.StatusPending
			a.UpdatedAt = time.Now().UTC()
			s.artifacts[id] = a
		}
		return a, nil
	}
	a := capture.Artifact{
		ID:        s.nextIDLocked(),
		TargetID:  targetID,
		Tool:      tool,
		Status:    capture.StatusPending,
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
	}
	s.artifacts[a.ID] = a
	return a, nil
}

// FinalizeArtifact records a capture outcome; unknown ids are a no-op.
func (s *Store) FinalizeArtifact(_ context.Context, artifactID int64, fin capture.FinalizeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[artifactID]
	if !ok {
		return nil
	}
	a.Success = fin.Success
	a.ExitCode = fin.ExitCode
	a.SavedPath = fin.SavedPath
	if fin.SizeBytes > 0 {
		a.SizeBytes = fin.SizeBytes
	}
	if fin.Success {
		a.Status = capture.StatusSuccess
	} else {
		a.Status = capture.StatusFailed
	}
	a.UpdatedAt = time.Now().UTC()
	s.artifacts[artifactID] = a
	return nil
}

// FindSuccessful resolves the target by URL first, then by item id with URL
// re-validation, and returns its successful artifact for the tool.
func (s *Store) FindSuccessful(_ context.Context, itemID, url, tool string) (capture.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var target *capture.Target
	for _, t := range s.targets {
		if t.URL == url {
			tt := t
			target = &tt
			break
		}
	}
	if target == nil && itemID != "" {
		for _, t := range s.targets {
			if t.ItemID == itemID {
				if t.URL != url {
					return capture.Artifact{}, capture.ErrNotFound
				}
				tt := t
				target = &tt
				break
			}
		}
	}
	if target == nil {
		return capture.Artifact{}, capture.ErrNotFound
	}
	for _, a := range s.artifacts {
		if a.TargetID == target.ID && a.Tool == tool && a.Success {
			return a, nil
		}
	}
	return capture.Artifact{}, capture.ErrNotFound
}

// GetArtifact returns an artifact by id.
func (s *Store) GetArtifact(_ context.Context, id int64) (capture.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return capture.Artifact{}, capture.ErrNotFound
	}
	return a, nil
}

// ListArtifactsByTarget returns the target's artifacts ordered by id.
func (s *Store) ListArtifactsByTarget(_ context.Context, targetID int64) ([]capture.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []capture.Artifact
	for _, a := range s.artifacts {
		if a.TargetID == targetID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListArtifactsByToolStatus filters artifacts by tool and status set.
func (s *Store) ListArtifactsByToolStatus(_ context.Context, tool string, statuses []capture.ArtifactStatus, limit int) ([]capture.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[capture.ArtifactStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []capture.Artifact
	for _, a := range s.artifacts {
		if tool != "" && a.Tool != tool {
			continue
		}
		if len(want) > 0 && !want[a.Status] {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListArtifactsByJob returns artifacts carrying the given job id.
func (s *Store) ListArtifactsByJob(_ context.Context, jobID string) ([]capture.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []capture.Artifact
	for _, a := range s.artifacts {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListArtifactsRecent pages through artifacts newest-first.
func (s *Store) ListArtifactsRecent(_ context.Context, limit, offset int) ([]capture.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]capture.Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteArtifacts removes the given artifact ids, returning the number
// actually deleted.
func (s *Store) DeleteArtifacts(_ context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.artifacts[id]; ok {
			delete(s.artifacts, id)
			n++
		}
	}
	return n, nil
}

// UpsertPageMetadata stores extraction metadata for a target.
func (s *Store) UpsertPageMetadata(_ context.Context, meta capture.PageMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[meta.TargetID]; !ok {
		return capture.ErrNotFound
	}
	s.metadata[meta.TargetID] = meta
	return nil
}

// GetPageMetadata returns extraction metadata for a target.
func (s *Store) GetPageMetadata(_ context.Context, targetID int64) (capture.PageMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metadata[targetID]
	if !ok {
		return capture.PageMetadata{}, capture.ErrNotFound
	}
	return m, nil
}

// UpsertSummary stores a summary keyed by (target, summary type).
func (s *Store) UpsertSummary(_ context.Context, sum capture.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.summaries[sum.TargetID]
	for i, cur := range existing {
		if cur.SummaryType == sum.SummaryType {
			existing[i] = sum
			return nil
		}
	}
	s.summaries[sum.TargetID] = append(existing, sum)
	return nil
}

// ReplaceTags replaces the target's tag set.
func (s *Store) ReplaceTags(_ context.Context, targetID int64, tags []capture.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[targetID] = append([]capture.Tag(nil), tags...)
	return nil
}

// ReplaceEntities replaces the target's entity set.
func (s *Store) ReplaceEntities(_ context.Context, targetID int64, entities []capture.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[targetID] = append([]capture.Entity(nil), entities...)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}
