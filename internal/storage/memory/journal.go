package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jayteealao/htbase/internal/capture"
)

// Journal is an in-memory capture.Journal.
type Journal struct {
	mu         sync.RWMutex
	nextExecID int64
	nextLineID int64
	executions map[int64]capture.Execution
	lines      map[int64][]capture.OutputLine
}

// NewJournal constructs a Journal.
func NewJournal() *Journal {
	return &Journal{
		executions: make(map[int64]capture.Execution),
		lines:      make(map[int64][]capture.OutputLine),
	}
}

// CreateExecution records a new execution and returns its id.
func (j *Journal) CreateExecution(_ context.Context, e capture.Execution) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextExecID++
	e.ID = j.nextExecID
	j.executions[e.ID] = e
	return e.ID, nil
}

// AppendOutput appends one output line.
func (j *Journal) AppendOutput(_ context.Context, line capture.OutputLine) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.executions[line.ExecutionID]; !ok {
		return capture.ErrNotFound
	}
	j.nextLineID++
	line.ID = j.nextLineID
	j.lines[line.ExecutionID] = append(j.lines[line.ExecutionID], line)
	return nil
}

// FinalizeExecution records the terminal state of an execution.
func (j *Journal) FinalizeExecution(_ context.Context, id int64, end time.Time, exitCode int, timedOut bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.executions[id]
	if !ok {
		return capture.ErrNotFound
	}
	e.EndTime = end
	e.ExitCode = exitCode
	e.TimedOut = timedOut
	j.executions[id] = e
	return nil
}

// GetExecution returns an execution by id.
func (j *Journal) GetExecution(_ context.Context, id int64) (capture.Execution, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	e, ok := j.executions[id]
	if !ok {
		return capture.Execution{}, capture.ErrNotFound
	}
	return e, nil
}

// ListOutput returns an execution's lines ordered by (timestamp, id).
func (j *Journal) ListOutput(_ context.Context, executionID int64) ([]capture.OutputLine, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if _, ok := j.executions[executionID]; !ok {
		return nil, capture.ErrNotFound
	}
	out := append([]capture.OutputLine(nil), j.lines[executionID]...)
	sort.SliceStable(out, func(i, k int) bool {
		if out[i].Timestamp.Equal(out[k].Timestamp) {
			return out[i].ID < out[k].ID
		}
		return out[i].Timestamp.Before(out[k].Timestamp)
	})
	return out, nil
}

// ListExecutions filters executions by target and tool, newest first.
func (j *Journal) ListExecutions(_ context.Context, targetID int64, tool string, limit int) ([]capture.Execution, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []capture.Execution
	for _, e := range j.executions {
		if targetID != 0 && e.TargetID != targetID {
			continue
		}
		if tool != "" && e.Tool != tool {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartTime.After(out[k].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
