package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jayteealao/htbase/internal/capture"
)

// Journal implements capture.Journal on Postgres.
type Journal struct {
	pool db
}

// NewJournal constructs a Journal over an existing pool.
func NewJournal(pool db) (*Journal, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Journal{pool: pool}, nil
}

// Journal returns a Journal sharing the store's connection pool.
func (s *Store) Journal() *Journal {
	return &Journal{pool: s.pool}
}

// CreateExecution records the start of a command run and returns its id.
func (j *Journal) CreateExecution(ctx context.Context, exec capture.Execution) (int64, error) {
	query := `
INSERT INTO command_executions (command, start_time, timeout_seconds, target_id, tool)
VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, ''))
RETURNING id`
	var id int64
	err := j.pool.QueryRow(ctx, query,
		exec.Command, exec.StartTime, exec.TimeoutSeconds, exec.TargetID, exec.Tool).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create execution: %w", err)
	}
	return id, nil
}

// AppendOutput persists one captured line.
func (j *Journal) AppendOutput(ctx context.Context, line capture.OutputLine) error {
	query := `
INSERT INTO command_output_lines (execution_id, timestamp, stream, line, line_number)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := j.pool.Exec(ctx, query,
		line.ExecutionID, line.Timestamp, string(line.Stream), line.Line, line.LineNumber); err != nil {
		return fmt.Errorf("append output: %w", err)
	}
	return nil
}

// FinalizeExecution closes out an execution record.
func (j *Journal) FinalizeExecution(ctx context.Context, id int64, endTime time.Time, exitCode int, timedOut bool) error {
	query := `
UPDATE command_executions SET end_time = $2, exit_code = $3, timed_out = $4 WHERE id = $1`
	if _, err := j.pool.Exec(ctx, query, id, endTime, exitCode, timedOut); err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	return nil
}

const executionColumns = `id, command, start_time, end_time, timeout_seconds,
	COALESCE(exit_code, 0), timed_out, COALESCE(target_id, 0), COALESCE(tool, '')`

func scanExecution(row pgx.Row) (capture.Execution, error) {
	var e capture.Execution
	var end *time.Time
	err := row.Scan(&e.ID, &e.Command, &e.StartTime, &end, &e.TimeoutSeconds,
		&e.ExitCode, &e.TimedOut, &e.TargetID, &e.Tool)
	if errors.Is(err, pgx.ErrNoRows) {
		return capture.Execution{}, capture.ErrNotFound
	}
	if err != nil {
		return capture.Execution{}, fmt.Errorf("scan execution: %w", err)
	}
	if end != nil {
		e.EndTime = *end
	}
	return e, nil
}

// GetExecution returns an execution record by id.
func (j *Journal) GetExecution(ctx context.Context, id int64) (capture.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM command_executions WHERE id = $1`
	return scanExecution(j.pool.QueryRow(ctx, query, id))
}

// ListOutput returns an execution's journaled lines in replay order:
// timestamp first, insertion id as the tiebreak for same-instant lines.
func (j *Journal) ListOutput(ctx context.Context, executionID int64) ([]capture.OutputLine, error) {
	query := `
SELECT id, execution_id, timestamp, stream, line, COALESCE(line_number, 0)
FROM command_output_lines
WHERE execution_id = $1
ORDER BY timestamp, id`
	rows, err := j.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("list output: %w", err)
	}
	defer rows.Close()
	var out []capture.OutputLine
	for rows.Next() {
		var l capture.OutputLine
		var stream string
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.Timestamp, &stream, &l.Line, &l.LineNumber); err != nil {
			return nil, fmt.Errorf("scan output line: %w", err)
		}
		l.Stream = capture.Stream(stream)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate output lines: %w", err)
	}
	return out, nil
}

// ListExecutions returns recent executions, optionally filtered by target
// and tool, newest first.
func (j *Journal) ListExecutions(ctx context.Context, targetID int64, tool string, limit int) ([]capture.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + executionColumns + `
FROM command_executions
WHERE ($1 = 0 OR target_id = $1) AND ($2 = '' OR tool = $2)
ORDER BY id DESC
LIMIT $3`
	rows, err := j.pool.Query(ctx, query, targetID, tool, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	var out []capture.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}
