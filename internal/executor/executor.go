// Package executor runs external capture commands with full journaling,
// timeout-safe teardown, and replay.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jayteealao/htbase/internal/capture"
)

// DefaultTimeout applies when a request does not set one.
const DefaultTimeout = 300 * time.Second

// TimeoutExitCode is the sentinel exit code recorded when a command is killed
// on deadline or when its real exit status is unknown.
const TimeoutExitCode = -1

// killGrace is how long we wait for the process group to be reaped after a
// kill before escalating to a direct kill of the child.
const killGrace = 2 * time.Second

// Request describes one command invocation.
type Request struct {
	Command string
	Timeout time.Duration
	Dir     string
	Env     []string
	// TargetID and Tool correlate the journal row with an artifact; both are
	// optional.
	TargetID int64
	Tool     string
}

// Executor runs one external command at a time, journaling every line of
// output. Parallelism comes from running multiple worker processes, not from
// concurrent calls on one Executor; the mutex keeps journal line numbering
// deterministic per instance.
type Executor struct {
	mu      sync.Mutex
	journal capture.Journal
	clock   capture.Clock
	logger  *zap.Logger
	debug   bool
}

// New constructs an Executor. With debug enabled every journaled line is also
// echoed to the logger.
func New(journal capture.Journal, clock capture.Clock, logger *zap.Logger, debug bool) *Executor {
	return &Executor{
		journal: journal,
		clock:   clock,
		logger:  logger,
		debug:   debug,
	}
}

// firstErr keeps the first journaling failure seen by the output readers.
type firstErr struct {
	once sync.Once
	err  error
}

func (f *firstErr) set(err error) {
	f.once.Do(func() { f.err = err })
}

// Execute runs the command to completion or timeout. The execution record is
// created before the spawn and finalized exactly once on every exit path.
func (e *Executor) Execute(ctx context.Context, req Request) (capture.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executeLocked(ctx, req)
}

func (e *Executor) executeLocked(ctx context.Context, req Request) (capture.ExecutionResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := e.clock.Now()
	execID, err := e.journal.CreateExecution(ctx, capture.Execution{
		Command:        req.Command,
		StartTime:      start,
		TimeoutSeconds: timeout.Seconds(),
		TargetID:       req.TargetID,
		Tool:           req.Tool,
	})
	if err != nil {
		return capture.ExecutionResult{}, fmt.Errorf("create execution record: %w", err)
	}

	res := capture.ExecutionResult{
		ExecutionID: execID,
		Command:     req.Command,
		ExitCode:    TimeoutExitCode,
	}

	e.logger.Info("executing command",
		zap.Int64("execution_id", execID),
		zap.String("command", req.Command),
		zap.Duration("timeout", timeout),
		zap.Int64("target_id", req.TargetID),
		zap.String("tool", req.Tool),
	)

	var journalErrs firstErr

	// The command itself is journaled as a synthetic stdin line.
	e.appendLine(ctx, &journalErrs, execID, capture.StreamStdin, req.Command, 1)

	// Finalize exactly once, whatever exit branch is taken.
	defer func() {
		end := e.clock.Now()
		res.DurationSeconds = end.Sub(start).Seconds()
		if finErr := e.journal.FinalizeExecution(ctx, execID, end, res.ExitCode, res.TimedOut); finErr != nil {
			e.logger.Error("finalize execution record failed",
				zap.Int64("execution_id", execID), zap.Error(finErr))
		}
		e.logger.Info("command completed",
			zap.Int64("execution_id", execID),
			zap.Int("exit_code", res.ExitCode),
			zap.Bool("timed_out", res.TimedOut),
			zap.Float64("duration_seconds", res.DurationSeconds),
		)
	}()

	cmd := shellCommand(req.Command)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = req.Env
	}
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return res, e.spawnFailure(ctx, &journalErrs, execID, &res, fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return res, e.spawnFailure(ctx, &journalErrs, execID, &res, fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return res, e.spawnFailure(ctx, &journalErrs, execID, &res, fmt.Errorf("start command: %w", err))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go e.drainStream(ctx, &journalErrs, execID, capture.StreamStdout, stdout, &res.StdoutLines, &wg)
	go e.drainStream(ctx, &journalErrs, execID, capture.StreamStderr, stderr, &res.StderrLines, &wg)

	// Readers must finish before Wait closes the pipes underneath them.
	waitCh := make(chan error, 1)
	go func() {
		wg.Wait()
		waitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case werr := <-waitCh:
		res.ExitCode = exitCodeOf(cmd, werr)
	case <-timer.C:
		res.TimedOut = true
		res.ExitCode = TimeoutExitCode
		e.logger.Warn("command timed out, killing process group",
			zap.Int64("execution_id", execID), zap.Duration("timeout", timeout))
		e.killAndReap(cmd, waitCh)
	case <-ctx.Done():
		res.ExitCode = TimeoutExitCode
		e.killAndReap(cmd, waitCh)
		return res, fmt.Errorf("execution canceled: %w", ctx.Err())
	}

	if journalErrs.err != nil {
		return res, fmt.Errorf("journal output: %w", journalErrs.err)
	}
	return res, nil
}

// killAndReap kills the whole process group, waits briefly for the child to
// be reaped, and escalates to a direct kill if the group kill did not take.
func (e *Executor) killAndReap(cmd *exec.Cmd, waitCh <-chan error) {
	if cmd.Process == nil {
		return
	}
	if err := killProcessGroup(cmd.Process.Pid); err != nil {
		e.logger.Warn("process group kill failed, killing child directly", zap.Error(err))
		_ = cmd.Process.Kill()
	}
	select {
	case <-waitCh:
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
		<-waitCh
	}
}

// spawnFailure journals a synthetic stderr line for an error raised before or
// during the spawn so the execution record explains what happened.
func (e *Executor) spawnFailure(ctx context.Context, errs *firstErr, execID int64, res *capture.ExecutionResult, err error) error {
	line := fmt.Sprintf("execution error: %v", err)
	res.StderrLines = append(res.StderrLines, line)
	e.appendLine(ctx, errs, execID, capture.StreamStderr, line, 1)
	return err
}

func (e *Executor) drainStream(
	ctx context.Context,
	errs *firstErr,
	execID int64,
	stream capture.Stream,
	r io.Reader,
	out *[]string,
	wg *sync.WaitGroup,
) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		*out = append(*out, line)
		e.appendLine(ctx, errs, execID, stream, line, n)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		e.logger.Debug("stream read ended with error",
			zap.Int64("execution_id", execID),
			zap.String("stream", string(stream)),
			zap.Error(err))
	}
}

func (e *Executor) appendLine(ctx context.Context, errs *firstErr, execID int64, stream capture.Stream, line string, lineNumber int) {
	err := e.journal.AppendOutput(ctx, capture.OutputLine{
		ExecutionID: execID,
		Timestamp:   e.clock.Now(),
		Stream:      stream,
		Line:        line,
		LineNumber:  lineNumber,
	})
	if err != nil {
		errs.set(err)
		e.logger.Error("journal append failed",
			zap.Int64("execution_id", execID),
			zap.String("stream", string(stream)),
			zap.Error(err))
	}
	if e.debug {
		e.logger.Debug(fmt.Sprintf("[%s] %s", stream, line), zap.Int64("execution_id", execID))
	}
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		if cmd.ProcessState != nil {
			return cmd.ProcessState.ExitCode()
		}
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		if code >= 0 {
			return code
		}
	}
	// Killed by signal or otherwise unreportable.
	return TimeoutExitCode
}

// Replay reconstructs an ExecutionResult purely from the journal, without
// re-running anything. Output lines are ordered by (timestamp, insertion id)
// and partitioned by stream, so the reconstruction matches the original
// result exactly.
func (e *Executor) Replay(ctx context.Context, executionID int64) (capture.ExecutionResult, error) {
	rec, err := e.journal.GetExecution(ctx, executionID)
	if err != nil {
		return capture.ExecutionResult{}, fmt.Errorf("load execution %d: %w", executionID, err)
	}
	lines, err := e.journal.ListOutput(ctx, executionID)
	if err != nil {
		return capture.ExecutionResult{}, fmt.Errorf("load output for execution %d: %w", executionID, err)
	}

	res := capture.ExecutionResult{
		ExecutionID: rec.ID,
		Command:     rec.Command,
		ExitCode:    rec.ExitCode,
		TimedOut:    rec.TimedOut,
	}
	if !rec.EndTime.IsZero() {
		res.DurationSeconds = rec.EndTime.Sub(rec.StartTime).Seconds()
	}
	for _, line := range lines {
		switch line.Stream {
		case capture.StreamStdout:
			res.StdoutLines = append(res.StdoutLines, line.Line)
		case capture.StreamStderr:
			res.StderrLines = append(res.StderrLines, line.Line)
		}
	}
	return res, nil
}
