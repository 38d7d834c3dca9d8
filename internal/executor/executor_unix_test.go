//go:build !windows

package executor

import (
	"context"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jayteealao/htbase/internal/capture"
	"github.com/jayteealao/htbase/internal/clock/system"
	"github.com/jayteealao/htbase/internal/storage/memory"
)

func newTestExecutor(t *testing.T) (*Executor, *memory.Journal) {
	t.Helper()
	journal := memory.NewJournal()
	exec := New(journal, system.New(), zaptest.NewLogger(t), true)
	return exec, journal
}

func TestExecuteEchoHello(t *testing.T) {
	t.Parallel()

	exec, journal := newTestExecutor(t)
	res, err := exec.Execute(context.Background(), Request{
		Command: "echo hello",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	require.Equal(t, 0, res.ExitCode)
	require.False(t, res.TimedOut)
	require.True(t, res.Success())
	require.Equal(t, []string{"hello"}, res.StdoutLines)
	require.Empty(t, res.StderrLines)
	require.Greater(t, res.DurationSeconds, 0.0)

	// The record is finalized and the command itself is journaled as stdin.
	rec, err := journal.GetExecution(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	require.False(t, rec.EndTime.IsZero())
	require.Equal(t, 0, rec.ExitCode)

	lines, err := journal.ListOutput(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, capture.StreamStdin, lines[0].Stream)
	require.Equal(t, "echo hello", lines[0].Line)
}

func TestExecuteCapturesStderrAndExitCode(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t)
	res, err := exec.Execute(context.Background(), Request{
		Command: "echo oops >&2; exit 3",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	require.Equal(t, 3, res.ExitCode)
	require.False(t, res.Success())
	require.Equal(t, []string{"oops"}, res.StderrLines)
	require.Empty(t, res.StdoutLines)
}

func TestExecutePreservesStreamOrder(t *testing.T) {
	t.Parallel()

	exec, journal := newTestExecutor(t)
	res, err := exec.Execute(context.Background(), Request{
		Command: "for i in 1 2 3 4 5; do echo line-$i; done",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"line-1", "line-2", "line-3", "line-4", "line-5"}, res.StdoutLines)

	lines, err := journal.ListOutput(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	var stdout []capture.OutputLine
	for _, l := range lines {
		if l.Stream == capture.StreamStdout {
			stdout = append(stdout, l)
		}
	}
	for i, l := range stdout {
		require.Equal(t, i+1, l.LineNumber)
	}
}

func TestExecuteTimeoutKillsProcessGroup(t *testing.T) {
	t.Parallel()

	exec, journal := newTestExecutor(t)
	// The shell prints its own pid, then blocks well past the deadline.
	res, err := exec.Execute(context.Background(), Request{
		Command: "echo $$; sleep 10",
		Timeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)

	require.True(t, res.TimedOut)
	require.Equal(t, TimeoutExitCode, res.ExitCode)
	require.False(t, res.Success())
	require.Len(t, res.StdoutLines, 1)

	// Neither the shell nor its sleep child may survive the group kill.
	pid, err := strconv.Atoi(res.StdoutLines[0])
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	require.Error(t, syscall.Kill(pid, 0), "shell pid %d still alive after timeout", pid)

	rec, err := journal.GetExecution(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	require.True(t, rec.TimedOut)
	require.Equal(t, TimeoutExitCode, rec.ExitCode)
	require.False(t, rec.EndTime.IsZero())
}

func TestExecuteSpawnFailureJournalsAndFinalizes(t *testing.T) {
	t.Parallel()

	exec, journal := newTestExecutor(t)
	res, err := exec.Execute(context.Background(), Request{
		Command: "echo never",
		Timeout: 5 * time.Second,
		Dir:     "/definitely/does/not/exist",
	})
	require.Error(t, err)
	require.Equal(t, TimeoutExitCode, res.ExitCode)
	require.NotEmpty(t, res.StderrLines)

	// No row is left open: the record is finalized despite the failure.
	rec, jerr := journal.GetExecution(context.Background(), res.ExecutionID)
	require.NoError(t, jerr)
	require.False(t, rec.EndTime.IsZero())

	lines, jerr := journal.ListOutput(context.Background(), res.ExecutionID)
	require.NoError(t, jerr)
	var sawStderr bool
	for _, l := range lines {
		if l.Stream == capture.StreamStderr {
			sawStderr = true
		}
	}
	require.True(t, sawStderr, "spawn failure must be journaled as stderr")
}

func TestReplayMatchesOriginalResult(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t)
	orig, err := exec.Execute(context.Background(), Request{
		Command: "echo out-1; echo err-1 >&2; echo out-2",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	replayed, err := exec.Replay(context.Background(), orig.ExecutionID)
	require.NoError(t, err)

	require.Equal(t, orig.ExecutionID, replayed.ExecutionID)
	require.Equal(t, orig.Command, replayed.Command)
	require.Equal(t, orig.ExitCode, replayed.ExitCode)
	require.Equal(t, orig.TimedOut, replayed.TimedOut)
	require.Equal(t, orig.StdoutLines, replayed.StdoutLines)
	require.Equal(t, orig.StderrLines, replayed.StderrLines)
}

func TestReplayUnknownExecution(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t)
	_, err := exec.Replay(context.Background(), 9999)
	require.ErrorIs(t, err, capture.ErrNotFound)
}

func TestExecuteSerializesCalls(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t)
	start := time.Now()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := exec.Execute(context.Background(), Request{Command: "sleep 0.3", Timeout: 5 * time.Second})
		require.NoError(t, err)
	}()
	_, err := exec.Execute(context.Background(), Request{Command: "sleep 0.3", Timeout: 5 * time.Second})
	require.NoError(t, err)
	<-done
	// Two serialized 300ms commands cannot finish in under 600ms.
	require.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond)
}
