// Package worker runs the capture loop: dequeue a job, run the tool, upload
// the artifact, finalize the record.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jayteealao/htbase/internal/capture"
	"github.com/jayteealao/htbase/internal/executor"
	"github.com/jayteealao/htbase/internal/metrics"
	"github.com/jayteealao/htbase/internal/tools"
)

// Executor is the command-running contract the worker needs.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) (capture.ExecutionResult, error)
}

// Worker consumes capture jobs and drives them to a finalized artifact.
type Worker struct {
	queue    capture.Queue
	store    capture.Store
	exec     Executor
	blobs    capture.BlobStore
	registry *tools.Registry
	workDir  string
	logger   *zap.Logger
}

// New assembles a Worker.
func New(
	queue capture.Queue,
	store capture.Store,
	exec Executor,
	blobs capture.BlobStore,
	registry *tools.Registry,
	workDir string,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		queue:    queue,
		store:    store,
		exec:     exec,
		blobs:    blobs,
		registry: registry,
		workDir:  workDir,
		logger:   logger,
	}
}

// Run consumes jobs until the context is canceled. Job failures are recorded
// and logged; only queue shutdown stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		if err := w.Process(ctx, job); err != nil {
			metrics.ObserveJob("error")
			w.logger.Error("job failed",
				zap.String("job_id", job.JobID),
				zap.String("url", job.URL),
				zap.String("tool", job.Tool),
				zap.Error(err))
			continue
		}
		metrics.ObserveJob("ok")
	}
}

// Process runs one capture job end to end.
func (w *Worker) Process(ctx context.Context, job capture.Job) error {
	if job.URL == "" {
		return fmt.Errorf("job has no url")
	}
	if job.Tool == "" {
		return fmt.Errorf("job has no tool")
	}

	spec, err := w.registry.Lookup(job.Tool)
	if err != nil {
		return err
	}

	// A previously successful capture for the same URL and tool is reused.
	if existing, err := w.store.FindSuccessful(ctx, job.ItemID, job.URL, job.Tool); err == nil {
		w.logger.Info("capture already exists, skipping",
			zap.String("url", job.URL),
			zap.String("tool", job.Tool),
			zap.String("saved_path", existing.SavedPath))
		return nil
	} else if !errors.Is(err, capture.ErrNotFound) {
		return fmt.Errorf("lookup existing capture: %w", err)
	}

	target, err := w.store.GetOrCreateTarget(ctx, job.URL, job.ItemID, job.Name)
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}
	artifact, err := w.store.GetOrCreateArtifact(ctx, target.ID, job.Tool, job.JobID)
	if err != nil {
		return fmt.Errorf("resolve artifact: %w", err)
	}

	outPath, err := w.outputPath(target, spec)
	if err != nil {
		return err
	}

	metrics.IncActiveExecutions()
	res, execErr := w.exec.Execute(ctx, executor.Request{
		Command:  spec.Command(job.URL, outPath),
		Timeout:  spec.Timeout,
		TargetID: target.ID,
		Tool:     job.Tool,
	})
	metrics.DecActiveExecutions()
	metrics.ObserveExecution(job.Tool, executionOutcome(res, execErr),
		time.Duration(res.DurationSeconds*float64(time.Second)))

	size := fileSize(outPath)
	success := execErr == nil && res.Success() && size > 0

	fin := capture.FinalizeRequest{
		Success:  success,
		ExitCode: res.ExitCode,
	}
	if success {
		uploaded, upErr := w.blobs.Upload(ctx, outPath, w.objectPath(target, spec))
		if upErr != nil {
			success = false
			fin.Success = false
			execErr = errors.Join(execErr, fmt.Errorf("upload artifact: %w", upErr))
		} else {
			fin.SavedPath = uploaded.URI
			fin.SizeBytes = uploaded.SizeBytes
		}
	}

	if err := w.store.FinalizeArtifact(ctx, artifact.ID, fin); err != nil {
		return errors.Join(execErr, fmt.Errorf("finalize artifact: %w", err))
	}
	metrics.ObserveFinalize(job.Tool, statusOf(fin.Success))

	if fin.Success {
		if err := w.store.UpdateTargetTotalSize(ctx, target.ID); err != nil {
			w.logger.Warn("total size update failed",
				zap.Int64("target_id", target.ID), zap.Error(err))
		}
		w.logger.Info("capture stored",
			zap.String("url", job.URL),
			zap.String("tool", job.Tool),
			zap.String("saved_path", fin.SavedPath),
			zap.Int64("size_bytes", fin.SizeBytes))
		return nil
	}

	if execErr != nil {
		return fmt.Errorf("capture %s with %s: %w", job.URL, job.Tool, execErr)
	}
	return fmt.Errorf("capture %s with %s failed: exit=%d timed_out=%t size=%d",
		job.URL, job.Tool, res.ExitCode, res.TimedOut, size)
}

// outputPath builds <workDir>/<itemID|target id>/<tool>/<file> and creates
// the directory.
func (w *Worker) outputPath(target capture.Target, spec tools.Spec) (string, error) {
	dir := filepath.Join(w.workDir, sanitize(targetKey(target)), spec.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return filepath.Join(dir, spec.OutputFile), nil
}

func (w *Worker) objectPath(target capture.Target, spec tools.Spec) string {
	return path.Join(sanitize(targetKey(target)), spec.Name, spec.OutputFile)
}

func targetKey(target capture.Target) string {
	if target.ItemID != "" {
		return target.ItemID
	}
	return strconv.FormatInt(target.ID, 10)
}

// sanitize keeps the key usable as a single path element.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, s)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func executionOutcome(res capture.ExecutionResult, err error) string {
	switch {
	case res.TimedOut:
		return "timeout"
	case err != nil:
		return "error"
	case res.ExitCode != 0:
		return "nonzero_exit"
	}
	return "ok"
}

func statusOf(success bool) string {
	if success {
		return string(capture.StatusSuccess)
	}
	return string(capture.StatusFailed)
}
