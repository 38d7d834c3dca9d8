// Package main wires together the capture worker service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jayteealao/htbase/internal/api"
	"github.com/jayteealao/htbase/internal/blob"
	"github.com/jayteealao/htbase/internal/capture"
	"github.com/jayteealao/htbase/internal/clock/system"
	"github.com/jayteealao/htbase/internal/config"
	"github.com/jayteealao/htbase/internal/executor"
	"github.com/jayteealao/htbase/internal/logging"
	"github.com/jayteealao/htbase/internal/metrics"
	queuememory "github.com/jayteealao/htbase/internal/queue/memory"
	queuepubsub "github.com/jayteealao/htbase/internal/queue/pubsub"
	"github.com/jayteealao/htbase/internal/storage"
	"github.com/jayteealao/htbase/internal/tools"
	"github.com/jayteealao/htbase/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.Init()

	stack, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer stack.Close()

	blobStore, blobClose, err := blob.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	if blobClose != nil {
		defer func() {
			if err := blobClose(); err != nil {
				logger.Warn("blob store close failed", zap.Error(err))
			}
		}()
	}

	var queue capture.Queue
	var enqueuer capture.Enqueuer
	switch cfg.Queue.Provider {
	case "pubsub":
		q, err := queuepubsub.New(ctx, cfg.Queue.ProjectID, cfg.Queue.SubscriptionID, logger)
		if err != nil {
			return fmt.Errorf("open pubsub queue: %w", err)
		}
		queue = q
	default:
		q := queuememory.NewQueue(cfg.Queue.Depth)
		queue = q
		enqueuer = q
	}
	defer queue.Close()

	registry := tools.NewRegistry(cfg.Tools, time.Duration(cfg.Worker.DefaultTimeoutSeconds)*time.Second)
	exec := executor.New(stack.Journal, system.New(), logger, cfg.Logging.Debug)

	w := worker.New(queue, stack.Store, exec, blobStore, registry, cfg.Worker.WorkDir, logger)
	workerDone := make(chan error, 1)
	go func() {
		logger.Info("worker started", zap.Strings("tools", registry.Names()))
		workerDone <- w.Run(ctx)
	}()

	apiServer := api.NewServer(stack.Store, stack.Journal, exec, enqueuer, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case err := <-workerDone:
		if err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		logger.Info("worker stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
