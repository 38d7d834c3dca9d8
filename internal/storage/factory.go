// Package storage wires the configured persistence stack: the primary
// Postgres store, the journal, and the optional replica behind the
// dual-write coordinator.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jayteealao/htbase/internal/capture"
	"github.com/jayteealao/htbase/internal/config"
	"github.com/jayteealao/htbase/internal/storage/dual"
	"github.com/jayteealao/htbase/internal/storage/postgres"
	"github.com/jayteealao/htbase/internal/storage/sqlite"
)

// Stack bundles the opened stores. Close releases everything.
type Stack struct {
	Store   capture.Store
	Journal capture.Journal
}

// Open builds the persistence stack from configuration. When the replica is
// enabled the returned Store is the dual-write coordinator; otherwise it is
// the primary directly.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Stack, error) {
	if cfg.DB.Migrate {
		if err := postgres.Migrate(ctx, cfg.DB.DSN); err != nil {
			return nil, err
		}
	}

	primary, err := postgres.NewStore(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}

	stack := &Stack{Store: primary, Journal: primary.Journal()}

	if !cfg.Replica.Enabled {
		return stack, nil
	}

	mode, err := dual.ParseFailureMode(cfg.Replica.FailureMode)
	if err != nil {
		primary.Close()
		return nil, err
	}
	replica, err := sqlite.New(cfg.Replica.DSN)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("open replica: %w", err)
	}
	if err := replica.EnsureSchema(ctx); err != nil {
		_ = replica.Close()
		primary.Close()
		return nil, err
	}

	coord, err := dual.New(primary, replica, logger,
		dual.WithFailureMode(mode),
		dual.WithLazyMigration(cfg.Replica.LazyMigration))
	if err != nil {
		_ = replica.Close()
		primary.Close()
		return nil, err
	}
	stack.Store = coord
	return stack, nil
}

// Close releases the stack's resources.
func (s *Stack) Close() {
	s.Store.Close()
}
