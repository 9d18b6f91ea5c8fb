package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/veracity/internal/adapters/graph"
	"github.com/okian/veracity/internal/adapters/groundtruth"
	"github.com/okian/veracity/internal/adapters/ledger"
	"github.com/okian/veracity/internal/config"
	"github.com/okian/veracity/internal/domain/merge"
	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/internal/domain/scoring"
	"github.com/okian/veracity/internal/domain/verify"
	"github.com/okian/veracity/pkg/logger"
)

const graphShards = 64

// GraphStore is the graph backend the merger writes to.
type GraphStore interface {
	merge.Store
	Stats(ctx context.Context) (graph.Stats, error)
}

// Ledger is the receipt backend.
type Ledger interface {
	scoring.Ledger
	Latest(ctx context.Context) ([]model.Receipt, error)
}

// openBackends fills in every backend not injected through options.
func (s *Service) openBackends(ctx context.Context) error {
	cfg := s.cfg
	if (s.graph == nil && cfg.GraphBackend == config.BackendPostgres) ||
		(s.ledger == nil && cfg.LedgerBackend == config.BackendPostgres) {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		s.pgPool = pool
	}

	if s.graph == nil {
		switch cfg.GraphBackend {
		case config.BackendPostgres:
			g, err := graph.NewPostgres(ctx, s.pgPool)
			if err != nil {
				return err
			}
			if err := g.Migrate(ctx); err != nil {
				return err
			}
			s.graph = g
		default:
			s.graph = graph.NewMemory(graphShards)
		}
		s.logger.Info(ctx, "graph backend ready", logger.String("backend", cfg.GraphBackend))
	}

	if s.ledger == nil {
		opts := []ledger.Option{
			ledger.WithPolicy(ledger.Policy{
				Window:        cfg.ReceiptWindow(),
				MinHistory:    cfg.ReceiptMinHistory,
				PassThreshold: cfg.ReceiptPassThreshold,
			}),
			ledger.WithClock(s.now),
		}
		switch cfg.LedgerBackend {
		case config.BackendPostgres:
			l, err := ledger.NewPostgres(ctx, s.pgPool, opts...)
			if err != nil {
				return err
			}
			if err := l.Migrate(ctx); err != nil {
				return err
			}
			s.ledger = l
		default:
			s.ledger = ledger.NewMemory(opts...)
		}
		s.logger.Info(ctx, "ledger backend ready", logger.String("backend", cfg.LedgerBackend))
	}

	if s.fetcher == nil {
		x := groundtruth.NewXClient(
			groundtruth.WithBaseURL(cfg.XAPIBaseURL),
			groundtruth.WithBearerToken(cfg.XAPIBearerToken),
			groundtruth.WithRateLimit(cfg.XAPIRPS, cfg.XAPIBurst),
			groundtruth.WithMaxAttempts(cfg.XAPIMaxAttempts),
		)
		var f verify.Fetcher = x
		if cfg.SnapshotDBPath != "" {
			snap, err := groundtruth.OpenSnapshot(cfg.SnapshotDBPath, groundtruth.WithLive(x))
			if err != nil {
				return err
			}
			s.closers = append(s.closers, snap.Close)
			f = snap
			s.logger.Info(ctx, "ground truth snapshots enabled", logger.String("path", cfg.SnapshotDBPath))
		}
		s.fetcher = f
	}
	return nil
}

// closeBackends releases what openBackends opened, newest first.
func (s *Service) closeBackends(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn(ctx, "closing backend failed", logger.Error(err))
		}
	}
	s.closers = nil
}
