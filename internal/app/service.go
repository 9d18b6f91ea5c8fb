// Package service wires the validation pipeline and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/veracity/internal/adapters/mq/queue"
	"github.com/okian/veracity/internal/adapters/mq/worker"
	"github.com/okian/veracity/internal/adapters/repository"
	"github.com/okian/veracity/internal/config"
	"github.com/okian/veracity/internal/domain/dedupe"
	"github.com/okian/veracity/internal/domain/merge"
	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/internal/domain/reputation"
	"github.com/okian/veracity/internal/domain/schema"
	"github.com/okian/veracity/internal/domain/scoring"
	"github.com/okian/veracity/internal/domain/verify"
	"github.com/okian/veracity/pkg/logger"
	"github.com/okian/veracity/pkg/metrics"
)

// Service accepts miner submissions and runs them through validation,
// verification, scoring and merge.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Backends, injected or opened on Start.
	graph   GraphStore
	ledger  Ledger
	fetcher verify.Fetcher
	pgPool  *pgxpool.Pool
	closers []func() error

	// Pipeline stages.
	validator   *schema.Validator
	verifier    *verify.Verifier
	engine      *scoring.Engine
	merger      *merge.Merger
	leaderboard *repository.TreapStore

	// Intake.
	deduper dedupe.Deduper
	queue   *queue.InMemoryQueue
	pool    *worker.Pool

	now     func() time.Time
	started bool
	logger  logger.Logger
}

// New constructs a Service. Nothing is opened until Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg: config.New(context.Background()),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Start opens the backends, restores the leaderboard and starts the workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting validator service...")

	if err := s.openBackends(ctx); err != nil {
		s.closeBackends(ctx)
		return fmt.Errorf("start service: %w", err)
	}

	validator, err := schema.New()
	if err != nil {
		s.closeBackends(ctx)
		return fmt.Errorf("start service: %w", err)
	}
	s.validator = validator
	s.verifier = verify.New(s.fetcher,
		verify.WithFetchTimeout(s.cfg.FetchTimeout()),
		verify.WithFollowerDriftTolerance(s.cfg.FollowerDriftTolerance),
	)
	s.engine = scoring.NewEngine(s.ledger,
		scoring.WithFailureScores(s.cfg.FailureScores),
		scoring.WithOrganicBonus(s.cfg.OrganicFollowerThreshold, s.cfg.OrganicBonus),
		scoring.WithResponseWindow(s.cfg.ResponseWindow()),
		scoring.WithLedgerTimeout(s.cfg.LedgerTimeout()),
		scoring.WithClock(s.now),
	)
	s.merger = merge.New(s.graph)
	s.leaderboard = repository.NewTreapStore(ctx)
	if err := s.restoreLeaderboard(ctx); err != nil {
		s.logger.Warn(ctx, "leaderboard restore failed", logger.Error(err))
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.cfg.QueueSize))
	s.pool = worker.NewPool(s.cfg.WorkerCount, s.queue, s)
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "validator service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.cfg.QueueSize),
		logger.Int("dedupeSize", s.cfg.DedupeSize),
	)
	return nil
}

// Stop drains queued submissions and releases the backends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping validator service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.leaderboard.Close(); err != nil {
		errs = append(errs, err)
	}
	s.closeBackends(ctx)

	s.started = false
	s.logger.Info(ctx, "validator service stopped")
	return errors.Join(errs...)
}

// restoreLeaderboard seeds the leaderboard from the newest receipt of each miner.
func (s *Service) restoreLeaderboard(ctx context.Context) error {
	latest, err := s.ledger.Latest(ctx)
	if err != nil {
		return err
	}
	for _, r := range latest {
		if _, err := s.leaderboard.Record(ctx, r.MinerID, r.Result.FinalScore, r.ChallengeID, r.CreatedAt); err != nil {
			return err
		}
	}
	if len(latest) > 0 {
		s.logger.Info(ctx, "leaderboard restored", logger.Int("miners", len(latest)))
	}
	return nil
}

// Submit accepts a submission for asynchronous processing. Missing
// submission and challenge ids are generated. Resubmitting an accepted id is
// acknowledged as a duplicate and not processed again.
func (s *Service) Submit(ctx context.Context, sub model.Submission) (model.Ack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.Ack{}, ErrNotStarted
	}
	if err := checkEnvelope(sub); err != nil {
		return model.Ack{}, err
	}
	metrics.RecordSubmissionReceived()

	if sub.SubmissionID == "" {
		sub.SubmissionID = uuid.NewString()
	}
	if sub.ReceivedAt.IsZero() {
		sub.ReceivedAt = s.now().UTC()
	}
	ack := model.Ack{SubmissionID: sub.SubmissionID}
	if sub.Challenge != nil {
		ch := *sub.Challenge
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		sub.Challenge = &ch
		ack.ChallengeID = ch.ID
	}

	if s.deduper.SeenAndRecord(ctx, sub.SubmissionID) {
		metrics.RecordSubmissionDuplicate()
		s.logger.Debug(ctx, "duplicate submission, skipping",
			logger.String("submission_id", sub.SubmissionID),
			logger.String("miner_id", sub.MinerID),
		)
		ack.Duplicate = true
		return ack, nil
	}

	if err := s.queue.Enqueue(ctx, sub); err != nil {
		s.deduper.Unrecord(ctx, sub.SubmissionID)
		if errors.Is(err, queue.ErrFull) {
			return model.Ack{}, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return model.Ack{}, fmt.Errorf("enqueue submission: %w", err)
	}
	return ack, nil
}

func checkEnvelope(sub model.Submission) error {
	switch {
	case sub.MinerID == "":
		return fmt.Errorf("%w: miner_id is required", ErrInvalidSubmission)
	case sub.ObservedAt.IsZero():
		return fmt.Errorf("%w: observed_at is required", ErrInvalidSubmission)
	case len(sub.Records) == 0:
		return fmt.Errorf("%w: records are required", ErrInvalidSubmission)
	}
	if ch := sub.Challenge; ch != nil {
		if ch.Token == "" {
			return fmt.Errorf("%w: challenge token is required", ErrInvalidSubmission)
		}
		if len(ch.TargetComponents) == 0 {
			return fmt.Errorf("%w: challenge names no components", ErrInvalidSubmission)
		}
		for _, c := range ch.TargetComponents {
			if _, err := model.ParseComponent(string(c)); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
			}
		}
	}
	return nil
}

// TopN returns the top n leaderboard entries.
func (s *Service) TopN(ctx context.Context, n int) ([]repository.Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.leaderboard.TopN(ctx, n)
}

// Rank returns the leaderboard entry of minerID.
func (s *Service) Rank(ctx context.Context, minerID string) (repository.Entry, error) {
	if err := s.ready(); err != nil {
		return repository.Entry{}, err
	}
	return s.leaderboard.Rank(ctx, minerID)
}

// Weights normalizes the latest miner scores into integer weights.
func (s *Service) Weights(ctx context.Context) ([]reputation.Weight, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	entries := s.leaderboard.All(ctx)
	scores := make([]reputation.Score, len(entries))
	for i, e := range entries {
		scores[i] = reputation.Score{MinerID: e.MinerID, Score: e.Score}
	}
	return reputation.Weights(scores), nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":      s.started,
		"queueSize":    s.cfg.QueueSize,
		"dedupeSize":   s.cfg.DedupeSize,
		"graphBackend": s.cfg.GraphBackend,
	}
	if !s.started {
		return stats
	}

	queueLen := s.queue.Len(ctx)
	miners := s.leaderboard.Count(ctx)
	stats["workerCount"] = s.pool.Size()
	stats["queueLength"] = queueLen
	stats["totalMiners"] = miners
	stats["dedupeEntries"] = s.deduper.Size()
	if gs, err := s.graph.Stats(ctx); err == nil {
		stats["graphNodes"] = gs.Nodes
		stats["graphEdges"] = gs.Edges
	} else {
		s.logger.Warn(ctx, "graph stats unavailable", logger.Error(err))
	}

	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateTotalMiners(miners)
	return stats
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}
