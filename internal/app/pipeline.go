package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/veracity/internal/adapters/mq/worker"
	"github.com/okian/veracity/internal/domain/merge"
	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/internal/domain/schema"
	"github.com/okian/veracity/internal/domain/scoring"
	"github.com/okian/veracity/pkg/logger"
	"github.com/okian/veracity/pkg/metrics"
)

var _ worker.Processor = (*Service)(nil)

// Outcome is what the pipeline did with one submission.
type Outcome struct {
	SubmissionID string
	// Score is set when the submission answered a challenge.
	Score   *model.ScoreResult
	Results []model.ComponentResult
	// Merge is set when the dataset reached the graph.
	Merge *merge.Report
	// MergeSkipped is set when a failed challenge kept the dataset out of
	// the graph.
	MergeSkipped bool
	// Rejected holds the schema violation or dangling edge that kept the
	// dataset out of the graph.
	Rejected error
}

// Process implements worker.Processor. Miner faults are part of the outcome;
// only infrastructure failures are returned. A ledger failure rescores the
// submission up to LedgerRetryAttempts times with doubling backoff.
func (s *Service) Process(ctx context.Context, sub model.Submission) error {
	attempts := max(s.cfg.LedgerRetryAttempts, 1)
	backoff := s.cfg.LedgerRetryBackoff()
	for attempt := 1; ; attempt++ {
		_, err := s.Handle(ctx, sub)
		if err == nil || !ledgerFailure(err) {
			return err
		}
		if attempt == attempts {
			return fmt.Errorf("after %d attempts: %w", attempts, err)
		}
		metrics.RecordErrorByComponent("pipeline", "ledger_retry")
		s.logger.Warn(ctx, "ledger failure, rescoring submission",
			logger.String("submission_id", sub.SubmissionID),
			logger.String("miner_id", sub.MinerID),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", backoff),
			logger.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", err, ctx.Err())
		}
		backoff *= 2
	}
}

// ledgerFailure reports whether err left no receipt behind, so scoring the
// submission again cannot double count it.
func ledgerFailure(err error) bool {
	return errors.Is(err, scoring.ErrLedgerWrite) || errors.Is(err, scoring.ErrLedgerUnavailable)
}

// Handle runs one submission through validate, verify, score and merge.
// On error the submission id is forgotten so the submission can be retried.
func (s *Service) Handle(ctx context.Context, sub model.Submission) (Outcome, error) {
	start := time.Now()
	out, err := s.handle(ctx, sub)
	if err != nil {
		s.deduper.Unrecord(ctx, sub.SubmissionID)
		metrics.RecordErrorByComponent("pipeline", "process_error")
		return out, err
	}
	s.logger.Debug(ctx, "submission processed",
		logger.String("submission_id", sub.SubmissionID),
		logger.String("miner_id", sub.MinerID),
		logger.Bool("merged", out.Merge != nil),
		logger.Duration("took", time.Since(start)),
	)
	return out, nil
}

func (s *Service) handle(ctx context.Context, sub model.Submission) (Outcome, error) {
	out := Outcome{SubmissionID: sub.SubmissionID}
	if err := checkEnvelope(sub); err != nil {
		return out, err
	}

	ds, err := s.validator.Dataset(sub)
	if err != nil {
		if !errors.Is(err, schema.ErrSchemaViolation) {
			return out, fmt.Errorf("validate submission %s: %w", sub.SubmissionID, err)
		}
		metrics.RecordSchemaViolation()
		s.logger.Warn(ctx, "dataset rejected by schema",
			logger.String("submission_id", sub.SubmissionID),
			logger.String("miner_id", sub.MinerID),
			logger.Error(err),
		)
		out.Rejected = err
	}

	if sub.Challenge != nil {
		res, results, err := s.score(ctx, sub, ds, out.Rejected == nil)
		if err != nil {
			return out, err
		}
		out.Score, out.Results = &res, results
	}
	if out.Rejected != nil {
		return out, nil
	}

	var disputes []merge.Dispute
	if out.Score != nil && out.Score.FailedComponents > 0 {
		if !s.cfg.MergeFailedDatasets {
			out.MergeSkipped = true
			s.logger.Info(ctx, "failed challenge, dataset not merged",
				logger.String("submission_id", sub.SubmissionID),
				logger.String("miner_id", sub.MinerID),
				logger.String("challenge_id", out.Score.ChallengeID),
			)
			return out, nil
		}
		disputes = append(disputes, merge.Dispute{
			Token:   sub.Challenge.Token,
			TweetID: sub.Challenge.TweetID,
			Failed:  failedComponents(out.Results),
		})
	}

	report, err := s.merger.Merge(ctx, ds, disputes...)
	if err != nil {
		if errors.Is(err, merge.ErrDanglingEdge) || errors.Is(err, merge.ErrNoObservationTime) {
			s.logger.Warn(ctx, "dataset rejected by merge",
				logger.String("submission_id", sub.SubmissionID),
				logger.String("miner_id", sub.MinerID),
				logger.Error(err),
			)
			out.Rejected = err
			return out, nil
		}
		return out, fmt.Errorf("merge submission %s: %w", sub.SubmissionID, err)
	}
	out.Merge = &report
	return out, nil
}

// score verifies the challenged record and scores it. A dataset that failed
// validation counts as holding nothing for the challenged token.
func (s *Service) score(ctx context.Context, sub model.Submission, ds model.Dataset, valid bool) (model.ScoreResult, []model.ComponentResult, error) {
	ch := *sub.Challenge
	in := scoring.Input{
		MinerID:     sub.MinerID,
		Challenge:   ch,
		RespondedAt: sub.ReceivedAt,
	}
	if valid {
		if rec, ok := ds.Find(ch.Token, ch.TweetID); ok {
			in.Record = &rec
			// Late responses are not worth a ground-truth lookup.
			if s.engine.Responded(in) {
				in.Results = s.verifier.Verify(ctx, ch, rec, ds.ObservedAt)
			}
		}
	}

	res, err := s.engine.Score(ctx, in)
	if err != nil {
		return model.ScoreResult{}, nil, fmt.Errorf("score challenge %s: %w", ch.ID, err)
	}

	at := sub.ReceivedAt
	if at.IsZero() {
		at = s.now()
	}
	if _, err := s.leaderboard.Record(ctx, sub.MinerID, res.FinalScore, res.ChallengeID, at); err != nil {
		s.logger.Warn(ctx, "leaderboard update failed",
			logger.String("miner_id", sub.MinerID),
			logger.String("challenge_id", res.ChallengeID),
			logger.Error(err),
		)
	}
	return res, in.Results, nil
}

func failedComponents(results []model.ComponentResult) []model.Component {
	var out []model.Component
	for _, r := range results {
		if r.Failed() {
			out = append(out, r.Component)
		}
	}
	return out
}
