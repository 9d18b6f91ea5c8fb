// Package scoring turns verification outcomes into a bounded per-challenge score.
//
// Layers, in order:
//  1. Response: no record for the challenged token in time scores 0 and stops.
//  2. Failures: determinate failed components map to a base score.
//  3. Organic bonus: authors above the follower threshold add a fixed bonus.
//  4. Receipt multiplier: looked up from the ledger, never computed here.
//
// final = clamp(base*multiplier + bonus, 0, 1). A result is only returned once
// its receipt has been appended to the ledger.
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/pkg/keylock"
	"github.com/okian/veracity/pkg/logger"
	"github.com/okian/veracity/pkg/metrics"
)

const (
	defaultOrganicThreshold = 1000
	defaultOrganicBonus     = 0.1
	defaultResponseWindow   = time.Minute
	defaultLedgerTimeout    = 3 * time.Second
	minerStripes            = 1024
)

// Ledger is the receipt store the engine reads multipliers from and writes to.
type Ledger interface {
	// Append durably stores r. Appending a receipt for a (challenge, miner) pair
	// that already exists returns the stored receipt unchanged.
	Append(ctx context.Context, r model.Receipt) (model.Receipt, error)
	// MultiplierFor aggregates the miner's receipt history.
	MultiplierFor(ctx context.Context, minerID string) (float64, error)
}

// Input carries one challenge's outcome. Record is nil when the miner's
// dataset holds nothing for the challenged token.
type Input struct {
	MinerID     string
	Challenge   model.Challenge
	Record      *model.TokenRecord
	RespondedAt time.Time
	Results     []model.ComponentResult
}

// Engine scores challenges and persists a receipt for each.
type Engine struct {
	ledger           Ledger
	failureScores    []float64
	organicThreshold int64
	organicBonus     float64
	responseWindow   time.Duration
	ledgerTimeout    time.Duration
	now              func() time.Time
	// Per-miner serialization: a multiplier lookup sees every receipt of that
	// miner appended before it.
	miners *keylock.Striped
	logger logger.Logger
}

// NewEngine creates an Engine writing receipts to ledger.
func NewEngine(ledger Ledger, opts ...Option) *Engine {
	e := &Engine{
		ledger:           ledger,
		failureScores:    []float64{1.0, 0.7, 0.3, 0.0},
		organicThreshold: defaultOrganicThreshold,
		organicBonus:     defaultOrganicBonus,
		responseWindow:   defaultResponseWindow,
		ledgerTimeout:    defaultLedgerTimeout,
		now:              time.Now,
		miners:           keylock.New(minerStripes),
		logger:           logger.Get().Named("scoring"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Responded reports whether the input clears the response layer.
func (e *Engine) Responded(in Input) bool {
	if in.Record == nil {
		return false
	}
	if e.responseWindow > 0 && !in.Challenge.IssuedAt.IsZero() && !in.RespondedAt.IsZero() {
		return !in.RespondedAt.After(in.Challenge.IssuedAt.Add(e.responseWindow))
	}
	return true
}

// BaseScore maps a failed-component count to its base score.
func (e *Engine) BaseScore(failed int) float64 {
	if failed < 0 {
		failed = 0
	}
	if failed >= len(e.failureScores) {
		failed = len(e.failureScores) - 1
	}
	return e.failureScores[failed]
}

// Compute runs the layers for a given multiplier. It is a pure function of
// its arguments and writes nothing.
func (e *Engine) Compute(in Input, multiplier float64) model.ScoreResult {
	res := model.ScoreResult{
		MinerID:           in.MinerID,
		ChallengeID:       in.Challenge.ID,
		ReceiptMultiplier: sanitize(multiplier),
	}
	if !e.Responded(in) {
		res.State = model.StateNoResponse
		return res
	}

	res.State = model.StateScored
	followersFailed := false
	for _, r := range in.Results {
		switch {
		case r.Failed():
			res.FailedComponents++
			followersFailed = followersFailed || r.Component == model.ComponentFollowerCount
		case r.Indeterminate():
			res.Indeterminate++
		}
	}
	res.BaseScore = e.BaseScore(res.FailedComponents)
	// A follower count ground truth refuted earns no organic bonus.
	if !followersFailed && in.Record.UserAccount.FollowerCount > e.organicThreshold {
		res.Bonus = e.organicBonus
	}
	res.FinalScore = clamp(res.BaseScore*res.ReceiptMultiplier + res.Bonus)
	return res
}

// Score looks up the miner's multiplier, computes the result and appends its
// receipt. Calls for the same miner are serialized; different miners proceed
// in parallel. A failed append returns ErrLedgerWrite and no result.
func (e *Engine) Score(ctx context.Context, in Input) (model.ScoreResult, error) {
	if in.MinerID == "" || in.Challenge.ID == "" {
		return model.ScoreResult{}, fmt.Errorf("%w: miner and challenge ids are required", ErrInvalidInput)
	}
	start := time.Now()
	defer func() {
		metrics.RecordScoringLatency(float64(time.Since(start).Milliseconds()))
	}()

	unlock := e.miners.Lock(in.MinerID)
	defer unlock()

	lctx, cancel := context.WithTimeout(ctx, e.ledgerTimeout)
	defer cancel()

	multiplier, err := e.ledger.MultiplierFor(lctx, in.MinerID)
	if err != nil {
		metrics.RecordScoringError()
		e.logger.Error(ctx, "receipt multiplier lookup failed",
			logger.String("miner_id", in.MinerID),
			logger.String("challenge_id", in.Challenge.ID),
			logger.Error(err),
		)
		return model.ScoreResult{}, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	res := e.Compute(in, multiplier)
	if res.State == model.StateScored && res.Indeterminate > 0 && res.Indeterminate == len(in.Results) {
		e.logger.Warn(ctx, "no determinate component; scored as zero failures",
			logger.String("miner_id", in.MinerID),
			logger.String("challenge_id", in.Challenge.ID),
			logger.Int("indeterminate", res.Indeterminate),
		)
	}

	writeStart := time.Now()
	stored, err := e.ledger.Append(lctx, model.Receipt{
		ChallengeID: in.Challenge.ID,
		MinerID:     in.MinerID,
		Result:      res,
		CreatedAt:   e.now().UTC(),
	})
	if err != nil {
		metrics.RecordLedgerWriteError()
		metrics.RecordScoringError()
		e.logger.Error(ctx, "receipt append failed",
			logger.String("miner_id", in.MinerID),
			logger.String("challenge_id", in.Challenge.ID),
			logger.Error(err),
		)
		return model.ScoreResult{}, fmt.Errorf("%w: %w", ErrLedgerWrite, err)
	}
	metrics.RecordLedgerWrite(float64(time.Since(writeStart).Milliseconds()))
	metrics.RecordChallengeScored(string(stored.Result.State), stored.Result.FinalScore)

	e.logger.Debug(ctx, "challenge scored",
		logger.String("miner_id", in.MinerID),
		logger.String("challenge_id", in.Challenge.ID),
		logger.String("state", string(stored.Result.State)),
		logger.Float64("final_score", stored.Result.FinalScore),
	)
	return stored.Result, nil
}

func sanitize(m float64) float64 {
	if math.IsNaN(m) || m < 0 {
		return 0
	}
	if math.IsInf(m, 1) {
		return math.MaxFloat64
	}
	return m
}

func clamp(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
