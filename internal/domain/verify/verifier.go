// Package verify checks challenged fields of a miner record against ground truth.
package verify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/pkg/logger"
	"github.com/okian/veracity/pkg/metrics"
)

const (
	defaultFetchTimeout   = 5 * time.Second
	defaultDriftTolerance = 0.05
)

// Verifier classifies each requested component as passed, failed or indeterminate.
// A component nobody can verify fails; it never counts toward a pass.
type Verifier struct {
	fetcher        Fetcher
	fetchTimeout   time.Duration
	driftTolerance float64
	logger         logger.Logger
}

// New creates a Verifier over fetcher.
func New(fetcher Fetcher, opts ...Option) *Verifier {
	v := &Verifier{
		fetcher:        fetcher,
		fetchTimeout:   defaultFetchTimeout,
		driftTolerance: defaultDriftTolerance,
		logger:         logger.Get().Named("verifier"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify fetches ground truth for every requested component concurrently and
// returns one result per distinct component, in request order. observedAt is the
// dataset's claimed observation time. A fetch that errors or outlives its deadline
// only marks its own component indeterminate.
func (v *Verifier) Verify(ctx context.Context, ch model.Challenge, rec model.TokenRecord, observedAt time.Time) []model.ComponentResult {
	components := distinct(ch.TargetComponents)
	results := make([]model.ComponentResult, len(components))

	var wg sync.WaitGroup
	for i, c := range components {
		wg.Add(1)
		go func(i int, c model.Component) {
			defer wg.Done()
			results[i] = v.check(ctx, c, rec, observedAt)
		}(i, c)
	}
	wg.Wait()

	for _, r := range results {
		metrics.RecordComponentOutcome(string(r.Component), string(r.Outcome))
		if r.Indeterminate() {
			v.logger.Warn(ctx, "component indeterminate",
				logger.String("challenge_id", ch.ID),
				logger.String("token", ch.Token),
				logger.String("component", string(r.Component)),
				logger.String("reason", r.Reason),
			)
		}
	}
	return results
}

func (v *Verifier) check(ctx context.Context, c model.Component, rec model.TokenRecord, observedAt time.Time) model.ComponentResult {
	if _, err := model.ParseComponent(string(c)); err != nil {
		return failed(c, fmt.Errorf("%w: %s", ErrUnknownComponent, c).Error())
	}

	fctx, cancel := context.WithTimeout(ctx, v.fetchTimeout)
	defer cancel()

	start := time.Now()
	gt, err := v.fetch(fctx, c, EntityFor(c, rec), observedAt)
	metrics.RecordGroundTruthLatency(string(c), float64(time.Since(start).Milliseconds()))
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		metrics.RecordGroundTruthError(string(c), reason)
		if !errors.Is(err, ErrIndeterminate) {
			err = fmt.Errorf("%w: %w", ErrIndeterminate, err)
		}
		return indeterminate(c, err)
	}
	if !gt.Found {
		return failed(c, "entity not found in ground truth")
	}

	switch c {
	case model.ComponentTweetID:
		return compare(c, gt.Text == rec.Tweet.ID, "tweet id %q, ground truth %q", rec.Tweet.ID, gt.Text)
	case model.ComponentUserID:
		return compare(c, gt.Text == rec.UserAccount.UserID, "author %q, ground truth %q", rec.UserAccount.UserID, gt.Text)
	case model.ComponentFollowerCount:
		return v.compareFollowers(rec.UserAccount.FollowerCount, gt, observedAt)
	case model.ComponentTweetDate:
		return compare(c, sameDay(rec.Tweet.Timestamp, gt.Time), "tweet date %s, ground truth %s",
			rec.Tweet.Timestamp.UTC().Format(time.DateOnly), gt.Time.UTC().Format(time.DateOnly))
	case model.ComponentVerified:
		ok := gt.Verified == rec.UserAccount.IsVerified && gt.BlueVerified == rec.UserAccount.IsBlueVerified
		return compare(c, ok, "verified=%t/%t, ground truth %t/%t",
			rec.UserAccount.IsVerified, rec.UserAccount.IsBlueVerified, gt.Verified, gt.BlueVerified)
	}
	return failed(c, ErrUnknownComponent.Error())
}

type answer struct {
	value Value
	err   error
}

// fetch abandons a fetcher that ignores its context once the deadline passes.
func (v *Verifier) fetch(ctx context.Context, c model.Component, id string, asOf time.Time) (Value, error) {
	done := make(chan answer, 1)
	go func() {
		val, err := v.fetcher.Fetch(ctx, c, id, asOf)
		done <- answer{value: val, err: err}
	}()
	select {
	case a := <-done:
		return a.value, a.err
	case <-ctx.Done():
		return Value{}, ctx.Err()
	}
}

// compareFollowers is exact against a snapshot at or before the claimed
// observation; a snapshot taken later only has to be within drift tolerance.
func (v *Verifier) compareFollowers(claimed int64, gt Value, observedAt time.Time) model.ComponentResult {
	c := model.ComponentFollowerCount
	if gt.ObservedAt.IsZero() || observedAt.IsZero() || !gt.ObservedAt.After(observedAt) {
		return compare(c, claimed == gt.Count, "followers %d, ground truth %d", claimed, gt.Count)
	}
	drift := math.Abs(float64(claimed - gt.Count))
	allowed := v.driftTolerance * float64(gt.Count)
	return compare(c, drift <= allowed, "followers %d, later ground truth %d beyond %.2f drift", claimed, gt.Count, v.driftTolerance)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func distinct(cs []model.Component) []model.Component {
	seen := make(map[model.Component]struct{}, len(cs))
	out := make([]model.Component, 0, len(cs))
	for _, c := range cs {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func compare(c model.Component, ok bool, format string, args ...any) model.ComponentResult {
	if ok {
		return model.ComponentResult{Component: c, Outcome: model.OutcomePassed}
	}
	return failed(c, fmt.Sprintf(format, args...))
}

func failed(c model.Component, reason string) model.ComponentResult {
	return model.ComponentResult{Component: c, Outcome: model.OutcomeFailed, Reason: reason}
}

func indeterminate(c model.Component, err error) model.ComponentResult {
	return model.ComponentResult{Component: c, Outcome: model.OutcomeIndeterminate, Reason: err.Error()}
}
