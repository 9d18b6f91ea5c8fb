package scoring

import (
	"time"

	"github.com/okian/veracity/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithFailureScores maps failed-component count to base score. The last
// entry applies to every higher count.
func WithFailureScores(scores []float64) Option {
	return func(e *Engine) {
		if len(scores) > 0 {
			e.failureScores = append([]float64(nil), scores...)
		}
	}
}

// WithOrganicBonus sets the follower threshold (exclusive) and the additive bonus.
func WithOrganicBonus(threshold int64, bonus float64) Option {
	return func(e *Engine) {
		e.organicThreshold = threshold
		e.organicBonus = bonus
	}
}

// WithResponseWindow sets how long after issuance a response still counts.
// Zero disables the window.
func WithResponseWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.responseWindow = d
		}
	}
}

// WithLedgerTimeout bounds each ledger call.
func WithLedgerTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ledgerTimeout = d
		}
	}
}

// WithClock overrides the receipt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
