package verify

import (
	"time"

	"github.com/okian/veracity/pkg/logger"
)

// Option applies a configuration option to the Verifier.
type Option func(*Verifier)

// WithFetchTimeout bounds each component's ground-truth fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.fetchTimeout = d
		}
	}
}

// WithFollowerDriftTolerance sets the relative follower_count drift accepted
// when ground truth was only observed after the miner's observation.
func WithFollowerDriftTolerance(tol float64) Option {
	return func(v *Verifier) {
		if tol >= 0 {
			v.driftTolerance = tol
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}
