package groundtruth

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/veracity/internal/domain/verify"
	"github.com/okian/veracity/pkg/logger"
)

// Option applies a configuration option to the XClient.
type Option func(*XClient)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *XClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithBearerToken sets the app-only bearer token.
func WithBearerToken(token string) Option {
	return func(c *XClient) { c.bearerToken = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *XClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit caps outgoing requests per second with a burst allowance.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *XClient) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithMaxAttempts bounds retries of rate-limited and failed requests.
func WithMaxAttempts(n int) Option {
	return func(c *XClient) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBaseBackoff sets the first retry delay; it doubles per attempt.
func WithBaseBackoff(d time.Duration) Option {
	return func(c *XClient) {
		if d > 0 {
			c.baseBackoff = d
		}
	}
}

// WithClock overrides the observation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *XClient) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *XClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// SnapshotOption applies a configuration option to the Snapshot store.
type SnapshotOption func(*Snapshot)

// WithLive sets the fetcher consulted on a snapshot miss. Its answers are recorded.
func WithLive(f verify.Fetcher) SnapshotOption {
	return func(s *Snapshot) { s.live = f }
}

// WithSnapshotClock overrides the time used for an unset asOf.
func WithSnapshotClock(now func() time.Time) SnapshotOption {
	return func(s *Snapshot) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSnapshotLogger sets a custom logger.
func WithSnapshotLogger(l logger.Logger) SnapshotOption {
	return func(s *Snapshot) {
		if l != nil {
			s.logger = l
		}
	}
}
