package ledger

import "time"

type settings struct {
	policy Policy
	now    func() time.Time
}

func defaults() settings {
	return settings{policy: DefaultPolicy(), now: time.Now}
}

// Option configures a ledger store.
type Option func(*settings)

// WithPolicy sets the multiplier policy.
func WithPolicy(p Policy) Option {
	return func(s *settings) { s.policy = p }
}

// WithClock overrides the window reference time.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}
