package merge

import "github.com/okian/veracity/pkg/logger"

// Option applies a configuration option to the Merger.
type Option func(*Merger)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Merger) {
		if l != nil {
			m.logger = l
		}
	}
}
