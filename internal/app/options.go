package service

import (
	"time"

	"github.com/okian/veracity/internal/config"
	"github.com/okian/veracity/internal/domain/verify"
	"github.com/okian/veracity/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGraphStore uses g instead of the configured graph backend.
func WithGraphStore(g GraphStore) Option {
	return func(s *Service) { s.graph = g }
}

// WithLedger uses l instead of the configured ledger backend.
func WithLedger(l Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithFetcher uses f instead of the X API client.
func WithFetcher(f verify.Fetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithClock overrides the time source used to stamp submissions and receipts.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
