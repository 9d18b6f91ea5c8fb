// Package loadtest drives a running validator over HTTP with synthetic
// submissions and checks the resulting leaderboard.
package loadtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/okian/veracity/internal/adapters/repository"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Miners       int           // Number of distinct miners
	Submissions  int           // Submissions per miner
	Records      int           // Records per submission
	Token        string        // Token every record and challenge is about
	Workers      int           // Number of concurrent HTTP workers
	Timeout      time.Duration // HTTP request timeout
	DrainTimeout time.Duration // How long to wait for the queue to drain
	Seed         uint64        // Seed of the synthetic data
	OutputFile   string        // Where generated submissions are written; empty skips it
	Verbose      bool
}

// Entry is a leaderboard entry as served by the API.
type Entry = repository.Entry

// Stats holds run statistics.
type Stats struct {
	Generated          int
	Submitted          int
	Accepted           int
	Duplicate          int
	Failed             int
	RanksRetrieved     int
	LeaderboardEntries int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}

// ErrInvalidConfig is returned by Run for unusable settings.
var ErrInvalidConfig = errors.New("invalid load test config")

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.Token == "":
		return fmt.Errorf("%w: token is required", ErrInvalidConfig)
	case c.Miners < 1, c.Submissions < 1, c.Records < 1:
		return fmt.Errorf("%w: miners, submissions and records must be positive", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	return nil
}
