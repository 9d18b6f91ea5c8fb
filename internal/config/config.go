// Package config defines validator configuration and its loading hooks.
package config

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Backend names accepted by GraphBackend and LedgerBackend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`
	// LogFile, when set, also writes a size-rotated log file.
	LogFile       string `koanf:"log_file"`
	LogMaxSizeMB  int    `koanf:"log_max_size_mb"`
	LogMaxBackups int    `koanf:"log_max_backups"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory submission queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of pipeline workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize bounds the submission id idempotency window.
	DedupeSize int `koanf:"dedupe_size"`
	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// FetchTimeoutMS bounds a single ground-truth fetch.
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`
	// LedgerTimeoutMS bounds a receipt append.
	LedgerTimeoutMS int `koanf:"ledger_timeout_ms"`
	// LedgerRetryAttempts bounds how often a submission is rescored after a
	// ledger failure; LedgerRetryBackoffMS is the first delay and doubles.
	LedgerRetryAttempts  int `koanf:"ledger_retry_attempts"`
	LedgerRetryBackoffMS int `koanf:"ledger_retry_backoff_ms"`
	// ResponseWindowMS is how long after issuance a miner response still counts.
	ResponseWindowMS int `koanf:"response_window_ms"`

	// FollowerDriftTolerance is the relative follower_count drift accepted when the
	// only ground-truth observation postdates the miner's claimed observation time.
	FollowerDriftTolerance float64 `koanf:"follower_drift_tolerance"`

	// FailureScores maps failed-component count to base score; the last entry
	// applies to every higher count.
	FailureScores            []float64 `koanf:"failure_scores"`
	OrganicFollowerThreshold int64     `koanf:"organic_follower_threshold"`
	OrganicBonus             float64   `koanf:"organic_bonus"`

	// ReceiptWindowHours is the trailing window the receipt multiplier aggregates over.
	ReceiptWindowHours   int     `koanf:"receipt_window_hours"`
	ReceiptMinHistory    int     `koanf:"receipt_min_history"`
	ReceiptPassThreshold float64 `koanf:"receipt_pass_threshold"`

	// MergeFailedDatasets merges challenge-failed datasets with disputed fields stripped.
	MergeFailedDatasets bool `koanf:"merge_failed_datasets"`

	GraphBackend   string `koanf:"graph_backend"`
	LedgerBackend  string `koanf:"ledger_backend"`
	PostgresDSN    string `koanf:"postgres_dsn"`
	SnapshotDBPath string `koanf:"snapshot_db_path"`

	XAPIBaseURL     string  `koanf:"x_api_base_url"`
	XAPIBearerToken string  `koanf:"x_api_bearer_token"`
	XAPIRPS         float64 `koanf:"x_api_rps"`
	XAPIBurst       int     `koanf:"x_api_burst"`
	XAPIMaxAttempts int     `koanf:"x_api_max_attempts"`
}

// New creates a Config with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                 "info",
		LogFormat:                "text",
		LogMaxSizeMB:             100,
		LogMaxBackups:            5,
		Addr:                     ":9080",
		QueueSize:                10_000,
		WorkerCount:              runtime.NumCPU() * 4,
		DedupeSize:               100_000,
		MaxLeaderboardLimit:      256,
		FetchTimeoutMS:           5_000,
		LedgerTimeoutMS:          3_000,
		LedgerRetryAttempts:      3,
		LedgerRetryBackoffMS:     250,
		ResponseWindowMS:         60_000,
		FollowerDriftTolerance:   0.05,
		FailureScores:            []float64{1.0, 0.7, 0.3, 0.0},
		OrganicFollowerThreshold: 1000,
		OrganicBonus:             0.1,
		ReceiptWindowHours:       30 * 24,
		ReceiptMinHistory:        5,
		ReceiptPassThreshold:     0.7,
		MergeFailedDatasets:      true,
		GraphBackend:             BackendMemory,
		LedgerBackend:            BackendMemory,
		SnapshotDBPath:           "",
		XAPIBaseURL:              "https://api.twitter.com/2",
		XAPIRPS:                  1,
		XAPIBurst:                5,
		XAPIMaxAttempts:          3,
	}
}

// FetchTimeout returns FetchTimeoutMS as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// LedgerTimeout returns LedgerTimeoutMS as a duration.
func (c *Config) LedgerTimeout() time.Duration {
	return time.Duration(c.LedgerTimeoutMS) * time.Millisecond
}

// LedgerRetryBackoff returns LedgerRetryBackoffMS as a duration.
func (c *Config) LedgerRetryBackoff() time.Duration {
	return time.Duration(c.LedgerRetryBackoffMS) * time.Millisecond
}

// ResponseWindow returns ResponseWindowMS as a duration.
func (c *Config) ResponseWindow() time.Duration {
	return time.Duration(c.ResponseWindowMS) * time.Millisecond
}

// ReceiptWindow returns ReceiptWindowHours as a duration.
func (c *Config) ReceiptWindow() time.Duration {
	return time.Duration(c.ReceiptWindowHours) * time.Hour
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case len(c.FailureScores) == 0:
		return fmt.Errorf("%w: failure_scores must not be empty", ErrInvalidConfig)
	case c.FetchTimeoutMS <= 0 || c.LedgerTimeoutMS <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.LedgerRetryAttempts < 1 || c.LedgerRetryBackoffMS < 0:
		return fmt.Errorf("%w: ledger retry needs attempts >= 1 and a non-negative backoff", ErrInvalidConfig)
	case c.FollowerDriftTolerance < 0:
		return fmt.Errorf("%w: follower_drift_tolerance must be >= 0", ErrInvalidConfig)
	case c.OrganicBonus < 0 || c.OrganicBonus > 1:
		return fmt.Errorf("%w: organic_bonus must be within [0,1]", ErrInvalidConfig)
	}
	for i, s := range c.FailureScores {
		if s < 0 || s > 1 {
			return fmt.Errorf("%w: failure_scores[%d]=%v outside [0,1]", ErrInvalidConfig, i, s)
		}
	}
	for _, b := range []string{c.GraphBackend, c.LedgerBackend} {
		if b != BackendMemory && b != BackendPostgres {
			return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, b)
		}
		if b == BackendPostgres && c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres backend requires postgres_dsn", ErrInvalidConfig)
		}
	}
	return nil
}
