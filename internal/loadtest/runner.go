package loadtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/pkg/logger"
)

// ErrDrainTimeout is returned when the service does not score every miner in time.
var ErrDrainTimeout = errors.New("service did not drain in time")

// topDisplay is how many leaders are logged at the end of a run.
const topDisplay = 10

// Run executes a complete load run against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Get().Named("loadtest")
	stats := &Stats{StartTime: time.Now()}
	if err := cfg.validate(); err != nil {
		return stats, err
	}

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("miners", cfg.Miners),
		logger.Int("submissionsPerMiner", cfg.Submissions),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout))

	c := newClient(cfg.BaseURL, cfg.Timeout)
	if err := checkHealth(ctx, c); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	subs, err := generateSubmissions(cfg, time.Now())
	if err != nil {
		return stats, err
	}
	stats.Generated = len(subs)

	submitAll(ctx, cfg, c, subs, stats)

	if err := waitForDrain(ctx, c, cfg.Miners, cfg.DrainTimeout); err != nil {
		return stats, err
	}

	miners := make([]string, cfg.Miners)
	for i := range miners {
		miners[i] = subs[i*cfg.Submissions].MinerID
	}
	ranks := retrieveRanks(ctx, cfg, c, miners, stats)

	leaderboard, err := getLeaderboard(ctx, c, cfg.Miners, stats)
	if err != nil {
		return stats, fmt.Errorf("leaderboard retrieval failed: %w", err)
	}
	if err := verifyLeaderboard(leaderboard, ranks); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	if cfg.OutputFile != "" {
		if err := saveSubmissions(cfg.OutputFile, subs); err != nil {
			log.Warn(ctx, "failed to save submissions", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	logFinalStats(ctx, log, stats, leaderboard)
	return stats, nil
}

// checkHealth verifies the service answers /healthz.
func checkHealth(ctx context.Context, c *client) error {
	code, _, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("connect to service: %w", err)
	}
	if code != http.StatusOK {
		return fmt.Errorf("health check returned status %d", code)
	}
	return nil
}

// waitForDrain polls /stats until the queue is empty and every miner has a
// leaderboard entry.
func waitForDrain(ctx context.Context, c *client, miners int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(DrainPollInterval)
	defer ticker.Stop()

	for {
		var stats struct {
			QueueLength int `json:"queueLength"`
			TotalMiners int `json:"totalMiners"`
		}
		if err := c.getJSON(ctx, "/stats", &stats); err == nil &&
			stats.QueueLength == 0 && stats.TotalMiners >= miners {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrDrainTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// saveSubmissions writes subs as a JSON array to filename.
func saveSubmissions(filename string, subs []model.Submission) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	raw, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal submissions: %w", err)
	}
	return os.WriteFile(filename, raw, outputFilePermission)
}

func logFinalStats(ctx context.Context, log logger.Logger, stats *Stats, leaderboard []Entry) {
	var acceptRate, perSecond float64
	if stats.Submitted > 0 {
		acceptRate = float64(stats.Accepted) / float64(stats.Submitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed),
		logger.Int("ranksRetrieved", stats.RanksRetrieved),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.Duration("duration", stats.Duration),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("submissionsPerSecond", perSecond),
		logger.Float64("averageScore", averageScore(leaderboard)),
		logger.Any("leaders", topMiners(leaderboard, topDisplay)))
}
