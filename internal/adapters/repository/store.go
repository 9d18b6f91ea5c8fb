// Package repository keeps the miner leaderboard: the latest final score of
// each miner, ranked.
package repository

import (
	"context"
	"time"
)

// Entry is one leaderboard row.
type Entry struct {
	Rank        int       `json:"rank"`
	MinerID     string    `json:"miner_id"`
	Score       float64   `json:"score"`
	ChallengeID string    `json:"challenge_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store provides read/write access to the leaderboard.
type Store interface {
	// Record replaces the miner's score with one observed at at. An update
	// older than the stored one is ignored and reported as false.
	Record(ctx context.Context, minerID string, score float64, challengeID string, at time.Time) (bool, error)

	// Rank returns the miner's entry. Equal scores share a rank and the next
	// rank skips (1, 2, 2, 4). Returns ErrNotFound for an unknown miner.
	Rank(ctx context.Context, minerID string) (Entry, error)

	// TopN returns the best n entries, score desc then miner id asc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// All returns every entry in rank order.
	All(ctx context.Context) []Entry

	// Count returns the number of miners tracked.
	Count(ctx context.Context) int
}
