package loadtest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/okian/veracity/pkg/logger"
)

// errEmptyLeaderboard is returned when there is nothing to verify.
var errEmptyLeaderboard = errors.New("empty leaderboard")

// retrieveRanks fetches /rank for each miner concurrently. Miners without
// an entry are left out.
func retrieveRanks(ctx context.Context, cfg *Config, c *client, miners []string, stats *Stats) []Entry {
	log := logger.Get().Named("loadtest")
	ranks := make([]Entry, len(miners))
	found := make([]bool, len(miners))

	indices := make(chan int, cfg.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indices {
				var e Entry
				if err := c.getJSON(ctx, "/rank/"+url.PathEscape(miners[idx]), &e); err != nil {
					if cfg.Verbose {
						log.Warn(ctx, "rank lookup failed", logger.String("minerID", miners[idx]), logger.Error(err))
					}
					continue
				}
				ranks[idx], found[idx] = e, true
			}
		}()
	}
	for i := range miners {
		indices <- i
	}
	close(indices)
	wg.Wait()

	out := make([]Entry, 0, len(ranks))
	for i, e := range ranks {
		if found[i] {
			out = append(out, e)
		}
	}
	stats.RanksRetrieved = len(out)
	return out
}

// getLeaderboard fetches the top n entries.
func getLeaderboard(ctx context.Context, c *client, n int, stats *Stats) ([]Entry, error) {
	var entries []Entry
	if err := c.getJSON(ctx, fmt.Sprintf("/leaderboard?limit=%d", n), &entries); err != nil {
		return nil, err
	}
	stats.LeaderboardEntries = len(entries)
	return entries, nil
}

// verifyLeaderboard checks that entries are sorted by score with
// competition ranks and agree with the per-miner ranks.
func verifyLeaderboard(leaderboard, ranks []Entry) error {
	if len(leaderboard) == 0 {
		return errEmptyLeaderboard
	}
	for i, e := range leaderboard {
		if i == 0 {
			if e.Rank != 1 {
				return fmt.Errorf("first entry %s has rank %d", e.MinerID, e.Rank)
			}
			continue
		}
		prev := leaderboard[i-1]
		switch {
		case e.Score > prev.Score:
			return fmt.Errorf("entry %d (%s) outscores entry %d (%s)", i, e.MinerID, i-1, prev.MinerID)
		case e.Score == prev.Score && e.Rank != prev.Rank:
			return fmt.Errorf("tied entries %s and %s have ranks %d and %d", prev.MinerID, e.MinerID, prev.Rank, e.Rank)
		case e.Score < prev.Score && e.Rank != i+1:
			return fmt.Errorf("entry %d (%s) has rank %d, want %d", i, e.MinerID, e.Rank, i+1)
		}
	}

	byMiner := make(map[string]Entry, len(ranks))
	for _, r := range ranks {
		byMiner[r.MinerID] = r
	}
	for _, e := range leaderboard {
		r, ok := byMiner[e.MinerID]
		if !ok {
			continue
		}
		if r.Rank != e.Rank || r.Score != e.Score {
			return fmt.Errorf("miner %s: leaderboard has rank %d score %.4f, rank endpoint has rank %d score %.4f",
				e.MinerID, e.Rank, e.Score, r.Rank, r.Score)
		}
	}
	return nil
}

// averageScore returns the mean score of entries.
func averageScore(entries []Entry) float64 {
	if len(entries) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range entries {
		sum += e.Score
	}
	return sum / float64(len(entries))
}

// topMiners returns up to n miner ids of entries ordered by rank.
func topMiners(entries []Entry, n int) []string {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]string, len(sorted))
	for i, e := range sorted {
		out[i] = e.MinerID
	}
	return out
}
