// Package reputation turns the latest miner scores into integer weights.
package reputation

import (
	"math"
	"sort"
)

// Scale is the total weight budget shared by all miners.
const Scale = 1000

// Score is a miner's latest final score.
type Score struct {
	MinerID string
	Score   float64
}

// Weight is a miner's share of Scale.
type Weight struct {
	MinerID string  `json:"miner_id"`
	Score   float64 `json:"score"`
	Weight  int64   `json:"weight"`
}

// Weights gives each miner floor(score*Scale/sum), sorted by miner id.
// Negative or non-finite scores count as zero; when every score is zero all
// weights are zero. Flooring means the weights may sum to less than Scale.
func Weights(scores []Score) []Weight {
	out := make([]Weight, 0, len(scores))
	sum := 0.0
	for _, s := range scores {
		v := s.Score
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			v = 0
		}
		sum += v
		out = append(out, Weight{MinerID: s.MinerID, Score: v})
	}
	if sum > 0 {
		for i := range out {
			out[i].Weight = int64(math.Floor(out[i].Score * Scale / sum))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinerID < out[j].MinerID })
	return out
}
