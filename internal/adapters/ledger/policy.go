// Package ledger stores scoring receipts and aggregates them into the
// per-miner receipt multiplier.
package ledger

import (
	"math"
	"time"

	"github.com/okian/veracity/internal/domain/model"
)

// Policy turns a miner's receipt history into a multiplier.
type Policy struct {
	// Window is how far back receipts count. Zero counts every receipt.
	Window time.Duration
	// MinHistory is the receipt count below which the multiplier is neutral.
	MinHistory int
	// PassThreshold is the base score at or above which a receipt passes.
	PassThreshold float64
}

// DefaultPolicy is a 30 day window, five receipts of history and a 0.7 pass mark.
func DefaultPolicy() Policy {
	return Policy{Window: 30 * 24 * time.Hour, MinHistory: 5, PassThreshold: 0.7}
}

// Passed reports whether a stored result counts as a pass.
func (p Policy) Passed(r model.ScoreResult) bool {
	return r.State == model.StateScored && r.BaseScore >= p.PassThreshold
}

// Multiplier is (passed/total)^2, or 1 while history is shorter than MinHistory.
func (p Policy) Multiplier(passed, total int) float64 {
	if total <= 0 || total < p.MinHistory {
		return 1
	}
	ratio := float64(passed) / float64(total)
	return math.Pow(ratio, 2)
}

// since is the oldest creation time still inside the window.
func (p Policy) since(now time.Time) time.Time {
	if p.Window <= 0 {
		return time.Time{}
	}
	return now.Add(-p.Window)
}
