package model

import (
	"fmt"
	"time"
)

// Component is one verifiable field of a challenge.
type Component string

// Challengeable components.
const (
	ComponentTweetID       Component = "tweet_id"
	ComponentUserID        Component = "user_id"
	ComponentFollowerCount Component = "follower_count"
	ComponentTweetDate     Component = "tweet_date"
	ComponentVerified      Component = "verified"
)

// Components returns the fixed challengeable set in canonical order.
func Components() []Component {
	return []Component{
		ComponentTweetID,
		ComponentUserID,
		ComponentFollowerCount,
		ComponentTweetDate,
		ComponentVerified,
	}
}

// ParseComponent validates a component name.
func ParseComponent(s string) (Component, error) {
	for _, c := range Components() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown component %q", s)
}

// Challenge asks a miner to back specific fields of its record for Token.
// TweetID optionally pins the record being challenged.
type Challenge struct {
	ID               string      `json:"id"`
	Token            string      `json:"token"`
	TweetID          string      `json:"tweet_id,omitempty"`
	TargetComponents []Component `json:"target_components"`
	IssuedAt         time.Time   `json:"issued_at"`
}

// Outcome is the verification verdict for one component.
type Outcome string

// Component outcomes.
const (
	OutcomePassed        Outcome = "passed"
	OutcomeFailed        Outcome = "failed"
	OutcomeIndeterminate Outcome = "indeterminate"
)

// ComponentResult is the verdict for one requested component.
type ComponentResult struct {
	Component Component `json:"component"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
}

// Passed reports a determinate pass.
func (r ComponentResult) Passed() bool { return r.Outcome == OutcomePassed }

// Failed reports a determinate failure.
func (r ComponentResult) Failed() bool { return r.Outcome == OutcomeFailed }

// Indeterminate reports that ground truth was unavailable.
func (r ComponentResult) Indeterminate() bool { return r.Outcome == OutcomeIndeterminate }

// ScoreState is the terminal state of the scoring state machine.
type ScoreState string

// Terminal scoring states.
const (
	StateScored     ScoreState = "scored"
	StateNoResponse ScoreState = "no_response"
)

// ScoreResult is the outcome of scoring one challenge for one miner.
type ScoreResult struct {
	MinerID           string     `json:"miner_id"`
	ChallengeID       string     `json:"challenge_id"`
	State             ScoreState `json:"state"`
	FailedComponents  int        `json:"failed_components"`
	Indeterminate     int        `json:"indeterminate_components"`
	BaseScore         float64    `json:"base_score"`
	Bonus             float64    `json:"bonus"`
	ReceiptMultiplier float64    `json:"receipt_multiplier"`
	FinalScore        float64    `json:"final_score"`
}

// Receipt is the durable, append-only record of one ScoreResult.
type Receipt struct {
	ChallengeID string      `json:"challenge_id"`
	MinerID     string      `json:"miner_id"`
	Result      ScoreResult `json:"score_result"`
	CreatedAt   time.Time   `json:"created_at"`
}
