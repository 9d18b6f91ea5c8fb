// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"time"
)

// Tweet is a post observed by a miner. Identity key is ID.
type Tweet struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Text      string    `json:"text"`
	Likes     int64     `json:"likes"`
	Images    []string  `json:"images"`
	Timestamp time.Time `json:"timestamp"`
}

// UserAccount is the author of a tweet. Identity key is UserID.
type UserAccount struct {
	Username        string    `json:"username"`
	UserID          string    `json:"user_id"`
	IsVerified      bool      `json:"is_verified"`
	IsBlueVerified  bool      `json:"is_blue_verified"`
	FollowerCount   int64     `json:"follower_count"`
	AccountAge      time.Time `json:"account_age"`
	EngagementLevel float64   `json:"engagement_level"`
	TotalTweets     int64     `json:"total_tweets"`
}

// Region is a shared low-cardinality reference node.
type Region struct {
	Name string `json:"name"`
}

// Edge is a directed, typed relation between entity identifiers.
// An empty To marks a self-referencing relation.
type Edge struct {
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// TokenRecord is one token-centric observation inside a dataset.
type TokenRecord struct {
	Token       string      `json:"token"`
	Tweet       Tweet       `json:"tweet"`
	UserAccount UserAccount `json:"user_account"`
	Region      Region      `json:"region"`
	Hashtags    []string    `json:"hashtags,omitempty"`
	Edges       []Edge      `json:"edges"`
}

// Dataset is one miner submission for one point in time. Records keep
// submission order and are never edited after construction.
type Dataset struct {
	SubmissionID string
	MinerID      string
	ObservedAt   time.Time
	Records      []TokenRecord
}

// Find returns the record answering a challenge: the first record for token,
// narrowed to tweetID when one is given.
func (d Dataset) Find(token, tweetID string) (TokenRecord, bool) {
	for _, r := range d.Records {
		if r.Token != token {
			continue
		}
		if tweetID == "" || r.Tweet.ID == tweetID {
			return r, true
		}
	}
	return TokenRecord{}, false
}

// HasToken reports whether any record carries token.
func (d Dataset) HasToken(token string) bool {
	for _, r := range d.Records {
		if r.Token == token {
			return true
		}
	}
	return false
}

// Submission is the envelope a miner response arrives in. Records stay raw
// until the schema validator has accepted them.
type Submission struct {
	SubmissionID string          `json:"submission_id"`
	MinerID      string          `json:"miner_id"`
	ObservedAt   time.Time       `json:"observed_at"`
	ReceivedAt   time.Time       `json:"received_at"`
	Challenge    *Challenge      `json:"challenge,omitempty"`
	Records      json.RawMessage `json:"records"`
}

// Ack acknowledges an accepted submission. Duplicate is set when the
// submission id was already accepted earlier.
type Ack struct {
	SubmissionID string `json:"submission_id"`
	ChallengeID  string `json:"challenge_id,omitempty"`
	Duplicate    bool   `json:"duplicate"`
}
