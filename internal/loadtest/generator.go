package loadtest

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/veracity/internal/domain/model"
)

// Synthetic data ranges.
const (
	baseTweetID       = 1790000000000000000
	baseUserID        = 1000
	maxFollowers      = 250000
	maxLikes          = 5000
	maxTweets         = 20000
	maxEngagement     = 10.0
	accountAgeYears   = 8
	tweetAgeHours     = 72
	blueVerifiedRatio = 0.3
)

var regions = []string{"Europe", "North America", "Asia", "South America", "Africa", "Oceania"}

// generator builds submissions from a seeded source so a run can be replayed.
type generator struct {
	rng   *rand.Rand
	now   time.Time
	token string
	tweet int64
}

func newGenerator(seed uint64, token string, now time.Time) *generator {
	return &generator{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:   now.UTC(),
		token: token,
	}
}

// generateSubmissions returns cfg.Miners*cfg.Submissions submissions, each
// challenged on every component of its first record.
func generateSubmissions(cfg *Config, now time.Time) ([]model.Submission, error) {
	g := newGenerator(cfg.Seed, cfg.Token, now)
	out := make([]model.Submission, 0, cfg.Miners*cfg.Submissions)
	for m := 0; m < cfg.Miners; m++ {
		minerID := "miner-" + strconv.Itoa(m)
		for s := 0; s < cfg.Submissions; s++ {
			sub, err := g.submission(minerID, cfg.Records)
			if err != nil {
				return nil, fmt.Errorf("generate submission for %s: %w", minerID, err)
			}
			out = append(out, sub)
		}
	}
	return out, nil
}

func (g *generator) submission(minerID string, n int) (model.Submission, error) {
	records := make([]model.TokenRecord, n)
	for i := range records {
		records[i] = g.record()
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return model.Submission{}, err
	}
	return model.Submission{
		SubmissionID: uuid.NewString(),
		MinerID:      minerID,
		ObservedAt:   g.now,
		Challenge: &model.Challenge{
			ID:               uuid.NewString(),
			Token:            g.token,
			TweetID:          records[0].Tweet.ID,
			TargetComponents: model.Components(),
			IssuedAt:         g.now,
		},
		Records: raw,
	}, nil
}

func (g *generator) record() model.TokenRecord {
	g.tweet++
	tweetID := strconv.FormatInt(baseTweetID+g.tweet, 10)
	userID := strconv.Itoa(baseUserID + g.rng.IntN(baseUserID))
	username := "user" + userID
	return model.TokenRecord{
		Token: g.token,
		Tweet: model.Tweet{
			ID:        tweetID,
			URL:       "https://x.com/" + username + "/status/" + tweetID,
			Text:      "$" + g.token + " looking strong",
			Likes:     g.rng.Int64N(maxLikes),
			Images:    []string{},
			Timestamp: g.now.Add(-time.Duration(g.rng.IntN(tweetAgeHours)+1) * time.Hour).Truncate(time.Second),
		},
		UserAccount: model.UserAccount{
			Username:        username,
			UserID:          userID,
			IsBlueVerified:  g.rng.Float64() < blueVerifiedRatio,
			FollowerCount:   g.rng.Int64N(maxFollowers),
			AccountAge:      g.now.AddDate(-1-g.rng.IntN(accountAgeYears), 0, 0).Truncate(time.Second),
			EngagementLevel: float64(int(g.rng.Float64()*maxEngagement*100)) / 100,
			TotalTweets:     g.rng.Int64N(maxTweets),
		},
		Region: model.Region{Name: regions[g.rng.IntN(len(regions))]},
		Edges: []model.Edge{
			{Type: "POSTED", From: userID, To: tweetID},
			{Type: "MENTIONS", From: userID, To: g.token},
		},
	}
}
