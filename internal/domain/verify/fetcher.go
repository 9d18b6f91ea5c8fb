package verify

import (
	"context"
	"time"

	"github.com/okian/veracity/internal/domain/model"
)

// Value is one ground-truth observation. Only the field matching the
// component is meaningful. Found=false is an authoritative "does not exist".
type Value struct {
	Found        bool
	Text         string
	Count        int64
	Time         time.Time
	Verified     bool
	BlueVerified bool
	// ObservedAt is when the ground truth was observed; zero means "now".
	ObservedAt time.Time
}

// Fetcher supplies authoritative values keyed by the entity the miner claims:
// tweet_id, user_id and tweet_date by tweet id; follower_count and verified by user id.
// asOf asks for the observation at or nearest before that time when history exists.
// Any error means the value is unknown and the component becomes indeterminate.
type Fetcher interface {
	Fetch(ctx context.Context, component model.Component, entityID string, asOf time.Time) (Value, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, component model.Component, entityID string, asOf time.Time) (Value, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, c model.Component, id string, asOf time.Time) (Value, error) {
	return f(ctx, c, id, asOf)
}

// EntityFor returns the identifier a component is fetched by.
func EntityFor(c model.Component, rec model.TokenRecord) string {
	switch c {
	case model.ComponentFollowerCount, model.ComponentVerified:
		return rec.UserAccount.UserID
	default:
		return rec.Tweet.ID
	}
}
