// Package groundtruth answers verification lookups from the X API, optionally
// through a local snapshot store of earlier observations.
package groundtruth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/internal/domain/verify"
	"github.com/okian/veracity/pkg/logger"
	"github.com/okian/veracity/pkg/metrics"
)

const (
	defaultBaseURL     = "https://api.twitter.com/2"
	defaultMaxAttempts = 3
	defaultBaseBackoff = 500 * time.Millisecond
	maxErrorBody       = 512
)

// XClient is a bearer-token X API v2 client implementing verify.Fetcher.
// Answers are live, so every Value is observed now regardless of asOf.
type XClient struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
	now         func() time.Time
	logger      logger.Logger
}

var _ verify.Fetcher = (*XClient)(nil)

// NewXClient creates a client limited to one request per second, burst five.
func NewXClient(opts ...Option) *XClient {
	c := &XClient{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(1), 5),
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		now:         time.Now,
		logger:      logger.Get().Named("groundtruth"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

type tweetResponse struct {
	Data *struct {
		ID        string    `json:"id"`
		AuthorID  string    `json:"author_id"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

type userResponse struct {
	Data *struct {
		ID            string `json:"id"`
		Verified      bool   `json:"verified"`
		VerifiedType  string `json:"verified_type"`
		PublicMetrics struct {
			FollowersCount int64 `json:"followers_count"`
		} `json:"public_metrics"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

// Fetch looks up the entity behind component. Tweet components resolve by
// tweet id, follower_count and verified by user id. A missing entity is
// Found=false; transport and quota failures are errors.
func (c *XClient) Fetch(ctx context.Context, component model.Component, entityID string, _ time.Time) (verify.Value, error) {
	start := time.Now()
	defer func() {
		metrics.RecordGroundTruthLatency(string(component), float64(time.Since(start).Milliseconds()))
	}()

	val, err := c.fetch(ctx, component, entityID)
	if err != nil {
		metrics.RecordGroundTruthError(string(component), reason(err))
		c.logger.Warn(ctx, "ground truth lookup failed",
			logger.String("component", string(component)),
			logger.String("entity_id", entityID),
			logger.Error(err))
		return verify.Value{}, err
	}
	return val, nil
}

func (c *XClient) fetch(ctx context.Context, component model.Component, id string) (verify.Value, error) {
	observed := c.now().UTC()
	switch component {
	case model.ComponentTweetID, model.ComponentUserID, model.ComponentTweetDate:
		var resp tweetResponse
		u := fmt.Sprintf("%s/tweets/%s?tweet.fields=author_id,created_at", c.baseURL, url.PathEscape(id))
		found, err := c.get(ctx, u, &resp)
		if err != nil {
			return verify.Value{}, err
		}
		if !found || resp.Data == nil {
			return verify.Value{Found: false, ObservedAt: observed}, nil
		}
		v := verify.Value{Found: true, ObservedAt: observed, Time: resp.Data.CreatedAt}
		switch component {
		case model.ComponentTweetID:
			v.Text = resp.Data.ID
		case model.ComponentUserID:
			v.Text = resp.Data.AuthorID
		}
		return v, nil

	case model.ComponentFollowerCount, model.ComponentVerified:
		var resp userResponse
		u := fmt.Sprintf("%s/users/%s?user.fields=public_metrics,verified,verified_type", c.baseURL, url.PathEscape(id))
		found, err := c.get(ctx, u, &resp)
		if err != nil {
			return verify.Value{}, err
		}
		if !found || resp.Data == nil {
			return verify.Value{Found: false, ObservedAt: observed}, nil
		}
		return verify.Value{
			Found:        true,
			ObservedAt:   observed,
			Text:         resp.Data.ID,
			Count:        resp.Data.PublicMetrics.FollowersCount,
			Verified:     resp.Data.Verified,
			BlueVerified: resp.Data.VerifiedType == "blue",
		}, nil
	}
	return verify.Value{}, fmt.Errorf("%w: %s", verify.ErrUnknownComponent, component)
}

// get decodes a 200 response into out. A 404 reports found=false.
func (c *XClient) get(ctx context.Context, u string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("%w: build request: %w", ErrUpstream, err)
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	req.Header.Set("Accept", "application/json")

	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return false, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("%w: decode: %w", ErrUpstream, err)
	}
	return true, nil
}

// doWithRetry retries 429 and 5xx responses and transport errors with
// doubling backoff, honoring Retry-After, with +/-20% jitter.
func (c *XClient) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.httpClient.Do(req.Clone(ctx))
		wait := backoff
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			wait = retryAfter(resp.Header.Get("Retry-After"), backoff)
			_ = resp.Body.Close()
		default:
			return resp, nil
		}
		if attempt == c.maxAttempts {
			break
		}
		if jitter := time.Duration(float64(wait) * 0.2); jitter > 0 {
			wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, c.maxAttempts, lastErr)
}

func retryAfter(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return fallback
}

func reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, ErrAttemptsExhausted):
		return "exhausted"
	default:
		return "upstream"
	}
}
