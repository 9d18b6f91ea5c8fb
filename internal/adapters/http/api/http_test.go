package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/veracity/internal/adapters/http/api"
	"github.com/okian/veracity/internal/adapters/repository"
	service "github.com/okian/veracity/internal/app"
	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/internal/domain/reputation"
)

// mockDependencies records submissions and serves canned leaderboard data.
type mockDependencies struct {
	submitted []model.Submission
	seen      map[string]bool
	submitErr error
	topN      []api.Entry
	topNErr   error
	rank      api.Entry
	rankErr   error
	weights   []reputation.Weight
	stats     map[string]any
}

func (m *mockDependencies) Submit(_ context.Context, sub model.Submission) (model.Ack, error) {
	if m.submitErr != nil {
		return model.Ack{}, m.submitErr
	}
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	ack := model.Ack{SubmissionID: sub.SubmissionID}
	if m.seen[sub.SubmissionID] {
		ack.Duplicate = true
		return ack, nil
	}
	m.seen[sub.SubmissionID] = true
	m.submitted = append(m.submitted, sub)
	return ack, nil
}

func (m *mockDependencies) TopN(_ context.Context, n int) ([]api.Entry, error) {
	if m.topNErr != nil {
		return nil, m.topNErr
	}
	if n > len(m.topN) {
		return m.topN, nil
	}
	return m.topN[:n], nil
}

func (m *mockDependencies) Rank(_ context.Context, _ string) (api.Entry, error) {
	if m.rankErr != nil {
		return api.Entry{}, m.rankErr
	}
	return m.rank, nil
}

func (m *mockDependencies) Weights(context.Context) ([]reputation.Weight, error) {
	return m.weights, nil
}

func (m *mockDependencies) GetStats() map[string]any { return m.stats }

func newMux(deps *mockDependencies) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, 100).Register(context.Background(), mux)
	return mux
}

func serve(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

const submissionBody = `{
	"submission_id": "s1",
	"miner_id": "m1",
	"observed_at": "2024-05-14T11:00:00Z",
	"received_at": "2001-01-01T00:00:00Z",
	"challenge": {"id": "c1", "token": "TAO", "target_components": ["tweet_id"], "issued_at": "2024-05-14T12:00:00Z"},
	"records": [{"token": "TAO"}]
}`

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDependencies{stats: map[string]any{"started": true}}
		mux := newMux(deps)

		Convey("Then health answers with a JSON status", func() {
			w := serve(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
		})

		Convey("Then health serves metrics to scrapers", func() {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set("Accept", "text/plain")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "veracity_")
		})

		Convey("Then metrics are exposed", func() {
			w := serve(mux, http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then stats are returned as JSON", func() {
			w := serve(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var got map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
			So(got["started"], ShouldEqual, true)
		})

		Convey("Then unknown paths are not found", func() {
			w := serve(mux, http.MethodGet, "/unknown", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestSubmissionsHandler(t *testing.T) {
	Convey("Given the submissions endpoint", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("When a submission is posted", func() {
			w := serve(mux, http.MethodPost, "/submissions", submissionBody)

			Convey("Then it is accepted with the server's receipt time", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Body.String(), ShouldContainSubstring, `"status":"accepted"`)
				So(deps.submitted, ShouldHaveLength, 1)
				So(deps.submitted[0].ReceivedAt.IsZero(), ShouldBeTrue)
				So(deps.submitted[0].Challenge.Token, ShouldEqual, "TAO")
				So(string(deps.submitted[0].Records), ShouldContainSubstring, "TAO")
			})

			Convey("Then posting it again is a duplicate", func() {
				again := serve(mux, http.MethodPost, "/submissions", submissionBody)
				So(again.Code, ShouldEqual, http.StatusOK)
				So(again.Body.String(), ShouldContainSubstring, `"duplicate":true`)
			})
		})

		Convey("When the body is not JSON", func() {
			w := serve(mux, http.MethodPost, "/submissions", "{")

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, `"code":"bad_request"`)
			})
		})

		Convey("When the method is not POST", func() {
			w := serve(mux, http.MethodGet, "/submissions", "")

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the service refuses the submission", func() {
			for _, tc := range []struct {
				err  error
				code int
			}{
				{fmt.Errorf("%w: miner_id is required", service.ErrInvalidSubmission), http.StatusBadRequest},
				{fmt.Errorf("%w: full", service.ErrBackpressure), http.StatusTooManyRequests},
				{service.ErrNotStarted, http.StatusServiceUnavailable},
				{errors.New("boom"), http.StatusInternalServerError},
			} {
				deps.submitErr = tc.err
				w := serve(mux, http.MethodPost, "/submissions", submissionBody)
				So(w.Code, ShouldEqual, tc.code)
			}
		})
	})
}

func TestLeaderboardHandler_HandleGetLeaderboard(t *testing.T) {
	Convey("Given a leaderboard of three miners", t, func() {
		deps := &mockDependencies{topN: []api.Entry{
			{Rank: 1, MinerID: "m1", Score: 0.9},
			{Rank: 2, MinerID: "m2", Score: 0.5},
			{Rank: 2, MinerID: "m3", Score: 0.5},
		}}
		mux := newMux(deps)

		Convey("When the top two are requested", func() {
			w := serve(mux, http.MethodGet, "/leaderboard?limit=2", "")

			Convey("Then two entries are returned in order", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var got []api.Entry
				So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].MinerID, ShouldEqual, "m1")
			})
		})

		Convey("When no limit is given", func() {
			w := serve(mux, http.MethodGet, "/leaderboard", "")

			Convey("Then the default page is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When the limit is invalid or too large", func() {
			So(serve(mux, http.MethodGet, "/leaderboard?limit=abc", "").Code, ShouldEqual, http.StatusBadRequest)
			So(serve(mux, http.MethodGet, "/leaderboard?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
			w := serve(mux, http.MethodGet, "/leaderboard?limit=101", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(w.Body.String(), ShouldContainSubstring, "limit_exceeded")
		})

		Convey("When the store fails", func() {
			deps.topNErr = errors.New("store down")
			w := serve(mux, http.MethodGet, "/leaderboard?limit=2", "")

			Convey("Then it is an internal error", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
			})
		})
	})
}

func TestRankHandler_HandleGetRank(t *testing.T) {
	Convey("Given the rank endpoint", t, func() {
		deps := &mockDependencies{rank: api.Entry{Rank: 3, MinerID: "m1", Score: 0.4}}
		mux := newMux(deps)

		Convey("When a known miner is requested", func() {
			w := serve(mux, http.MethodGet, "/rank/m1", "")

			Convey("Then its entry is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var got api.Entry
				So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
				So(got.Rank, ShouldEqual, 3)
			})
		})

		Convey("When the miner is unknown", func() {
			deps.rankErr = fmt.Errorf("lookup: %w", repository.ErrNotFound)
			w := serve(mux, http.MethodGet, "/rank/nobody", "")

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(w.Body.String(), ShouldContainSubstring, `"code":"not_found"`)
			})
		})

		Convey("When the path has no miner id", func() {
			So(serve(mux, http.MethodGet, "/rank/", "").Code, ShouldEqual, http.StatusBadRequest)
			So(serve(mux, http.MethodGet, "/rank/a/b", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestWeightsHandler_HandleGetWeights(t *testing.T) {
	Convey("Given two weighted miners", t, func() {
		deps := &mockDependencies{weights: []reputation.Weight{
			{MinerID: "m1", Score: 0.75, Weight: 750},
			{MinerID: "m2", Score: 0.25, Weight: 250},
		}}
		mux := newMux(deps)

		w := serve(mux, http.MethodGet, "/weights", "")

		Convey("Then the weights and their scale are returned", func() {
			So(w.Code, ShouldEqual, http.StatusOK)
			var got struct {
				Scale   int64               `json:"scale"`
				Weights []reputation.Weight `json:"weights"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
			So(got.Scale, ShouldEqual, int64(reputation.Scale))
			So(got.Weights, ShouldResemble, deps.weights)
		})
	})

	Convey("Given no miners", t, func() {
		w := serve(newMux(&mockDependencies{}), http.MethodGet, "/weights", "")

		Convey("Then an empty list is returned", func() {
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"weights":[]`)
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given an error wrapped with a kind", t, func() {
		cause := errors.New("decode failed")
		err := api.WrapKind("api.op", api.ErrBadRequest, cause)

		Convey("Then both the kind and the cause match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: decode failed")
		})

		Convey("Then a bare kind has no cause", func() {
			So(api.NewKind("api.op", api.ErrNotFound).Error(), ShouldEqual, "api.op: not found")
			So(errors.Is(api.Wrap("api.op", cause), api.ErrInternal), ShouldBeTrue)
		})
	})
}
