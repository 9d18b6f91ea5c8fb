package groundtruth_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/veracity/internal/adapters/groundtruth"
	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/internal/domain/verify"
)

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	t3 := t1.Add(48 * time.Hour)

	Convey("Given a snapshot store with two follower observations", t, func() {
		s, err := groundtruth.OpenSnapshot(filepath.Join(t.TempDir(), "snap.db"))
		So(err, ShouldBeNil)
		defer s.Close()
		So(s.Record(ctx, model.ComponentFollowerCount, "u1", verify.Value{Found: true, Count: 900, ObservedAt: t1}), ShouldBeNil)
		So(s.Record(ctx, model.ComponentFollowerCount, "u1", verify.Value{Found: true, Count: 1000, ObservedAt: t3}), ShouldBeNil)

		Convey("When asked as of a time between them", func() {
			v, err := s.Fetch(ctx, model.ComponentFollowerCount, "u1", t1.Add(24*time.Hour))

			Convey("Then the earlier observation answers", func() {
				So(err, ShouldBeNil)
				So(v.Found, ShouldBeTrue)
				So(v.Count, ShouldEqual, int64(900))
				So(v.ObservedAt.Equal(t1), ShouldBeTrue)
			})
		})

		Convey("When asked before any observation without a live source", func() {
			_, err := s.Fetch(ctx, model.ComponentFollowerCount, "u1", t1.Add(-time.Hour))

			Convey("Then there is no answer", func() {
				So(errors.Is(err, groundtruth.ErrNoSnapshot), ShouldBeTrue)
			})
		})
	})

	Convey("Given a snapshot store backed by a live fetcher", t, func() {
		var calls atomic.Int32
		live := verify.FetcherFunc(func(_ context.Context, _ model.Component, id string, _ time.Time) (verify.Value, error) {
			calls.Add(1)
			return verify.Value{Found: true, Text: id, ObservedAt: t1}, nil
		})
		s, err := groundtruth.OpenSnapshot(filepath.Join(t.TempDir(), "snap.db"), groundtruth.WithLive(live))
		So(err, ShouldBeNil)
		defer s.Close()

		first, err := s.Fetch(ctx, model.ComponentTweetID, "t1", t3)
		So(err, ShouldBeNil)
		second, err := s.Fetch(ctx, model.ComponentTweetID, "t1", t3)
		So(err, ShouldBeNil)

		Convey("Then the live answer is recorded and reused", func() {
			So(calls.Load(), ShouldEqual, int32(1))
			So(second.Found, ShouldEqual, first.Found)
			So(second.Text, ShouldEqual, "t1")
			So(second.ObservedAt.Equal(first.ObservedAt), ShouldBeTrue)
		})
	})
}
