package repository

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

var epoch = time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC)

func TestTreapStoreRecord(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty leaderboard", t, func() {
		s := NewTreapStore(ctx)
		defer s.Close()

		Convey("When a miner is scored twice", func() {
			ok, err := s.Record(ctx, "m1", 0.9, "c1", epoch)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			ok, err = s.Record(ctx, "m1", 0.4, "c2", epoch.Add(time.Minute))
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			Convey("Then the latest score replaces the earlier one, even if lower", func() {
				e, err := s.Rank(ctx, "m1")
				So(err, ShouldBeNil)
				So(e.Score, ShouldAlmostEqual, 0.4)
				So(e.ChallengeID, ShouldEqual, "c2")
				So(s.Count(ctx), ShouldEqual, 1)
			})
		})

		Convey("When an older result arrives after a newer one", func() {
			_, _ = s.Record(ctx, "m1", 0.9, "c2", epoch.Add(time.Minute))
			ok, err := s.Record(ctx, "m1", 0.1, "c1", epoch)

			Convey("Then it is ignored", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				e, _ := s.Rank(ctx, "m1")
				So(e.ChallengeID, ShouldEqual, "c2")
			})
		})

		Convey("When the score is not a number", func() {
			_, err := s.Record(ctx, "m1", math.NaN(), "c1", epoch)

			Convey("Then it is refused", func() {
				So(err, ShouldEqual, ErrInvalidScore)
			})
		})

		Convey("When an unknown miner is ranked", func() {
			_, err := s.Rank(ctx, "ghost")

			Convey("Then it is not found", func() {
				So(err, ShouldEqual, ErrNotFound)
			})
		})
	})
}

func TestTreapStoreRanking(t *testing.T) {
	ctx := context.Background()

	Convey("Given miners with tied scores", t, func() {
		s := NewTreapStore(ctx)
		defer s.Close()
		for id, score := range map[string]float64{"a": 1.0, "b": 0.7, "c": 0.7, "d": 0.3} {
			_, err := s.Record(ctx, id, score, "c-"+id, epoch)
			So(err, ShouldBeNil)
		}

		Convey("Then ties share a rank and the next rank skips", func() {
			top, err := s.TopN(ctx, 10)
			So(err, ShouldBeNil)
			So(top, ShouldHaveLength, 4)
			ids := []string{top[0].MinerID, top[1].MinerID, top[2].MinerID, top[3].MinerID}
			ranks := []int{top[0].Rank, top[1].Rank, top[2].Rank, top[3].Rank}
			So(ids, ShouldResemble, []string{"a", "b", "c", "d"})
			So(ranks, ShouldResemble, []int{1, 2, 2, 4})

			c, _ := s.Rank(ctx, "c")
			So(c.Rank, ShouldEqual, 2)
			d, _ := s.Rank(ctx, "d")
			So(d.Rank, ShouldEqual, 4)
		})

		Convey("Then TopN honors the limit and rejects a non-positive one", func() {
			top, err := s.TopN(ctx, 2)
			So(err, ShouldBeNil)
			So(top, ShouldHaveLength, 2)
			_, err = s.TopN(ctx, 0)
			So(err, ShouldEqual, ErrInvalidLimit)
		})

		Convey("Then All lists every miner in rank order", func() {
			So(s.All(ctx), ShouldHaveLength, 4)
		})
	})
}

func TestTreapStoreAgainstSort(t *testing.T) {
	ctx := context.Background()

	Convey("Given many random updates", t, func() {
		s := NewTreapStore(ctx)
		defer s.Close()
		rng := rand.New(rand.NewSource(7))
		want := map[string]float64{}
		for i := 0; i < 2000; i++ {
			id := fmt.Sprintf("m%03d", rng.Intn(300))
			score := float64(rng.Intn(11)) / 10
			_, err := s.Record(ctx, id, score, "c", epoch.Add(time.Duration(i)*time.Second))
			So(err, ShouldBeNil)
			want[id] = score
		}

		Convey("Then the order matches a plain sort", func() {
			ids := make([]string, 0, len(want))
			for id := range want {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool {
				if want[ids[i]] != want[ids[j]] {
					return want[ids[i]] > want[ids[j]]
				}
				return ids[i] < ids[j]
			})
			all := s.All(ctx)
			So(all, ShouldHaveLength, len(ids))
			for i, e := range all {
				So(e.MinerID, ShouldEqual, ids[i])
				r, err := s.Rank(ctx, e.MinerID)
				So(err, ShouldBeNil)
				So(r.Rank, ShouldEqual, e.Rank)
			}
		})
	})
}

func TestTreapStoreConcurrent(t *testing.T) {
	ctx := context.Background()

	Convey("Given concurrent writers and readers", t, func() {
		s := NewTreapStore(ctx)
		defer s.Close()
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					id := fmt.Sprintf("m%d-%d", w, i%20)
					_, _ = s.Record(ctx, id, float64(i%10)/10, "c", epoch.Add(time.Duration(i)*time.Second))
					_, _ = s.TopN(ctx, 5)
				}
			}(w)
		}
		wg.Wait()

		So(s.Count(ctx), ShouldEqual, 160)
	})
}

func BenchmarkTreapStoreRecord(b *testing.B) {
	ctx := context.Background()
	s := NewTreapStore(ctx)
	defer s.Close()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Record(ctx, fmt.Sprintf("m%d", i%10_000), float64(i%1000)/1000, "c", epoch.Add(time.Duration(i)))
	}
}

func BenchmarkTreapStoreRank(b *testing.B) {
	ctx := context.Background()
	s := NewTreapStore(ctx)
	defer s.Close()
	for i := 0; i < 10_000; i++ {
		_, _ = s.Record(ctx, fmt.Sprintf("m%d", i), float64(i%1000)/1000, "c", epoch)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Rank(ctx, fmt.Sprintf("m%d", i%10_000))
	}
}
