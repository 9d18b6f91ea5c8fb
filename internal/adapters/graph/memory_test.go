package graph

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/veracity/internal/domain/merge"
	"github.com/okian/veracity/internal/domain/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func attrs(values map[string]any, at time.Time) model.Attributes {
	a, err := model.Observe(values, at)
	if err != nil {
		panic(err)
	}
	return a
}

func TestMemoryTx(t *testing.T) {
	ctx := context.Background()
	tweet := model.NodeRef{Kind: model.KindTweet, Key: "t1"}
	user := model.NodeRef{Kind: model.KindUserAccount, Key: "u1"}
	posted := model.EdgeKey{Type: "POSTED", From: user, To: tweet}

	Convey("Given an empty memory graph", t, func() {
		g := NewMemory(8)

		Convey("When a transaction stages nodes and an edge and commits", func() {
			tx, err := g.Begin(ctx)
			So(err, ShouldBeNil)
			_, err = tx.UpsertNode(ctx, tweet, attrs(map[string]any{"url": "https://x.com/t1"}, t0))
			So(err, ShouldBeNil)
			_, err = tx.UpsertNode(ctx, user, attrs(map[string]any{"follower_count": 10}, t0))
			So(err, ShouldBeNil)
			So(tx.UpsertEdge(ctx, posted, model.Attributes{}), ShouldBeNil)

			Convey("Then nothing is visible before commit", func() {
				ok, _ := g.HasNode(ctx, tweet)
				So(ok, ShouldBeFalse)
			})

			Convey("Then everything is visible after commit", func() {
				So(tx.Commit(ctx), ShouldBeNil)
				ok, _ := g.HasNode(ctx, tweet)
				So(ok, ShouldBeTrue)
				_, ok = g.Edge(posted)
				So(ok, ShouldBeTrue)
				stats, _ := g.Stats(ctx)
				So(stats, ShouldResemble, Stats{Nodes: 2, Edges: 1})
				So(tx.Commit(ctx), ShouldEqual, ErrTxDone)
			})
		})

		Convey("When a transaction is rolled back", func() {
			tx, _ := g.Begin(ctx)
			_, _ = tx.UpsertNode(ctx, tweet, model.Attributes{})
			So(tx.Rollback(ctx), ShouldBeNil)

			Convey("Then no write is applied", func() {
				nodes, edges := g.Snapshot()
				So(nodes, ShouldBeEmpty)
				So(edges, ShouldBeEmpty)
			})
		})

		Convey("When an edge endpoint is neither staged nor stored", func() {
			tx, _ := g.Begin(ctx)
			_, _ = tx.UpsertNode(ctx, user, model.Attributes{})
			err := tx.UpsertEdge(ctx, posted, model.Attributes{})

			Convey("Then the edge is rejected as dangling", func() {
				So(err, ShouldEqual, merge.ErrDanglingEdge)
			})
		})

		Convey("When a stored tweet is upserted with a different url", func() {
			tx, _ := g.Begin(ctx)
			_, _ = tx.UpsertNode(ctx, tweet, attrs(map[string]any{"url": "https://x.com/a"}, t0))
			So(tx.Commit(ctx), ShouldBeNil)

			tx, _ = g.Begin(ctx)
			conflicts, err := tx.UpsertNode(ctx, tweet, attrs(map[string]any{"url": "https://x.com/b"}, t0.Add(time.Hour)))
			So(err, ShouldBeNil)
			So(tx.Commit(ctx), ShouldBeNil)

			Convey("Then a conflict is reported and the newer value is kept", func() {
				So(conflicts, ShouldHaveLength, 1)
				So(conflicts[0].Attribute, ShouldEqual, "url")
				node, _ := g.Node(tweet)
				So(string(node.Attrs["url"].Value), ShouldEqual, `"https://x.com/b"`)
			})
		})
	})
}

func TestMemoryConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	user := model.NodeRef{Kind: model.KindUserAccount, Key: "u1"}

	Convey("Given many writers updating the same user concurrently", t, func() {
		g := NewMemory(4)
		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tx, _ := g.Begin(ctx)
				_, _ = tx.UpsertNode(ctx, user, attrs(map[string]any{"follower_count": i}, t0.Add(time.Duration(i)*time.Second)))
				_, _ = tx.UpsertNode(ctx, model.NodeRef{Kind: model.KindTweet, Key: fmt.Sprint(i)}, model.Attributes{})
				_ = tx.Commit(ctx)
			}(i)
		}
		wg.Wait()

		Convey("Then the latest observation wins and no write is lost", func() {
			node, ok := g.Node(user)
			So(ok, ShouldBeTrue)
			So(string(node.Attrs["follower_count"].Value), ShouldEqual, "63")
			stats, _ := g.Stats(ctx)
			So(stats.Nodes, ShouldEqual, int64(65))
		})
	})
}
