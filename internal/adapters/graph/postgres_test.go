package graph

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/veracity/internal/domain/merge"
	"github.com/okian/veracity/internal/domain/model"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Postgres) {
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	mock.ExpectPing()
	store, err := NewPostgres(context.Background(), mock)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return mock, store
}

func TestPostgresNew(t *testing.T) {
	Convey("Given a database that does not answer pings", t, func() {
		mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		So(err, ShouldBeNil)
		defer mock.Close()
		down := errors.New("database unavailable")
		mock.ExpectPing().WillReturnError(down)

		_, err = NewPostgres(context.Background(), mock)

		So(errors.Is(err, down), ShouldBeTrue)
		So(mock.ExpectationsWereMet(), ShouldBeNil)
	})
}

func TestPostgresUpsertNode(t *testing.T) {
	ctx := context.Background()
	tweet := model.NodeRef{Kind: model.KindTweet, Key: "t1"}

	Convey("Given a stored tweet whose url differs from the incoming one", t, func() {
		mock, store := newMockStore(t)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(sqlInsertNode)).
			WithArgs("Tweet", "t1").
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		stored := []byte(`{"url": {"v": "https://x.com/a", "at": "2024-05-01T12:00:00Z"}}`)
		mock.ExpectQuery(regexp.QuoteMeta(sqlLockNode)).
			WithArgs("Tweet", "t1").
			WillReturnRows(pgxmock.NewRows([]string{"attributes"}).AddRow(stored))
		mock.ExpectExec(regexp.QuoteMeta(sqlUpdateNode)).
			WithArgs("Tweet", "t1", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		tx, err := store.Begin(ctx)
		So(err, ShouldBeNil)
		conflicts, err := tx.UpsertNode(ctx, tweet, attrs(map[string]any{"url": "https://x.com/b"}, t0.Add(1)))
		So(err, ShouldBeNil)
		So(tx.Commit(ctx), ShouldBeNil)

		So(conflicts, ShouldHaveLength, 1)
		So(string(conflicts[0].Existing), ShouldEqual, `"https://x.com/a"`)
		So(mock.ExpectationsWereMet(), ShouldBeNil)
	})

	Convey("Given a stored tweet already holding the incoming value", t, func() {
		mock, store := newMockStore(t)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(sqlInsertNode)).
			WithArgs("Tweet", "t1").
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		stored := []byte(`{"likes": {"v": 5, "at": "2024-05-01T12:00:00Z"}}`)
		mock.ExpectQuery(regexp.QuoteMeta(sqlLockNode)).
			WithArgs("Tweet", "t1").
			WillReturnRows(pgxmock.NewRows([]string{"attributes"}).AddRow(stored))
		mock.ExpectCommit()

		tx, _ := store.Begin(ctx)
		_, err := tx.UpsertNode(ctx, tweet, attrs(map[string]any{"likes": 5}, t0))
		So(err, ShouldBeNil)
		So(tx.Commit(ctx), ShouldBeNil)

		Convey("Then no update is issued", func() {
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})
	})
}

func TestPostgresUpsertEdge(t *testing.T) {
	ctx := context.Background()
	user := model.NodeRef{Kind: model.KindUserAccount, Key: "u1"}
	tweet := model.NodeRef{Kind: model.KindTweet, Key: "t1"}
	key := model.EdgeKey{Type: "POSTED", From: user, To: tweet}

	Convey("Given an edge whose target does not exist", t, func() {
		mock, store := newMockStore(t)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(sqlHasNode)).
			WithArgs("UserAccount", "u1").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery(regexp.QuoteMeta(sqlHasNode)).
			WithArgs("Tweet", "t1").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		tx, _ := store.Begin(ctx)
		err := tx.UpsertEdge(ctx, key, model.Attributes{})
		So(tx.Rollback(ctx), ShouldBeNil)

		So(errors.Is(err, merge.ErrDanglingEdge), ShouldBeTrue)
		So(mock.ExpectationsWereMet(), ShouldBeNil)
	})

	Convey("Given both endpoints exist", t, func() {
		mock, store := newMockStore(t)
		defer mock.Close()

		mock.ExpectBegin()
		for _, ref := range []model.NodeRef{user, tweet} {
			mock.ExpectQuery(regexp.QuoteMeta(sqlHasNode)).
				WithArgs(string(ref.Kind), ref.Key).
				WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
		}
		mock.ExpectExec(regexp.QuoteMeta(sqlInsertEdge)).
			WithArgs("POSTED", "UserAccount", "u1", "Tweet", "t1").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectQuery(regexp.QuoteMeta(sqlLockEdge)).
			WithArgs("POSTED", "UserAccount", "u1", "Tweet", "t1").
			WillReturnRows(pgxmock.NewRows([]string{"attributes"}).AddRow([]byte(`{}`)))
		mock.ExpectExec(regexp.QuoteMeta(sqlUpdateEdge)).
			WithArgs("POSTED", "UserAccount", "u1", "Tweet", "t1", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		tx, _ := store.Begin(ctx)
		err := tx.UpsertEdge(ctx, key, attrs(map[string]any{"weight": 1}, t0))
		So(err, ShouldBeNil)
		So(tx.Commit(ctx), ShouldBeNil)
		So(mock.ExpectationsWereMet(), ShouldBeNil)
	})
}

func TestPostgresStats(t *testing.T) {
	Convey("Given a populated graph", t, func() {
		mock, store := newMockStore(t)
		defer mock.Close()
		mock.ExpectQuery(regexp.QuoteMeta(sqlStats)).
			WillReturnRows(pgxmock.NewRows([]string{"nodes", "edges"}).AddRow(int64(3), int64(2)))

		stats, err := store.Stats(context.Background())

		So(err, ShouldBeNil)
		So(stats, ShouldResemble, Stats{Nodes: 3, Edges: 2})
	})
}
