package loadtest

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestVerifyLeaderboard(t *testing.T) {
	Convey("Given a leaderboard with a tie", t, func() {
		board := []Entry{
			{Rank: 1, MinerID: "a", Score: 0.9},
			{Rank: 2, MinerID: "b", Score: 0.5},
			{Rank: 2, MinerID: "c", Score: 0.5},
			{Rank: 4, MinerID: "d", Score: 0.1},
		}

		Convey("Then competition ranks verify", func() {
			So(verifyLeaderboard(board, board), ShouldBeNil)
		})

		Convey("Then an unsorted board is rejected", func() {
			board[3].Score = 0.95
			So(verifyLeaderboard(board, nil), ShouldNotBeNil)
		})

		Convey("Then a dense rank after a tie is rejected", func() {
			board[3].Rank = 3
			So(verifyLeaderboard(board, nil), ShouldNotBeNil)
		})

		Convey("Then a disagreeing rank lookup is rejected", func() {
			So(verifyLeaderboard(board, []Entry{{Rank: 3, MinerID: "b", Score: 0.5}}), ShouldNotBeNil)
		})

		Convey("Then the leaders and mean are reported", func() {
			So(topMiners(board, 2), ShouldResemble, []string{"a", "b"})
			So(averageScore(board), ShouldAlmostEqual, 0.5)
		})
	})

	Convey("Given an empty leaderboard", t, func() {
		So(errors.Is(verifyLeaderboard(nil, nil), errEmptyLeaderboard), ShouldBeTrue)
		So(averageScore(nil), ShouldEqual, 0.0)
	})
}
