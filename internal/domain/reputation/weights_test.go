package reputation_test

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/veracity/internal/domain/reputation"
)

func TestWeights(t *testing.T) {
	Convey("Given three scored miners", t, func() {
		w := reputation.Weights([]reputation.Score{
			{MinerID: "c", Score: 0.25},
			{MinerID: "a", Score: 0.5},
			{MinerID: "b", Score: 0.25},
		})

		Convey("Then weights are proportional shares of the scale, by miner id", func() {
			So(w, ShouldResemble, []reputation.Weight{
				{MinerID: "a", Score: 0.5, Weight: 500},
				{MinerID: "b", Score: 0.25, Weight: 250},
				{MinerID: "c", Score: 0.25, Weight: 250},
			})
		})
	})

	Convey("Given shares that do not divide evenly", t, func() {
		w := reputation.Weights([]reputation.Score{{MinerID: "a", Score: 1}, {MinerID: "b", Score: 1}, {MinerID: "c", Score: 1}})

		Convey("Then each share is floored", func() {
			for _, x := range w {
				So(x.Weight, ShouldEqual, int64(333))
			}
		})
	})

	Convey("Given only zero, negative and invalid scores", t, func() {
		w := reputation.Weights([]reputation.Score{{MinerID: "a", Score: 0}, {MinerID: "b", Score: -1}, {MinerID: "c", Score: math.NaN()}})

		Convey("Then every weight is zero", func() {
			for _, x := range w {
				So(x.Weight, ShouldEqual, int64(0))
				So(x.Score, ShouldEqual, 0.0)
			}
		})
	})

	Convey("Given no miners", t, func() {
		So(reputation.Weights(nil), ShouldBeEmpty)
	})
}
