package model_test

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/veracity/internal/domain/model"
)

func observe(values map[string]any, at time.Time) model.Attributes {
	a, err := model.Observe(values, at)
	if err != nil {
		panic(err)
	}
	return a
}

func TestAttributesMerge(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	user := model.NodeRef{Kind: model.KindUserAccount, Key: "42"}

	Convey("Given two observations of the same user", t, func() {
		older := observe(map[string]any{"follower_count": 900, "username": "alice"}, t1)
		newer := observe(map[string]any{"follower_count": 1000}, t2)

		Convey("When merged in either order", func() {
			ab := model.Attributes{}
			ab.Merge(user, older)
			ab.Merge(user, newer)
			ba := model.Attributes{}
			ba.Merge(user, newer)
			ba.Merge(user, older)

			Convey("Then the newest observation of each attribute wins", func() {
				So(ab, ShouldResemble, ba)
				So(string(ab["follower_count"].Value), ShouldEqual, "1000")
				So(string(ab["username"].Value), ShouldEqual, `"alice"`)
			})
		})

		Convey("When the same observation is merged twice", func() {
			a := model.Attributes{}
			a.Merge(user, older)
			changed, _ := a.Merge(user, older)

			Convey("Then nothing changes", func() {
				So(changed, ShouldBeFalse)
			})
		})

		Convey("When two values share an observation time", func() {
			x := observe(map[string]any{"username": "alice"}, t1)
			y := observe(map[string]any{"username": "bob"}, t1)
			xy := model.Attributes{}
			xy.Merge(user, x)
			xy.Merge(user, y)
			yx := model.Attributes{}
			yx.Merge(user, y)
			yx.Merge(user, x)

			Convey("Then the tie is broken the same way", func() {
				So(xy, ShouldResemble, yx)
			})
		})
	})

	Convey("Given a tweet whose url is reported differently", t, func() {
		tweet := model.NodeRef{Kind: model.KindTweet, Key: "1"}
		a := observe(map[string]any{"url": "https://x.com/a/status/1"}, t1)
		b := observe(map[string]any{"url": "https://x.com/b/status/1"}, t2)

		Convey("When merged", func() {
			merged := model.Attributes{}
			merged.Merge(tweet, a)
			_, conflicts := merged.Merge(tweet, b)

			Convey("Then a conflict is reported and the later value still wins", func() {
				So(conflicts, ShouldHaveLength, 1)
				So(conflicts[0].Attribute, ShouldEqual, "url")
				So(string(merged["url"].Value), ShouldEqual, `"https://x.com/b/status/1"`)
			})
		})
	})

	Convey("Given values in different encodings", t, func() {
		c1, err1 := model.Canonical(json.RawMessage(`{ "b": 1, "a": [1, 2] }`))
		c2, err2 := model.Canonical(json.RawMessage(`{"a":[1,2],"b":1}`))

		Convey("Then canonical forms are byte-equal", func() {
			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(string(c1), ShouldEqual, string(c2))
		})
	})

	Convey("Given times in a non-UTC zone", t, func() {
		loc := time.FixedZone("CEST", 2*60*60)
		a := observe(map[string]any{"timestamp": time.Date(2024, 5, 1, 2, 0, 0, 0, loc)}, t1)

		Convey("Then they are stored in UTC", func() {
			So(string(a["timestamp"].Value), ShouldEqual, `"2024-05-01T00:00:00Z"`)
		})
	})
}
