package schema_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/internal/domain/schema"
)

func validRecord() map[string]any {
	return map[string]any{
		"token": "TAO",
		"tweet": map[string]any{
			"id":        "1790000000000000001",
			"url":       "https://x.com/alice/status/1790000000000000001",
			"text":      "TAO to the moon",
			"likes":     42,
			"images":    []any{"https://pbs.twimg.com/media/a.jpg"},
			"timestamp": "2024-05-13T10:00:00Z",
		},
		"user_account": map[string]any{
			"username":         "alice",
			"user_id":          "42",
			"is_verified":      false,
			"is_blue_verified": true,
			"follower_count":   1500,
			"account_age":      "2019-01-01T00:00:00Z",
			"engagement_level": 3.5,
			"total_tweets":     900,
		},
		"region":   map[string]any{"name": "Europe"},
		"hashtags": []any{"#tao"},
		"edges": []any{
			map[string]any{"type": "POSTED", "from": "42", "to": "1790000000000000001", "attributes": map[string]any{"timestamp": "2024-05-13T10:00:00Z"}},
			map[string]any{"type": "MENTIONS", "from": "42", "to": "TAO"},
		},
	}
}

func encode(records ...map[string]any) []byte {
	b, err := json.Marshal(records)
	if err != nil {
		panic(err)
	}
	return b
}

func violation(err error) *schema.ViolationError {
	var ve *schema.ViolationError
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}

func TestValidator(t *testing.T) {
	v := schema.MustNew()

	Convey("Given the schema validator", t, func() {
		Convey("When a well-formed dataset is validated", func() {
			records, err := v.Validate(encode(validRecord(), validRecord()))

			Convey("Then typed records are returned in order", func() {
				So(err, ShouldBeNil)
				So(records, ShouldHaveLength, 2)
				So(records[0].Token, ShouldEqual, "TAO")
				So(records[0].UserAccount.FollowerCount, ShouldEqual, 1500)
				So(records[0].Tweet.Timestamp.Equal(time.Date(2024, 5, 13, 10, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(records[0].Edges, ShouldHaveLength, 2)
				So(records[0].Edges[1].To, ShouldEqual, "TAO")
			})
		})

		Convey("When an empty array is validated", func() {
			records, err := v.Validate([]byte(`[]`))

			Convey("Then it is accepted as an empty dataset", func() {
				So(err, ShouldBeNil)
				So(records, ShouldBeEmpty)
			})
		})

		Convey("When the payload is not an array", func() {
			_, err := v.Validate([]byte(`{"token":"TAO"}`))

			Convey("Then the whole payload is rejected", func() {
				So(errors.Is(err, schema.ErrSchemaViolation), ShouldBeTrue)
				So(violation(err).Index, ShouldEqual, -1)
			})
		})

		Convey("When the second record lacks its region", func() {
			bad := validRecord()
			delete(bad, "region")
			_, err := v.Validate(encode(validRecord(), bad))

			Convey("Then the violation names record 1 and the missing field", func() {
				ve := violation(err)
				So(ve, ShouldNotBeNil)
				So(ve.Index, ShouldEqual, 1)
				So(ve.Field, ShouldEqual, "region")
			})
		})

		Convey("When a nested required field is missing", func() {
			bad := validRecord()
			delete(bad["user_account"].(map[string]any), "follower_count")
			_, err := v.Validate(encode(bad))

			Convey("Then the field path points inside the sub-object", func() {
				So(violation(err).Field, ShouldEqual, "user_account.follower_count")
			})
		})

		Convey("When a counter is negative", func() {
			bad := validRecord()
			bad["tweet"].(map[string]any)["likes"] = -1
			_, err := v.Validate(encode(bad))

			Convey("Then it is a structural violation", func() {
				So(violation(err).Field, ShouldEqual, "tweet.likes")
			})
		})

		Convey("When an image is not a URI", func() {
			bad := validRecord()
			bad["tweet"].(map[string]any)["images"] = []any{"not a uri"}
			_, err := v.Validate(encode(bad))

			Convey("Then the array index is reported", func() {
				So(violation(err).Field, ShouldEqual, "tweet.images[0]")
			})
		})

		Convey("When account_age is not a date-time", func() {
			bad := validRecord()
			bad["user_account"].(map[string]any)["account_age"] = "last year"
			_, err := v.Validate(encode(bad))

			Convey("Then the format is asserted", func() {
				So(violation(err).Field, ShouldEqual, "user_account.account_age")
			})
		})

		Convey("When the token is empty", func() {
			bad := validRecord()
			bad["token"] = ""
			_, err := v.Validate(encode(bad))

			Convey("Then the minimum length is enforced", func() {
				So(violation(err).Field, ShouldEqual, "token")
			})
		})

		Convey("When untyped records are validated directly", func() {
			records, err := v.ValidateRecords([]any{validRecord()})

			Convey("Then they decode like the wire form", func() {
				So(err, ShouldBeNil)
				So(records[0].UserAccount.IsBlueVerified, ShouldBeTrue)
			})
		})

		Convey("When a submission is turned into a dataset", func() {
			observed := time.Date(2024, 5, 13, 12, 0, 0, 0, time.UTC)
			ds, err := v.Dataset(model.Submission{
				SubmissionID: "s-1",
				MinerID:      "m-1",
				ObservedAt:   observed,
				Records:      encode(validRecord()),
			})

			Convey("Then the envelope is carried over", func() {
				So(err, ShouldBeNil)
				So(ds.MinerID, ShouldEqual, "m-1")
				So(ds.ObservedAt, ShouldEqual, observed)
				So(ds.Records, ShouldHaveLength, 1)
			})
		})
	})
}
