package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with the text format", func() {
			So(Init("text"), ShouldBeNil)
			So(Get(), ShouldNotBeNil)
			So(Sync(), ShouldBeNil)
		})

		Convey("When initialized with the json format", func() {
			So(Init("json"), ShouldBeNil)
			So(Get(), ShouldNotBeNil)
		})

		Convey("When initialized with an unknown format", func() {
			So(Init("xml"), ShouldNotBeNil)
		})
	})
}

func TestLoggerFields(t *testing.T) {
	Convey("Given a json logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWithWriter("json", &buf), ShouldBeNil)
		ctx := context.Background()

		Convey("When logging with fields and an error", func() {
			Named("sync").With(String("gameId", "g-1")).Error(ctx, "upsert failed",
				Int("edges", 25), Error(errors.New("boom")))

			var rec map[string]any
			So(json.Unmarshal(buf.Bytes(), &rec), ShouldBeNil)

			Convey("Then the record carries the group, fields and the error text", func() {
				So(rec["msg"], ShouldEqual, "upsert failed")
				group, ok := rec["sync"].(map[string]any)
				So(ok, ShouldBeTrue)
				So(group["gameId"], ShouldEqual, "g-1")
				So(group["edges"], ShouldEqual, 25.0)
				So(group["error"], ShouldEqual, "boom")
			})
		})

		Convey("When the level filters a record out", func() {
			So(SetLevelString("warn"), ShouldBeNil)
			defer func() { _ = SetLevelString("info") }()
			Get().Info(ctx, "hidden")

			Convey("Then nothing is written", func() {
				So(buf.Len(), ShouldEqual, 0)
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level strings", t, func() {
		for _, lvl := range []string{"debug", "INFO", "warning", "error", ""} {
			So(SetLevelString(lvl), ShouldBeNil)
		}
		So(SetLevelString("loud"), ShouldNotBeNil)
		_ = SetLevelString("info")
	})
}
