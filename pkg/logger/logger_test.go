package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			So(Init(), ShouldBeNil)
			So(Get(), ShouldNotBeNil)
			So(Slog(), ShouldNotBeNil)
			So(Sync(), ShouldBeNil)
		})

		Convey("When initialized with an unknown format", func() {
			So(Init(WithFormat("xml")), ShouldNotBeNil)
		})

		Convey("When initialized with an unknown level", func() {
			So(Init(WithLevel("loud")), ShouldNotBeNil)
		})
	})
}

func TestLoggerJSON(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(Init(WithFormat(FormatJSON), WithOutput(&buf)), ShouldBeNil)

		Convey("When a named logger writes fields", func() {
			Named("ledger").Info(context.Background(), "score set",
				String("key", "s1|c1|j1|k1"),
				Float64("value", 8.5),
				Bool("changed", true),
				Duration("took", time.Millisecond),
				Error(errors.New("boom")),
			)

			var rec map[string]any
			So(json.Unmarshal(buf.Bytes(), &rec), ShouldBeNil)

			Convey("Then the record carries component, fields and source", func() {
				So(rec["msg"], ShouldEqual, "score set")
				So(rec["component"], ShouldEqual, "ledger")
				So(rec["key"], ShouldEqual, "s1|c1|j1|k1")
				So(rec["value"], ShouldEqual, 8.5)
				So(rec["changed"], ShouldEqual, true)
				So(rec["error"], ShouldEqual, "boom")
				So(rec["source"], ShouldContainSubstring, "logger_test.go")
			})
		})
	})
}

func TestLoggerLevel(t *testing.T) {
	Convey("Given a text logger at warn level", t, func() {
		var buf bytes.Buffer
		So(Init(WithOutput(&buf), WithLevel("warn")), ShouldBeNil)
		Reset(func() { _ = SetLevelString("info") })

		Get().Info(context.Background(), "hidden")
		Get().Warn(context.Background(), "shown")

		So(strings.Contains(buf.String(), "hidden"), ShouldBeFalse)
		So(strings.Contains(buf.String(), "shown"), ShouldBeTrue)

		Convey("When the level is lowered at runtime", func() {
			So(SetLevelString("debug"), ShouldBeNil)
			Get().Debug(context.Background(), "now visible")
			So(buf.String(), ShouldContainSubstring, "now visible")
		})
	})
}
