package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/stravasync/internal/replay"
	"github.com/okian/stravasync/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

func execute(run runFunc, args ...string) (string, error) {
	cmd := newRootCmd(run)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	Convey("Given the replay command", t, func() {
		var got *replay.Config
		var deadline bool
		stats := &replay.Stats{Submitted: 3, Accepted: 2, Duplicate: 1}
		run := func(ctx context.Context, cfg *replay.Config) (*replay.Stats, error) {
			got = cfg
			_, deadline = ctx.Deadline()
			return stats, nil
		}

		Convey("When flags are passed", func() {
			out, err := execute(run,
				"--url", "http://svc:9080", "-n", "5", "-p", "42,7",
				"--dup-rate", "0.5", "--timeout", "2s", "--verify-token", "tok")

			Convey("Then they reach the replay config", func() {
				So(err, ShouldBeNil)
				So(got.BaseURL, ShouldEqual, "http://svc:9080")
				So(got.NumEvents, ShouldEqual, 5)
				So(got.Principals, ShouldResemble, []int64{42, 7})
				So(got.DuplicateRate, ShouldEqual, 0.5)
				So(got.Timeout, ShouldEqual, 2*time.Second)
				So(got.VerifyToken, ShouldEqual, "tok")
				So(deadline, ShouldBeTrue)
				So(out, ShouldContainSubstring, "submitted=3 accepted=2 duplicate=1")
			})
		})

		Convey("When a principal is not a number", func() {
			_, err := execute(run, "-p", "42,abc")

			Convey("Then the command fails before running", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "--principals")
				So(got, ShouldBeNil)
			})
		})

		Convey("When the duplicate rate is out of range", func() {
			_, err := execute(run, "--dup-rate", "1.5")

			Convey("Then the command fails before running", func() {
				So(err, ShouldNotBeNil)
				So(got, ShouldBeNil)
			})
		})

		Convey("When input and events are combined", func() {
			_, err := execute(run, "-i", "deliveries.json", "-n", "3")

			Convey("Then the flags are rejected", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When some submissions fail", func() {
			stats.Failed = 1
			_, err := execute(run)

			Convey("Then the command reports failure", func() {
				So(errors.Is(err, errSubmissionsFailed), ShouldBeTrue)
			})
		})

		Convey("When the run itself errors", func() {
			_, err := execute(func(context.Context, *replay.Config) (*replay.Stats, error) {
				return nil, replay.ErrNoDeliveries
			})

			Convey("Then the error is returned", func() {
				So(errors.Is(err, replay.ErrNoDeliveries), ShouldBeTrue)
			})
		})
	})
}

func TestParseIDs(t *testing.T) {
	Convey("Given raw principal values", t, func() {
		Convey("Then ids are parsed and blanks skipped", func() {
			ids, err := parseIDs([]string{" 42", "7", ""})
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []int64{42, 7})
		})

		Convey("Then a non-number is an error", func() {
			_, err := parseIDs([]string{"42", "abc"})
			So(err, ShouldNotBeNil)
		})
	})
}
