package service_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/okian/stravasync/internal/adapters/repository"
	"github.com/okian/stravasync/internal/adapters/strava"
	service "github.com/okian/stravasync/internal/app"
	"github.com/okian/stravasync/internal/config"
	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.StoreDSN = ":memory:"
	cfg.WorkerCount = 2
	cfg.EventQueueSize = 10
	cfg.ClientID = "client"
	cfg.ClientSecret = "secret"
	cfg.Principals = []config.Principal{{
		ID: 42, Email: "runner@example.com", AccessToken: "a", RefreshToken: "r",
		ExpiresAt: time.Now().Add(6 * time.Hour).Unix(),
	}}
	return cfg
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		ctx := context.Background()
		svc := service.New(testConfig())

		Convey("When it has not been started", func() {
			Convey("Then stats, health and intake report it", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
				So(errors.Is(svc.Ping(ctx), service.ErrNotStarted), ShouldBeTrue)
				So(svc.Enqueue(ctx, model.InboundEvent{EntityID: 1}), ShouldBeFalse)
				So(errors.Is(svc.StartBackfill(42), service.ErrNotStarted), ShouldBeTrue)
				So(svc.Shutdown(ctx), ShouldBeNil)
			})
		})

		Convey("When it is started", func() {
			So(svc.Start(ctx), ShouldBeNil)
			Reset(func() { _ = svc.Shutdown(ctx) })

			Convey("Then it is healthy and reports its components", func() {
				So(svc.Ping(ctx), ShouldBeNil)
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["principals"], ShouldEqual, 1)
				So(stats["storedActivities"], ShouldEqual, 0)
			})

			Convey("Then a second start is refused", func() {
				So(errors.Is(svc.Start(ctx), service.ErrAlreadyStarted), ShouldBeTrue)
			})

			Convey("Then stopping marks it stopped", func() {
				So(svc.Shutdown(ctx), ShouldBeNil)
				So(svc.Started(), ShouldBeFalse)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})

			Convey("Then unknown principals cannot be backfilled", func() {
				So(errors.Is(svc.StartBackfill(7), strava.ErrUnknownPrincipal), ShouldBeTrue)
			})
		})
	})
}

func TestService_Dedupe(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := service.New(testConfig())
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Shutdown(ctx) })

		Convey("When a fingerprint is recorded twice", func() {
			first := svc.SeenAndRecord(ctx, "fp-1")
			second := svc.SeenAndRecord(ctx, "fp-1")

			Convey("Then only the second is seen", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(svc.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the webhook cache is cleared", func() {
			svc.SeenAndRecord(ctx, "fp-2")
			svc.ClearWebhookCache()
			svc.ClearNotificationCache()

			Convey("Then the fingerprint is accepted again", func() {
				So(svc.Size(), ShouldEqual, 0)
				So(svc.SeenAndRecord(ctx, "fp-2"), ShouldBeFalse)
			})
		})

		Convey("When a fingerprint is unrecorded", func() {
			svc.SeenAndRecord(ctx, "fp-3")
			svc.Unrecord(ctx, "fp-3")

			Convey("Then it is accepted again", func() {
				So(svc.SeenAndRecord(ctx, "fp-3"), ShouldBeFalse)
			})
		})
	})
}

func TestService_Reads(t *testing.T) {
	Convey("Given a service over a seeded store", t, func() {
		ctx := context.Background()
		st, err := repository.NewSQLite(ctx, ":memory:")
		So(err, ShouldBeNil)
		_, err = st.UpsertActivity(ctx, model.Activity{ID: 555, OwnerID: 42, Name: "Morning Run", Distance: 10000})
		So(err, ShouldBeNil)

		svc := service.New(testConfig(), service.WithStore(st))
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Shutdown(ctx) })

		Convey("Then stored activities are found and missing ones are absent", func() {
			a, found, err := svc.GetActivity(ctx, 555)
			So(err, ShouldBeNil)
			So(found, ShouldBeTrue)
			So(a.Name, ShouldEqual, "Morning Run")

			_, found, err = svc.GetActivity(ctx, 999)
			So(err, ShouldBeNil)
			So(found, ShouldBeFalse)
		})

		Convey("Then totals aggregate the owner", func() {
			tot, err := svc.Totals(ctx, 42)
			So(err, ShouldBeNil)
			So(tot.Count, ShouldEqual, 1)
			So(tot.Distance, ShouldEqual, 10000)
		})
	})
}

func TestService_StoredCredentials(t *testing.T) {
	Convey("Given a stored credential newer than the configured one", t, func() {
		ctx := context.Background()
		st, err := repository.NewSQLite(ctx, ":memory:")
		So(err, ShouldBeNil)
		later := time.Now().Add(12 * time.Hour).Truncate(time.Second)
		So(st.SaveCredential(ctx, model.Credential{
			PrincipalID: 42, AccessToken: "stored", RefreshToken: "stored-r", ExpiresAt: later,
		}), ShouldBeNil)
		// principals absent from config stay unknown
		So(st.SaveCredential(ctx, model.Credential{PrincipalID: 7, AccessToken: "x", RefreshToken: "y", ExpiresAt: later}), ShouldBeNil)

		svc := service.New(testConfig(), service.WithStore(st))
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Shutdown(ctx) })

		Convey("Then only configured principals are known", func() {
			So(svc.GetStats()["principals"], ShouldEqual, 1)
			So(errors.Is(svc.StartBackfill(7), strava.ErrUnknownPrincipal), ShouldBeTrue)
		})
	})
}
