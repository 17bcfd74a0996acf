package config_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/okian/stravasync/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should carry the platform limits", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.RateLimit, convey.ShouldEqual, 100)
			convey.So(cfg.RateWindow, convey.ShouldEqual, 900*time.Second)
			convey.So(cfg.RefreshMargin, convey.ShouldEqual, time.Hour)
			convey.So(cfg.DedupeTTL, convey.ShouldEqual, 10*time.Minute)
			convey.So(cfg.NotifyTTL, convey.ShouldEqual, 30*time.Minute)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given configured principals", t, func() {
		cfg := config.New()
		cfg.Principals = []config.Principal{
			{ID: 42, Name: "Ana", Email: "ana@example.com", AccessToken: "a", RefreshToken: "r", ExpiresAt: 1_700_000_000},
		}

		convey.Convey("Then they convert to domain principals and credentials", func() {
			ps := cfg.ModelPrincipals()
			convey.So(len(ps), convey.ShouldEqual, 1)
			convey.So(ps[0].Email, convey.ShouldEqual, "ana@example.com")

			creds := cfg.Credentials()
			convey.So(creds[0].PrincipalID, convey.ShouldEqual, 42)
			convey.So(creds[0].ExpiresAt.Unix(), convey.ShouldEqual, 1_700_000_000)
		})
	})
}
