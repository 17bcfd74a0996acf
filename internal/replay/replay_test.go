package replay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/stravasync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

// fakeWebhook acknowledges deliveries the way the service does.
type fakeWebhook struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeWebhook(token string) *httptest.Server {
	f := &fakeWebhook{seen: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("hub.verify_token") != token {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"hub.challenge": r.URL.Query().Get("hub.challenge")})
	})
	mux.HandleFunc("POST /webhook", func(w http.ResponseWriter, r *http.Request) {
		var d Delivery
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil || d.ObjectID <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		key := fmt.Sprintf("%d:%s:%d", d.ObjectID, d.AspectType, d.EventTime)
		f.mu.Lock()
		dup := f.seen[key]
		f.seen[key] = true
		f.mu.Unlock()
		status := "accepted"
		if dup {
			status = "duplicate"
		}
		_ = json.NewEncoder(w).Encode(Ack{Status: status})
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"started":true}`))
	})
	return httptest.NewServer(mux)
}

func TestGenerate(t *testing.T) {
	Convey("Given the delivery generator", t, func() {
		now := time.Unix(1_700_000_000, 0)

		Convey("When no duplicates are requested", func() {
			ds := Generate(200, []int64{42, 7}, 0, now)

			Convey("Then every delivery is valid and unique", func() {
				So(len(ds), ShouldEqual, 200)
				seen := map[string]bool{}
				for _, d := range ds {
					So(d.ObjectType, ShouldEqual, "activity")
					So(d.OwnerID, ShouldBeIn, []int64{42, 7})
					So(d.AspectType, ShouldBeIn, []string{"create", "update", "delete"})
					key := fmt.Sprintf("%d:%s:%d", d.ObjectID, d.AspectType, d.EventTime)
					So(seen[key], ShouldBeFalse)
					seen[key] = true
				}
				So(ds[0].AspectType, ShouldEqual, "create")
			})
		})

		Convey("When every delivery is duplicated", func() {
			ds := Generate(50, []int64{42}, 1, now)

			Convey("Then each appears twice in a row", func() {
				So(len(ds), ShouldEqual, 100)
				for i := 0; i < len(ds); i += 2 {
					So(ds[i], ShouldResemble, ds[i+1])
				}
			})
		})

		Convey("When there is nothing to generate", func() {
			So(Generate(0, []int64{42}, 0, now), ShouldBeNil)
			So(Generate(10, nil, 0, now), ShouldBeNil)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a webhook endpoint", t, func() {
		ctx := context.Background()
		srv := newFakeWebhook("verify")
		defer srv.Close()
		cfg := &Config{
			BaseURL:       srv.URL,
			NumEvents:     100,
			Principals:    []int64{42},
			DuplicateRate: 1,
			Workers:       4,
			Timeout:       5 * time.Second,
			VerifyToken:   "verify",
			OutputFile:    filepath.Join(t.TempDir(), "deliveries.json"),
		}

		Convey("When generated deliveries are replayed", func() {
			stats, err := Run(ctx, cfg)

			Convey("Then every duplicate is acknowledged as such", func() {
				So(err, ShouldBeNil)
				So(stats.Generated, ShouldEqual, 200)
				So(stats.Submitted, ShouldEqual, 200)
				So(stats.Accepted, ShouldEqual, 100)
				So(stats.Duplicate, ShouldEqual, 100)
				So(stats.Failed, ShouldEqual, 0)
			})

			Convey("Then replaying the saved file yields only duplicates", func() {
				again, err := Run(ctx, &Config{
					BaseURL: srv.URL, Workers: 2, Timeout: 5 * time.Second, InputFile: cfg.OutputFile,
				})
				So(err, ShouldBeNil)
				So(again.Submitted, ShouldEqual, 200)
				So(again.Duplicate, ShouldEqual, 200)
			})
		})

		Convey("When the verify token is wrong", func() {
			cfg.VerifyToken = "nope"
			_, err := Run(ctx, cfg)

			Convey("Then the run stops before submitting", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "challenge")
			})
		})

		Convey("When there are no principals", func() {
			cfg.Principals = nil
			_, err := Run(ctx, cfg)

			Convey("Then nothing is submitted", func() {
				So(err, ShouldEqual, ErrNoDeliveries)
			})
		})

		Convey("When a delivery is malformed", func() {
			outcome, err := NewClient(srv.URL, time.Second).Submit(ctx, Delivery{ObjectType: "activity"})

			Convey("Then it is counted as rejected", func() {
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, OutcomeRejected)
			})
		})
	})
}
