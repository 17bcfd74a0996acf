package strava_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/stravasync/internal/adapters/strava"
	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// platform is an in-process stand-in for the REST API and token endpoint.
type platform struct {
	srv        *httptest.Server
	clock      *fakeClock
	apiCalls   atomic.Int32
	tokenCalls atomic.Int32

	mu         sync.Mutex
	seenTokens []string
	activity   func(n int, token string, w http.ResponseWriter)
	token      func(n int, w http.ResponseWriter, r *http.Request)
	pages      [][]int64
}

func newPlatform(clock *fakeClock) *platform {
	p := &platform{clock: clock}
	p.activity = func(_ int, _ string, w http.ResponseWriter) {
		writeActivity(w, 555, 42)
	}
	p.token = func(n int, w http.ResponseWriter, r *http.Request) {
		if r.FormValue("grant_type") != "refresh_token" || r.FormValue("client_id") != "client" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token_type":    "Bearer",
			"access_token":  "fresh-" + strconv.Itoa(n),
			"refresh_token": "refresh-" + strconv.Itoa(n),
			"expires_in":    21600,
			"expires_at":    clock.Now().Add(6 * time.Hour).Unix(),
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/activities/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := int(p.apiCalls.Add(1))
		tok := r.Header.Get("Authorization")[len("Bearer "):]
		p.mu.Lock()
		p.seenTokens = append(p.seenTokens, tok)
		handler := p.activity
		p.mu.Unlock()
		handler(n, tok, w)
	})
	mux.HandleFunc("GET /api/v3/athlete/activities", func(w http.ResponseWriter, r *http.Request) {
		p.apiCalls.Add(1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		p.mu.Lock()
		var ids []int64
		if page >= 1 && page <= len(p.pages) {
			ids = p.pages[page-1]
		}
		p.mu.Unlock()
		out := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			out = append(out, map[string]any{"id": id, "athlete": map[string]any{"id": 42}, "name": "run"})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		n := int(p.tokenCalls.Add(1))
		p.mu.Lock()
		handler := p.token
		p.mu.Unlock()
		handler(n, w, r)
	})
	p.srv = httptest.NewServer(mux)
	return p
}

func (p *platform) client(creds []model.Credential, opts ...strava.Option) *strava.Client {
	base := []strava.Option{
		strava.WithBaseURL(p.srv.URL + "/api/v3"),
		strava.WithTokenURL(p.srv.URL + "/oauth/token"),
		strava.WithClock(p.clock.Now),
	}
	return strava.New("client", "secret", creds, append(base, opts...)...)
}

func (p *platform) setActivity(fn func(n int, token string, w http.ResponseWriter)) {
	p.mu.Lock()
	p.activity = fn
	p.mu.Unlock()
}

func (p *platform) setToken(fn func(n int, w http.ResponseWriter, r *http.Request)) {
	p.mu.Lock()
	p.token = fn
	p.mu.Unlock()
}

func (p *platform) tokensSeen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seenTokens...)
}

func writeActivity(w http.ResponseWriter, id, owner int64) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"id":%d,"athlete":{"id":%d},"name":"Morning Run","type":"Run","distance":10000.5,`+
		`"moving_time":3000,"start_date":"2024-05-01T05:30:00Z","average_heartrate":151.5,"gear_id":"b1"}`, id, owner)
}

func credential(clock *fakeClock, expiresIn time.Duration) model.Credential {
	return model.Credential{
		PrincipalID:  42,
		AccessToken:  "current",
		RefreshToken: "refresh",
		ExpiresAt:    clock.Now().Add(expiresIn),
	}
}

func TestTokenRefreshBoundary(t *testing.T) {
	Convey("Given a credential and a one hour safety margin", t, func() {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		p := newPlatform(clock)
		defer p.srv.Close()
		cred := credential(clock, 2*time.Hour)
		ctx := context.Background()

		Convey("When a call is made one second before the margin", func() {
			clock.Advance(time.Hour - time.Second)
			c := p.client([]model.Credential{cred})
			_, found, err := c.GetActivity(ctx, 42, 555)

			Convey("Then no refresh happens", func() {
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(p.tokenCalls.Load(), ShouldEqual, 0)
				So(p.tokensSeen(), ShouldResemble, []string{"current"})
			})
		})

		Convey("When a call is made exactly at the margin", func() {
			clock.Advance(time.Hour)
			c := p.client([]model.Credential{cred})
			_, found, err := c.GetActivity(ctx, 42, 555)

			Convey("Then exactly one refresh happens before the request", func() {
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(p.tokenCalls.Load(), ShouldEqual, 1)
				So(p.tokensSeen(), ShouldResemble, []string{"fresh-1"})
			})

			Convey("Then the new credential uses the absolute expiry and rotated refresh token", func() {
				creds := c.Credentials()
				So(len(creds), ShouldEqual, 1)
				So(creds[0].RefreshToken, ShouldEqual, "refresh-1")
				So(creds[0].ExpiresAt.Unix(), ShouldEqual, clock.Now().Add(6*time.Hour).Unix())
			})
		})

		Convey("When RefreshToken is called outside and inside the margin", func() {
			c := p.client([]model.Credential{cred})
			before, err1 := c.RefreshToken(ctx, 42)
			clock.Advance(time.Hour)
			after, err2 := c.RefreshToken(ctx, 42)

			Convey("Then it reports whether it refreshed", func() {
				So(err1, ShouldBeNil)
				So(before, ShouldBeFalse)
				So(err2, ShouldBeNil)
				So(after, ShouldBeTrue)
				So(p.tokenCalls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When the refresh is rejected", func() {
			p.setToken(func(_ int, w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			})
			clock.Advance(2 * time.Hour)
			c := p.client([]model.Credential{cred})
			_, _, err := c.GetActivity(ctx, 42, 555)

			Convey("Then the call fails with an authentication error without being attempted", func() {
				So(strava.IsAuthentication(err), ShouldBeTrue)
				So(p.apiCalls.Load(), ShouldEqual, 0)
			})
		})

		Convey("When the token endpoint is down", func() {
			p.setToken(func(_ int, w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			})
			clock.Advance(2 * time.Hour)
			c := p.client([]model.Credential{cred})
			_, _, err := c.GetActivity(ctx, 42, 555)

			Convey("Then the failure is transient", func() {
				So(strava.IsTransient(err), ShouldBeTrue)
			})
		})

		Convey("When a refreshed credential is persisted", func() {
			var saved []model.Credential
			var mu sync.Mutex
			clock.Advance(time.Hour)
			c := p.client([]model.Credential{cred}, strava.WithOnRefresh(func(_ context.Context, got model.Credential) error {
				mu.Lock()
				saved = append(saved, got)
				mu.Unlock()
				return nil
			}))
			_, _, err := c.GetActivity(ctx, 42, 555)

			Convey("Then the callback receives it", func() {
				So(err, ShouldBeNil)
				mu.Lock()
				defer mu.Unlock()
				So(len(saved), ShouldEqual, 1)
				So(saved[0].AccessToken, ShouldEqual, "fresh-1")
				So(saved[0].PrincipalID, ShouldEqual, 42)
			})
		})
	})
}

func TestUnauthorizedRetry(t *testing.T) {
	Convey("Given a platform that rejects the stored token once", t, func() {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		p := newPlatform(clock)
		defer p.srv.Close()
		p.setActivity(func(_ int, token string, w http.ResponseWriter) {
			if token == "current" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeActivity(w, 555, 42)
		})
		c := p.client([]model.Credential{credential(clock, 6*time.Hour)})

		Convey("When the activity is fetched", func() {
			a, found, err := c.GetActivity(context.Background(), 42, 555)

			Convey("Then one refresh and one retry succeed", func() {
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(a.ID, ShouldEqual, 555)
				So(p.tokenCalls.Load(), ShouldEqual, 1)
				So(p.tokensSeen(), ShouldResemble, []string{"current", "fresh-1"})
			})
		})

		Convey("When the platform rejects the fresh token too", func() {
			p.setActivity(func(_ int, _ string, w http.ResponseWriter) {
				w.WriteHeader(http.StatusUnauthorized)
			})
			_, _, err := c.GetActivity(context.Background(), 42, 555)

			Convey("Then the call fails with an authentication error after a single retry", func() {
				So(strava.IsAuthentication(err), ShouldBeTrue)
				So(p.apiCalls.Load(), ShouldEqual, 2)
				So(p.tokenCalls.Load(), ShouldEqual, 1)
			})
		})
	})
}

func TestRefreshCoalescing(t *testing.T) {
	Convey("Given many concurrent calls with an expired token", t, func() {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		p := newPlatform(clock)
		defer p.srv.Close()
		base := p.token
		p.setToken(func(n int, w http.ResponseWriter, r *http.Request) {
			time.Sleep(20 * time.Millisecond)
			base(n, w, r)
		})
		c := p.client([]model.Credential{credential(clock, -time.Minute)}, strava.WithCacheTTL(0))

		Convey("When they run at once", func() {
			var wg sync.WaitGroup
			var failures atomic.Int32
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, _, err := c.GetActivity(context.Background(), 42, 555); err != nil {
						failures.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then the token is refreshed exactly once", func() {
				So(failures.Load(), ShouldEqual, 0)
				So(p.tokenCalls.Load(), ShouldEqual, 1)
				for _, tok := range p.tokensSeen() {
					So(tok, ShouldEqual, "fresh-1")
				}
			})
		})
	})
}

func TestResponseClassification(t *testing.T) {
	Convey("Given a valid credential", t, func() {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		p := newPlatform(clock)
		defer p.srv.Close()
		c := p.client([]model.Credential{credential(clock, 6*time.Hour)})
		ctx := context.Background()
		respond := func(status int, header map[string]string) {
			p.setActivity(func(_ int, _ string, w http.ResponseWriter) {
				for k, v := range header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(status)
			})
		}

		Convey("When the activity exists", func() {
			a, found, err := c.GetActivity(ctx, 42, 555)

			Convey("Then it is mapped with optional fields", func() {
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(a.OwnerID, ShouldEqual, 42)
				So(a.Name, ShouldEqual, "Morning Run")
				So(a.Distance, ShouldEqual, 10000.5)
				So(*a.AverageHeartrate, ShouldEqual, 151.5)
				So(*a.GearID, ShouldEqual, "b1")
				So(a.MaxHeartrate, ShouldBeNil)
				So(a.StartDate.Equal(time.Date(2024, 5, 1, 5, 30, 0, 0, time.UTC)), ShouldBeTrue)
			})
		})

		Convey("When the platform answers 404", func() {
			respond(http.StatusNotFound, nil)
			_, found, err := c.GetActivity(ctx, 42, 555)

			Convey("Then the activity is absent and no error is returned", func() {
				So(err, ShouldBeNil)
				So(found, ShouldBeFalse)
			})
		})

		Convey("When the platform answers 429 with Retry-After", func() {
			respond(http.StatusTooManyRequests, map[string]string{"Retry-After": "30"})
			_, _, err := c.GetActivity(ctx, 42, 555)

			Convey("Then a rate limit error carries the hint", func() {
				So(strava.IsRateLimit(err), ShouldBeTrue)
				So(strava.RetryAfter(err), ShouldEqual, 30*time.Second)
			})
		})

		Convey("When the platform answers 429 without Retry-After", func() {
			respond(http.StatusTooManyRequests, nil)
			_, _, err := c.GetActivity(ctx, 42, 555)

			Convey("Then the hint defaults to the window length", func() {
				So(strava.RetryAfter(err), ShouldEqual, 900*time.Second)
			})
		})

		Convey("When the platform answers 403", func() {
			respond(http.StatusForbidden, nil)
			_, _, err := c.GetActivity(ctx, 42, 555)

			Convey("Then an authorization error is returned", func() {
				So(strava.IsAuthorization(err), ShouldBeTrue)
				var apiErr *strava.Error
				So(errors.As(err, &apiErr), ShouldBeTrue)
				So(apiErr.StatusCode, ShouldEqual, http.StatusForbidden)
			})
		})

		Convey("When the platform answers 503", func() {
			respond(http.StatusServiceUnavailable, nil)
			_, _, err := c.GetActivity(ctx, 42, 555)

			Convey("Then a transient error is returned", func() {
				So(strava.IsTransient(err), ShouldBeTrue)
			})
		})

		Convey("When the platform answers an unexpected status", func() {
			respond(http.StatusTeapot, nil)
			_, _, err := c.GetActivity(ctx, 42, 555)

			Convey("Then an unexpected error is returned", func() {
				So(errors.Is(err, strava.ErrUnexpected), ShouldBeTrue)
			})
		})

		Convey("When the server is unreachable", func() {
			p.srv.Close()
			_, _, err := c.GetActivity(ctx, 42, 555)

			Convey("Then the network failure is transient", func() {
				So(strava.IsTransient(err), ShouldBeTrue)
			})
		})

		Convey("When the principal is unknown", func() {
			_, _, err := c.GetActivity(ctx, 7, 555)
			_, athleteErr := c.Athlete(7)

			Convey("Then a configuration error is returned without a request", func() {
				So(errors.Is(err, strava.ErrUnknownPrincipal), ShouldBeTrue)
				So(errors.Is(athleteErr, strava.ErrUnknownPrincipal), ShouldBeTrue)
				So(c.Known(7), ShouldBeFalse)
				So(p.apiCalls.Load(), ShouldEqual, 0)
			})
		})
	})
}

func TestActivityMemoization(t *testing.T) {
	Convey("Given a client with a response cache", t, func() {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		p := newPlatform(clock)
		defer p.srv.Close()
		c := p.client([]model.Credential{credential(clock, 6*time.Hour)})
		athlete, err := c.Athlete(42)
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("When the same activity is fetched twice", func() {
			_, _, _ = athlete.GetActivity(ctx, 555)
			_, _, _ = athlete.GetActivity(ctx, 555)

			Convey("Then the platform is called once", func() {
				So(p.apiCalls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When the activity is forgotten in between", func() {
			_, _, _ = athlete.GetActivity(ctx, 555)
			c.Forget(42, 555)
			_, _, _ = athlete.GetActivity(ctx, 555)

			Convey("Then the platform is called again", func() {
				So(p.apiCalls.Load(), ShouldEqual, 2)
			})
		})

		Convey("When the cache entry expires", func() {
			_, _, _ = athlete.GetActivity(ctx, 555)
			clock.Advance(time.Hour)
			_, _, _ = athlete.GetActivity(ctx, 555)

			Convey("Then the platform is called again", func() {
				So(p.apiCalls.Load(), ShouldEqual, 2)
			})
		})
	})
}

func TestCircuitBreaker(t *testing.T) {
	Convey("Given a breaker that trips after two transient failures", t, func() {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		p := newPlatform(clock)
		defer p.srv.Close()
		p.setActivity(func(_ int, _ string, w http.ResponseWriter) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		limiter := strava.NewSlidingWindow(100, time.Hour)
		c := p.client([]model.Credential{credential(clock, 6*time.Hour)},
			strava.WithLimiter(limiter),
			strava.WithBreakerSettings(gobreaker.Settings{
				Name:    "test-breaker",
				Timeout: time.Hour,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 2
				},
			}),
		)
		ctx := context.Background()

		Convey("When a third call is made", func() {
			_, _, _ = c.GetActivity(ctx, 42, 1)
			_, _, _ = c.GetActivity(ctx, 42, 2)
			_, _, err := c.GetActivity(ctx, 42, 3)

			Convey("Then it is rejected as transient without a request or limiter slot", func() {
				So(strava.IsTransient(err), ShouldBeTrue)
				So(errors.Is(err, gobreaker.ErrOpenState), ShouldBeTrue)
				So(p.apiCalls.Load(), ShouldEqual, 2)
				So(limiter.Used(), ShouldEqual, 2)
			})
		})

		Convey("When not-found and forbidden answers repeat", func() {
			p.setActivity(func(n int, _ string, w http.ResponseWriter) {
				if n%2 == 0 {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.WriteHeader(http.StatusForbidden)
			})
			for i := 0; i < 4; i++ {
				_, _, _ = c.GetActivity(ctx, 42, int64(i))
			}

			Convey("Then the breaker stays closed", func() {
				So(p.apiCalls.Load(), ShouldEqual, 4)
			})
		})
	})
}

func TestPager(t *testing.T) {
	Convey("Given a principal with three pages of activities", t, func() {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		p := newPlatform(clock)
		defer p.srv.Close()
		p.mu.Lock()
		p.pages = [][]int64{{1, 2}, {3, 4}, {5}}
		p.mu.Unlock()
		c := p.client([]model.Credential{credential(clock, 6*time.Hour)})
		ctx := context.Background()

		Convey("When the pager is drained", func() {
			pager := c.Pager(42, model.ListQuery{PerPage: 2}, 0)
			var ids []int64
			for !pager.Done() {
				page, err := pager.Next(ctx)
				So(err, ShouldBeNil)
				for _, a := range page {
					ids = append(ids, a.ID)
				}
			}

			Convey("Then every activity is returned once and it stops on the short page", func() {
				So(ids, ShouldResemble, []int64{1, 2, 3, 4, 5})
				So(pager.Fetched(), ShouldEqual, 5)
				So(p.apiCalls.Load(), ShouldEqual, 3)
			})
		})

		Convey("When the pager has a limit", func() {
			pager := c.Pager(42, model.ListQuery{PerPage: 2}, 3)
			first, _ := pager.Next(ctx)
			second, _ := pager.Next(ctx)

			Convey("Then it stops at the limit", func() {
				So(len(first), ShouldEqual, 2)
				So(len(second), ShouldEqual, 1)
				So(pager.Done(), ShouldBeTrue)
				rest, err := pager.Next(ctx)
				So(err, ShouldBeNil)
				So(rest, ShouldBeNil)
			})
		})

		Convey("When an oversized page is requested", func() {
			_, err := c.ListActivities(ctx, 42, model.ListQuery{PerPage: 1000, After: clock.Now().Add(-time.Hour)})

			Convey("Then the request still succeeds", func() {
				So(err, ShouldBeNil)
			})
		})
	})
}
