package strava

import (
	"context"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/pkg/logger"
)

// Default endpoints and limits.
const (
	DefaultBaseURL  = "https://www.strava.com/api/v3"
	DefaultTokenURL = "https://www.strava.com/oauth/token"
	DefaultTimeout  = 30 * time.Second
	DefaultCacheTTL = time.Hour
)

type options struct {
	baseURL       string
	tokenURL      string
	httpClient    *http.Client
	timeout       time.Duration
	rateLimit     int
	rateWindow    time.Duration
	refreshMargin time.Duration
	now           func() time.Time
	limiter       Limiter
	cacheTTL      time.Duration
	breaker       *gobreaker.Settings
	onRefresh     func(ctx context.Context, c model.Credential) error
	logger        logger.Logger
}

// Option applies a configuration option to the Client.
type Option func(*options)

// WithBaseURL sets the REST API root.
func WithBaseURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.baseURL = u
		}
	}
}

// WithTokenURL sets the OAuth token endpoint.
func WithTokenURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.tokenURL = u
		}
	}
}

// WithHTTPClient sets the HTTP client used for API and token calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithTimeout bounds every network call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRateLimit sets the sliding window quota.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(o *options) {
		if limit > 0 {
			o.rateLimit = limit
		}
		if window > 0 {
			o.rateWindow = window
		}
	}
}

// WithRefreshMargin sets how long before expiry tokens are refreshed.
func WithRefreshMargin(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.refreshMargin = d
		}
	}
}

// WithClock replaces time.Now for token expiry checks and the response cache.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLimiter replaces the sliding window limiter.
func WithLimiter(l Limiter) Option {
	return func(o *options) {
		if l != nil {
			o.limiter = l
		}
	}
}

// WithCacheTTL sets how long fetched activities are memoized. Zero disables memoization.
func WithCacheTTL(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.cacheTTL = d
		}
	}
}

// WithBreakerSettings overrides the circuit breaker configuration.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(o *options) {
		o.breaker = &st
	}
}

// WithOnRefresh registers a callback receiving every refreshed credential.
func WithOnRefresh(fn func(ctx context.Context, c model.Credential) error) Option {
	return func(o *options) {
		o.onRefresh = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
