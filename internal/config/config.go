// Package config defines service configuration and its loader.
//
// Values are layered as defaults, then an optional YAML file, then
// STRAVASYNC_ environment variables. Principals can only come from the file.
package config

import (
	"runtime"
	"time"

	"github.com/okian/stravasync/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// EventQueueSize bounds the total buffered webhook events.
	EventQueueSize int `koanf:"queue_size" validate:"gt=0"`

	// WorkerCount sets the number of sync workers and queue shards.
	WorkerCount int `koanf:"worker_count" validate:"gt=0"`

	// DedupeSize and DedupeTTL size the delivery fingerprint cache.
	DedupeSize int           `koanf:"dedupe_size" validate:"gt=0"`
	DedupeTTL  time.Duration `koanf:"dedupe_ttl" validate:"gt=0"`

	// NotifyTTL suppresses repeat notifications for the same activity and kind.
	NotifyTTL time.Duration `koanf:"notify_ttl" validate:"gt=0"`

	// CacheCleanupInterval drives the background sweep of every TTL cache.
	CacheCleanupInterval time.Duration `koanf:"cache_cleanup_interval" validate:"gte=0"`

	// VerifyToken answers the subscription challenge. Empty refuses every challenge.
	VerifyToken string `koanf:"verify_token"`

	// AdminToken enables the admin routes when set.
	AdminToken string `koanf:"admin_token"`

	APIBaseURL  string `koanf:"api_base_url" validate:"required,url"`
	APITokenURL string `koanf:"api_token_url" validate:"required,url"`

	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`

	// RateLimit requests are allowed inside any RateWindow.
	RateLimit  int           `koanf:"rate_limit" validate:"gt=0"`
	RateWindow time.Duration `koanf:"rate_window" validate:"gt=0"`

	APITimeout       time.Duration `koanf:"api_timeout" validate:"gt=0"`
	RefreshMargin    time.Duration `koanf:"refresh_margin" validate:"gte=0"`
	ActivityCacheTTL time.Duration `koanf:"activity_cache_ttl" validate:"gte=0"`

	StoreDriver  string        `koanf:"store_driver" validate:"oneof=sqlite postgres"`
	StoreDSN     string        `koanf:"store_dsn" validate:"required"`
	StoreTimeout time.Duration `koanf:"store_timeout" validate:"gt=0"`

	NotifyProvider string  `koanf:"notify_provider" validate:"oneof=log brevo"`
	BrevoAPIKey    string  `koanf:"brevo_api_key" validate:"required_if=NotifyProvider brevo"`
	BrevoBaseURL   string  `koanf:"brevo_base_url" validate:"omitempty,url"`
	SenderEmail    string  `koanf:"sender_email" validate:"required_if=NotifyProvider brevo"`
	SenderName     string  `koanf:"sender_name"`
	NotifyRate     float64 `koanf:"notify_rate" validate:"gte=0"`

	RetryMaxAttempts int           `koanf:"retry_max_attempts" validate:"gt=0"`
	RetryMaxBackoff  time.Duration `koanf:"retry_max_backoff" validate:"gt=0"`

	// BackfillInterval of zero disables the periodic backfill.
	BackfillInterval time.Duration `koanf:"backfill_interval" validate:"gte=0"`
	BackfillLookback time.Duration `koanf:"backfill_lookback" validate:"gt=0"`

	Principals []Principal `koanf:"principals" validate:"dive"`
}

// Principal is a configured account and its bootstrap credential.
type Principal struct {
	ID           int64  `koanf:"id" validate:"gt=0"`
	Name         string `koanf:"name"`
	Email        string `koanf:"email" validate:"omitempty,email"`
	AccessToken  string `koanf:"access_token"`
	RefreshToken string `koanf:"refresh_token" validate:"required"`
	ExpiresAt    int64  `koanf:"expires_at"` // epoch seconds
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		EventQueueSize:       10_000,
		WorkerCount:          runtime.NumCPU(),
		DedupeSize:           100_000,
		DedupeTTL:            10 * time.Minute,
		NotifyTTL:            30 * time.Minute,
		CacheCleanupInterval: time.Minute,
		APIBaseURL:           "https://www.strava.com/api/v3",
		APITokenURL:          "https://www.strava.com/oauth/token",
		RateLimit:            100,
		RateWindow:           900 * time.Second,
		APITimeout:           30 * time.Second,
		RefreshMargin:        time.Hour,
		ActivityCacheTTL:     time.Hour,
		StoreDriver:          "sqlite",
		StoreDSN:             "stravasync.db",
		StoreTimeout:         5 * time.Second,
		NotifyProvider:       "log",
		BrevoBaseURL:         "https://api.brevo.com",
		NotifyRate:           1,
		RetryMaxAttempts:     3,
		RetryMaxBackoff:      30 * time.Second,
		BackfillInterval:     0,
		BackfillLookback:     7 * 24 * time.Hour,
	}
}

// ModelPrincipals returns the configured principals as domain values.
func (c *Config) ModelPrincipals() []model.Principal {
	out := make([]model.Principal, 0, len(c.Principals))
	for _, p := range c.Principals {
		out = append(out, model.Principal{ID: p.ID, Name: p.Name, Email: p.Email})
	}
	return out
}

// Credentials returns the bootstrap credentials of every principal.
func (c *Config) Credentials() []model.Credential {
	out := make([]model.Credential, 0, len(c.Principals))
	for _, p := range c.Principals {
		out = append(out, model.Credential{
			PrincipalID:  p.ID,
			AccessToken:  p.AccessToken,
			RefreshToken: p.RefreshToken,
			ExpiresAt:    time.Unix(p.ExpiresAt, 0),
		})
	}
	return out
}
