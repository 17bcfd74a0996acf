package notify

import (
	"net/http"
	"strings"
	"time"

	"github.com/okian/stravasync/pkg/logger"
)

const (
	// DefaultBrevoBaseURL is the Brevo API root.
	DefaultBrevoBaseURL = "https://api.brevo.com"
	// DefaultTimeout bounds a single send.
	DefaultTimeout = 30 * time.Second
)

// Option configures a Brevo notifier.
type Option func(*Brevo)

// WithBaseURL overrides the API root, mainly for tests.
func WithBaseURL(u string) Option {
	return func(b *Brevo) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			b.baseURL = u
		}
	}
}

// WithSender sets the sender identity.
func WithSender(email, name string) Option {
	return func(b *Brevo) {
		b.senderEmail = email
		b.senderName = name
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Brevo) {
		if c != nil {
			b.client = c
		}
	}
}

// WithTimeout bounds each send.
func WithTimeout(d time.Duration) Option {
	return func(b *Brevo) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Brevo) {
		if l != nil {
			b.logger = l
		}
	}
}
