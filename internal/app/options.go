package service

import (
	"net/http"
	"time"

	"github.com/okian/stravasync/internal/adapters/notify"
	"github.com/okian/stravasync/internal/adapters/repository"
	"github.com/okian/stravasync/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore uses an already opened store instead of opening one from config.
// The service closes it on shutdown.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// WithNotifier replaces the notifier selected by notify_provider.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithHTTPClient sets the client used for the platform API and the mail provider.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		s.httpClient = c
	}
}

// WithRetryBase sets the first worker backoff step.
func WithRetryBase(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryBase = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
