package api

import (
	"github.com/okian/stravasync/pkg/logger"
)

// DefaultMaxBodyBytes bounds webhook request bodies.
const DefaultMaxBodyBytes = 64 << 10

// Option configures a Server.
type Option func(*Server)

// WithVerifyToken sets the shared secret echoed by the platform during
// subscription validation. An empty token rejects every challenge.
func WithVerifyToken(token string) Option {
	return func(s *Server) {
		s.verifyToken = token
	}
}

// WithAdminToken enables the admin routes behind a bearer token.
func WithAdminToken(token string) Option {
	return func(s *Server) {
		s.adminToken = token
	}
}

// WithMaxBodyBytes overrides the webhook body limit.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
