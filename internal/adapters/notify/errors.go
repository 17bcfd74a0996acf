package notify

import "errors"

var (
	// ErrNoRecipients is returned when a message has no deliverable address.
	ErrNoRecipients = errors.New("no valid recipients")
	// ErrMissingAPIKey is returned by Brevo when no key was configured.
	ErrMissingAPIKey = errors.New("brevo api key not configured")
	// ErrRejected is returned when the provider answers with a non-success status.
	ErrRejected = errors.New("provider rejected message")
)
