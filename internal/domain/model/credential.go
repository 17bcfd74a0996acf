package model

import "time"

// Credential is the OAuth token pair of one principal.
// ExpiresAt is platform epoch time and is compared against the wall clock.
type Credential struct {
	PrincipalID  int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// NeedsRefresh reports whether the access token may no longer be used at now.
func (c Credential) NeedsRefresh(now time.Time, margin time.Duration) bool {
	return !now.Before(c.ExpiresAt.Add(-margin))
}

// Principal is a configured account whose activities are synchronized.
type Principal struct {
	ID    int64
	Name  string
	Email string
}
