package strava

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/pkg/logger"
	"github.com/okian/stravasync/pkg/metrics"
)

// DefaultRefreshMargin is how long before expiry an access token stops being used.
const DefaultRefreshMargin = time.Hour

// tokenManager owns the credentials of every principal.
//
// Refreshes of one principal are serialized by a per-principal lock; callers
// that queued behind a refresh reuse its result.
type tokenManager struct {
	mu    sync.Mutex
	creds map[int64]model.Credential
	locks map[int64]chan struct{}

	oauth      *oauth2.Config
	httpClient *http.Client
	margin     time.Duration
	now        func() time.Time
	onRefresh  func(ctx context.Context, c model.Credential) error
	logger     logger.Logger
}

// put stores c unless a credential with a later expiry is already held.
func (m *tokenManager) put(c model.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.creds[c.PrincipalID]; ok && cur.ExpiresAt.After(c.ExpiresAt) {
		return
	}
	m.creds[c.PrincipalID] = c
}

func (m *tokenManager) get(principalID int64) (model.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.creds[principalID]
	return c, ok
}

func (m *tokenManager) all() []model.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Credential, 0, len(m.creds))
	for _, c := range m.creds {
		out = append(out, c)
	}
	return out
}

// lock acquires the refresh lock of a principal, giving up when ctx is done.
func (m *tokenManager) lock(ctx context.Context, principalID int64) (func(), error) {
	m.mu.Lock()
	ch, ok := m.locks[principalID]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[principalID] = ch
	}
	m.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// token returns an access token usable now, refreshing first when the stored
// one is inside the safety margin. It reports whether a refresh happened.
func (m *tokenManager) token(ctx context.Context, op string, principalID int64) (string, bool, error) {
	c, ok := m.get(principalID)
	if !ok {
		return "", false, newError(op, ErrUnknownPrincipal, 0, nil)
	}
	if !c.NeedsRefresh(m.now(), m.margin) {
		return c.AccessToken, false, nil
	}

	unlock, err := m.lock(ctx, principalID)
	if err != nil {
		return "", false, newError(op, ErrTransient, 0, err)
	}
	defer unlock()

	// another caller may have refreshed while we waited
	c, _ = m.get(principalID)
	if !c.NeedsRefresh(m.now(), m.margin) {
		return c.AccessToken, false, nil
	}

	c, err = m.refresh(ctx, op, c)
	if err != nil {
		return "", false, err
	}
	return c.AccessToken, true, nil
}

// rejected is called after the platform answered 401 to a request made with
// stale. It refreshes unless the credential was already rotated since.
func (m *tokenManager) rejected(ctx context.Context, op string, principalID int64, stale string) (string, error) {
	unlock, err := m.lock(ctx, principalID)
	if err != nil {
		return "", newError(op, ErrTransient, 0, err)
	}
	defer unlock()

	c, ok := m.get(principalID)
	if !ok {
		return "", newError(op, ErrUnknownPrincipal, 0, nil)
	}
	if c.AccessToken != stale {
		return c.AccessToken, nil
	}

	c, err = m.refresh(ctx, op, c)
	if err != nil {
		return "", err
	}
	return c.AccessToken, nil
}

// refresh exchanges the refresh token. Must be called with the principal lock held.
func (m *tokenManager) refresh(ctx context.Context, op string, c model.Credential) (model.Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	// an expired token forces the token source to hit the endpoint
	stale := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       time.Unix(1, 0),
	}
	tok, err := m.oauth.TokenSource(ctx, stale).Token()
	if err != nil {
		metrics.RecordTokenRefresh("failure")
		m.logger.Warn(ctx, "token refresh failed",
			logger.Int64("principal_id", c.PrincipalID),
			logger.Error(err),
		)
		return model.Credential{}, classifyRefreshError(op, err)
	}

	next := model.Credential{
		PrincipalID:  c.PrincipalID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = c.RefreshToken
	}
	if at, ok := expiresAt(tok); ok {
		next.ExpiresAt = at
	}

	m.mu.Lock()
	m.creds[c.PrincipalID] = next
	m.mu.Unlock()

	metrics.RecordTokenRefresh("success")
	m.logger.Info(ctx, "access token refreshed",
		logger.Int64("principal_id", c.PrincipalID),
		logger.String("expires_at", next.ExpiresAt.UTC().Format(time.RFC3339)),
	)

	if m.onRefresh != nil {
		if err := m.onRefresh(context.WithoutCancel(ctx), next); err != nil {
			m.logger.Error(ctx, "persisting refreshed credential failed",
				logger.Int64("principal_id", c.PrincipalID),
				logger.Error(err),
			)
		}
	}
	return next, nil
}

// expiresAt reads the absolute expiry the platform returns next to expires_in.
func expiresAt(tok *oauth2.Token) (time.Time, bool) {
	var secs int64
	switch v := tok.Extra("expires_at").(type) {
	case float64:
		secs = int64(v)
	case int64:
		secs = v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		secs = n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		secs = n
	default:
		return time.Time{}, false
	}
	if secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

func classifyRefreshError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		switch {
		case status >= http.StatusInternalServerError, status == http.StatusTooManyRequests:
			return newError(op, ErrTransient, status, err)
		default:
			return newError(op, ErrAuthentication, status, err)
		}
	}
	var ue *url.Error
	if errors.As(err, &ue) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(op, ErrTransient, 0, err)
	}
	// malformed token responses
	return newError(op, ErrAuthentication, 0, err)
}
