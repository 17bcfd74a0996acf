// Package strava is a rate limited client for the activity platform REST API.
//
// One Client is shared by every goroutine of the process. It owns the HTTP
// transport, the sliding window limiter, the circuit breaker, the credentials
// of all principals and a short lived cache of fetched activities.
package strava

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"

	"github.com/okian/stravasync/internal/domain/cache"
	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/pkg/logger"
	"github.com/okian/stravasync/pkg/metrics"
)

// Operation names used in errors and metrics.
const (
	opGetActivity    = "get_activity"
	opListActivities = "list_activities"
	opRefreshToken   = "refresh_token"
)

// Page size bounds of the list endpoint.
const (
	DefaultPerPage = 50
	MaxPerPage     = 200
)

const maxResponseBytes = 4 << 20

type response struct {
	status int
	header http.Header
	body   []byte
}

// Client talks to the REST API on behalf of configured principals.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	limiter    Limiter
	tokens     *tokenManager
	breaker    *gobreaker.CircuitBreaker[*response]
	memo       *cache.Cache[string, model.Activity]
	memoTTL    time.Duration
	now        func() time.Time
	logger     logger.Logger
}

// New creates a client for the given application credentials and principals.
func New(clientID, clientSecret string, creds []model.Credential, opts ...Option) *Client {
	o := options{
		baseURL:       DefaultBaseURL,
		tokenURL:      DefaultTokenURL,
		timeout:       DefaultTimeout,
		rateLimit:     DefaultRateLimit,
		rateWindow:    DefaultRateWindow,
		refreshMargin: DefaultRefreshMargin,
		now:           time.Now,
		cacheTTL:      DefaultCacheTTL,
		logger:        logger.Get().Named("strava"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.timeout}
	}
	if o.limiter == nil {
		o.limiter = NewSlidingWindow(o.rateLimit, o.rateWindow)
	}
	st := defaultBreakerSettings()
	if o.breaker != nil {
		st = *o.breaker
	}

	c := &Client{
		baseURL:    strings.TrimRight(o.baseURL, "/"),
		httpClient: o.httpClient,
		timeout:    o.timeout,
		limiter:    o.limiter,
		breaker:    newBreaker(st, o.logger),
		memoTTL:    o.cacheTTL,
		now:        o.now,
		logger:     o.logger,
		tokens: &tokenManager{
			creds: make(map[int64]model.Credential, len(creds)),
			locks: make(map[int64]chan struct{}, len(creds)),
			oauth: &oauth2.Config{
				ClientID:     clientID,
				ClientSecret: clientSecret,
				Endpoint: oauth2.Endpoint{
					TokenURL:  o.tokenURL,
					AuthStyle: oauth2.AuthStyleInParams,
				},
			},
			httpClient: o.httpClient,
			margin:     o.refreshMargin,
			now:        o.now,
			onRefresh:  o.onRefresh,
			logger:     o.logger,
		},
	}
	if o.cacheTTL > 0 {
		c.memo = cache.New[string, model.Activity](
			cache.WithDefaultTTL(o.cacheTTL),
			cache.WithClock(o.now),
			cache.WithName("activities"),
		)
	}
	for _, cred := range creds {
		c.tokens.put(cred)
	}
	return c
}

// AddCredential registers or updates a principal. A credential that expires
// earlier than the one already held is ignored.
func (c *Client) AddCredential(cred model.Credential) {
	c.tokens.put(cred)
}

// Credentials returns the current credential of every principal.
func (c *Client) Credentials() []model.Credential {
	return c.tokens.all()
}

// Known reports whether principalID has a credential.
func (c *Client) Known(principalID int64) bool {
	_, ok := c.tokens.get(principalID)
	return ok
}

// Athlete returns the view of the client bound to one principal.
func (c *Client) Athlete(principalID int64) (*AthleteClient, error) {
	if !c.Known(principalID) {
		return nil, newError("athlete", ErrUnknownPrincipal, 0, fmt.Errorf("principal %d", principalID))
	}
	return &AthleteClient{c: c, principalID: principalID}, nil
}

// Forget drops a memoized activity so the next fetch goes to the platform.
func (c *Client) Forget(principalID, activityID int64) {
	if c.memo != nil {
		c.memo.Delete(memoKey(principalID, activityID))
	}
}

// GetActivity fetches one activity. found is false when the platform no longer has it.
func (c *Client) GetActivity(ctx context.Context, principalID, activityID int64) (model.Activity, bool, error) {
	key := memoKey(principalID, activityID)
	if c.memo != nil {
		if a, ok := c.memo.Get(key); ok {
			return a, true, nil
		}
	}

	resp, err := c.call(ctx, opGetActivity, principalID, "/activities/"+strconv.FormatInt(activityID, 10), nil)
	if err != nil {
		return model.Activity{}, false, err
	}
	if resp.status == http.StatusNotFound {
		return model.Activity{}, false, nil
	}

	var payload apiActivity
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return model.Activity{}, false, newError(opGetActivity, ErrUnexpected, resp.status, fmt.Errorf("decoding activity: %w", err))
	}
	a := payload.toModel()
	if a.OwnerID == 0 {
		a.OwnerID = principalID
	}
	if c.memo != nil {
		c.memo.Set(key, a, c.memoTTL)
	}
	return a, true, nil
}

// ListActivities fetches one page of a principal's activities, newest first.
func (c *Client) ListActivities(ctx context.Context, principalID int64, q model.ListQuery) ([]model.Activity, error) {
	q = normalizeQuery(q)
	params := url.Values{}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("per_page", strconv.Itoa(q.PerPage))
	if !q.After.IsZero() {
		params.Set("after", strconv.FormatInt(q.After.Unix(), 10))
	}
	if !q.Before.IsZero() {
		params.Set("before", strconv.FormatInt(q.Before.Unix(), 10))
	}

	resp, err := c.call(ctx, opListActivities, principalID, "/athlete/activities", params)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return nil, nil
	}

	var payload []apiActivity
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return nil, newError(opListActivities, ErrUnexpected, resp.status, fmt.Errorf("decoding activities: %w", err))
	}
	out := make([]model.Activity, 0, len(payload))
	for _, p := range payload {
		a := p.toModel()
		if a.OwnerID == 0 {
			a.OwnerID = principalID
		}
		out = append(out, a)
	}
	return out, nil
}

// RefreshToken refreshes the principal's token when it is inside the safety
// margin and reports whether it did.
func (c *Client) RefreshToken(ctx context.Context, principalID int64) (bool, error) {
	_, refreshed, err := c.tokens.token(ctx, opRefreshToken, principalID)
	return refreshed, err
}

// Pager walks a principal's activities page by page, stopping after limit
// activities when limit > 0.
func (c *Client) Pager(principalID int64, q model.ListQuery, limit int) *Pager {
	return NewPager(c.ListActivities, principalID, q, limit)
}

// call performs an authenticated GET, retrying once with a fresh token after a 401.
func (c *Client) call(ctx context.Context, op string, principalID int64, path string, q url.Values) (*response, error) {
	token, _, err := c.tokens.token(ctx, op, principalID)
	if err != nil {
		return nil, err
	}

	resp, err := c.exchange(ctx, op, token, path, q)
	if resp == nil || resp.status != http.StatusUnauthorized {
		return resp, err
	}

	c.logger.Info(ctx, "access token rejected, refreshing",
		logger.String("op", op),
		logger.Int64("principal_id", principalID),
	)
	token, err = c.tokens.rejected(ctx, op, principalID, token)
	if err != nil {
		return nil, err
	}
	return c.exchange(ctx, op, token, path, q)
}

// exchange sends one request through the circuit breaker.
// An open circuit fails before the limiter is consulted.
func (c *Client) exchange(ctx context.Context, op, token, path string, q url.Values) (*response, error) {
	name := c.breaker.Name()
	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.send(ctx, op, token, path, q)
	})
	switch {
	case err == nil:
		metrics.RecordCircuitBreakerRequest(name, "success")
	case breakerRejected(err):
		metrics.RecordCircuitBreakerRequest(name, "rejected")
		return nil, newError(op, ErrTransient, 0, err)
	case countsAsSuccess(err):
		metrics.RecordCircuitBreakerRequest(name, "success")
	default:
		metrics.RecordCircuitBreakerRequest(name, "failure")
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, op, token, path string, q url.Values) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, newError(op, ErrTransient, 0, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, newError(op, ErrUnexpected, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.httpClient.Do(req)
	metrics.RecordAPILatency(op, float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordAPIRequest(op, "error")
		return nil, newError(op, ErrTransient, 0, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		metrics.RecordAPIRequest(op, "error")
		return nil, newError(op, ErrTransient, res.StatusCode, fmt.Errorf("reading body: %w", err))
	}
	metrics.RecordAPIRequest(op, strconv.Itoa(res.StatusCode))

	r := &response{status: res.StatusCode, header: res.Header, body: body}
	return r, classify(op, r)
}

// classify maps a response status onto the error taxonomy. 404 is not an error.
func classify(op string, r *response) error {
	switch {
	case r.status == http.StatusOK, r.status == http.StatusCreated, r.status == http.StatusNotFound:
		return nil
	case r.status == http.StatusUnauthorized:
		return newError(op, ErrAuthentication, r.status, nil)
	case r.status == http.StatusForbidden:
		return newError(op, ErrAuthorization, r.status, nil)
	case r.status == http.StatusTooManyRequests:
		e := newError(op, ErrRateLimited, r.status, nil)
		e.RetryAfter = parseRetryAfterSeconds(r.header.Get("Retry-After"))
		if e.RetryAfter == 0 {
			e.RetryAfter = DefaultRateWindow
		}
		return e
	case r.status >= http.StatusInternalServerError:
		return newError(op, ErrTransient, r.status, nil)
	default:
		return newError(op, ErrUnexpected, r.status, nil)
	}
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func normalizeQuery(q model.ListQuery) model.ListQuery {
	if q.Page <= 0 {
		q.Page = 1
	}
	switch {
	case q.PerPage <= 0:
		q.PerPage = DefaultPerPage
	case q.PerPage > MaxPerPage:
		q.PerPage = MaxPerPage
	}
	return q
}

func memoKey(principalID, activityID int64) string {
	return strconv.FormatInt(principalID, 10) + ":" + strconv.FormatInt(activityID, 10)
}

// AthleteClient is a Client bound to one principal.
type AthleteClient struct {
	c           *Client
	principalID int64
}

// PrincipalID returns the bound principal.
func (a *AthleteClient) PrincipalID() int64 { return a.principalID }

// GetActivity fetches one activity of the principal.
func (a *AthleteClient) GetActivity(ctx context.Context, id int64) (model.Activity, bool, error) {
	return a.c.GetActivity(ctx, a.principalID, id)
}

// ListActivities fetches one page of the principal's activities.
func (a *AthleteClient) ListActivities(ctx context.Context, q model.ListQuery) ([]model.Activity, error) {
	return a.c.ListActivities(ctx, a.principalID, q)
}

// RefreshToken refreshes the principal's token when needed.
func (a *AthleteClient) RefreshToken(ctx context.Context) (bool, error) {
	return a.c.RefreshToken(ctx, a.principalID)
}
