package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

// Outcomes of a single submission.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeDropped   = "dropped"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Client posts deliveries to one service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// Submit posts d and classifies the answer.
func (c *Client) Submit(ctx context.Context, d Delivery) (string, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("marshal delivery: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/webhook", bytes.NewReader(body))
	if err != nil {
		return OutcomeFailed, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return OutcomeFailed, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return OutcomeFailed, fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return OutcomeRejected, nil
	}
	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return OutcomeFailed, fmt.Errorf("decode ack: %w", err)
	}
	switch ack.Status {
	case OutcomeAccepted, OutcomeDuplicate, OutcomeDropped:
		return ack.Status, nil
	default:
		return OutcomeFailed, fmt.Errorf("unexpected ack status %q", ack.Status)
	}
}

// Challenge runs the subscription handshake with token.
func (c *Client) Challenge(ctx context.Context, token string) error {
	const challenge = "replay-challenge"
	q := url.Values{}
	q.Set("hub.mode", "subscribe")
	q.Set("hub.challenge", challenge)
	q.Set("hub.verify_token", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/webhook?"+q.Encode(), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("challenge answered %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode challenge: %w", err)
	}
	if out["hub.challenge"] != challenge {
		return fmt.Errorf("challenge not echoed")
	}
	return nil
}

// Stats fetches the service's /stats document.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats", http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return out, nil
}
