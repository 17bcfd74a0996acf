package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/okian/stravasync/pkg/logger"
)

const brevoSendPath = "/v3/smtp/email"

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoPayload struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent"`
}

// Brevo sends transactional email through the Brevo HTTP API.
type Brevo struct {
	apiKey      string
	baseURL     string
	senderEmail string
	senderName  string
	client      *http.Client
	timeout     time.Duration
	logger      logger.Logger
}

// NewBrevo returns a Brevo notifier authenticated with apiKey.
func NewBrevo(apiKey string, opts ...Option) *Brevo {
	b := &Brevo{
		apiKey:  apiKey,
		baseURL: DefaultBrevoBaseURL,
		client:  &http.Client{},
		timeout: DefaultTimeout,
		logger:  logger.Get().Named("brevo"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Brevo) Send(ctx context.Context, msg Message) error {
	if b.apiKey == "" {
		return ErrMissingAPIKey
	}
	to := validRecipients(ctx, b.logger, msg.Recipients)
	if len(to) == 0 {
		return ErrNoRecipients
	}

	payload := brevoPayload{
		Sender:      brevoContact{Email: b.senderEmail, Name: b.senderName},
		Subject:     msg.Subject,
		TextContent: msg.Body,
	}
	for _, addr := range to {
		payload.To = append(payload.To, brevoContact{Email: addr})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal brevo payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+brevoSendPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build brevo request: %w", err)
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send brevo request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		_, _ = io.Copy(io.Discard, resp.Body)
		b.logger.Debug(ctx, "email sent", logger.Int("recipients", len(to)))
		return nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(snippet))
	}
}
