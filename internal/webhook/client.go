package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appLog "eventannouncer/internal/log"
	"eventannouncer/internal/model"
)

// MaxContentRunes is the longest message the channel accepts.
const MaxContentRunes = 2000

const maxErrorBody = 512

// ErrDeliveryFailed is wrapped by every error Dispatch returns.
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// DeliveryError describes a non-success HTTP response.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

func (e *DeliveryError) Unwrap() error { return ErrDeliveryFailed }

// Options configures a Client.
type Options struct {
	// BaseURL is the channel host, e.g. "https://discord.com".
	BaseURL string
	// WebhookID is "<id>/<token>".
	WebhookID string
	// Timeout bounds each POST. Defaults to 10s.
	Timeout time.Duration
	// HTTPClient is shared across dispatches. Defaults to a fresh client.
	HTTPClient *http.Client
}

// Client posts messages to a single webhook. It is immutable after
// construction and safe for concurrent use.
type Client struct {
	http    *http.Client
	url     string
	timeout time.Duration
}

// payload is the channel's JSON envelope.
type payload struct {
	Content string `json:"content"`
}

// NewClient builds a Client for opts.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("webhook: base URL is empty")
	}
	if opts.WebhookID == "" {
		return nil, errors.New("webhook: webhook ID is empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		http:    hc,
		url:     strings.TrimRight(opts.BaseURL, "/") + "/api/webhooks/" + strings.Trim(opts.WebhookID, "/"),
		timeout: opts.Timeout,
	}, nil
}

// Destination returns the target URL with the token hidden, for logs.
func (c *Client) Destination() string {
	return redactURL(c.url)
}

// Dispatch POSTs msg and returns the HTTP status. Any failure is returned as
// an error wrapping ErrDeliveryFailed; nothing is retried.
func (c *Client) Dispatch(ctx context.Context, msg model.NotificationMessage) (int, error) {
	body, err := json.Marshal(payload{Content: truncate(string(msg), MaxContentRunes)})
	if err != nil {
		return 0, fmt.Errorf("%w: encode payload: %v", ErrDeliveryFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		appLog.Warn("webhook response body unreadable", "destination", c.Destination(), "status", resp.StatusCode, "err", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		de := &DeliveryError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
		if readErr != nil && de.Body == "" {
			de.Body = "(body unreadable: " + readErr.Error() + ")"
		}
		return resp.StatusCode, de
	}

	appLog.Debug("webhook response", "destination", c.Destination(), "status", resp.StatusCode, "body", strings.TrimSpace(string(respBody)))
	return resp.StatusCode, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// redactURL keeps scheme, host and the numeric webhook id but hides the token.
//
//	https://discord.com/api/webhooks/123/abcdef -> https://discord.com/api/webhooks/123/...(redacted)
func redactURL(u string) string {
	const marker = "/api/webhooks/"
	i := strings.Index(u, marker)
	if i == -1 {
		return "webhook://...(redacted)"
	}
	rest := u[i+len(marker):]
	id, _, _ := strings.Cut(rest, "/")
	return u[:i+len(marker)] + id + "/...(redacted)"
}
