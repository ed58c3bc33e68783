// Package webhook delivers submission completion events as JSON POSTs.
//
// Each delivery carries the event type and request id as headers so that
// receivers can route and deduplicate without parsing the body. Network
// errors and 5xx, 408 and 429 responses are retried; any other non-2xx
// response is final.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"

	"github.com/pithecene-io/loupe/adapter"
	"github.com/pithecene-io/loupe/iox"
)

// Delivery headers set on every request.
const (
	HeaderEvent     = "X-Loupe-Event"
	HeaderRequestID = "X-Loupe-Request-Id"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// maxDetail caps how much of a rejection body is kept in RejectedError.
const maxDetail = 512

// Config configures the webhook adapter.
type Config struct {
	// URL receives the POSTs. Required.
	URL string
	// Headers are added to every delivery, after the delivery headers.
	Headers map[string]string
	// Timeout bounds each attempt (default 10s).
	Timeout time.Duration
	// Retries is how many times a failed delivery is attempted again.
	Retries int
}

// Adapter delivers completion events to one URL.
type Adapter struct {
	url     string
	headers map[string]string
	retries int
	client  *http.Client
}

// New validates cfg and creates the adapter. No request is made.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{
		url:     cfg.URL,
		headers: maps.Clone(cfg.Headers),
		retries: cfg.Retries,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Timeout returns the per-attempt timeout in effect.
func (a *Adapter) Timeout() time.Duration {
	return a.client.Timeout
}

// Publish delivers the event, retrying transient failures.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SubmissionCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: encode event %s: %w", event.RequestID, err)
	}

	deliver := func(ctx context.Context) error {
		return a.deliver(ctx, event, body)
	}
	return adapter.Retry(ctx, "webhook", a.retries, deliver, isFinal)
}

// RejectedError reports a non-2xx answer from the receiver.
type RejectedError struct {
	StatusCode int
	// Detail is the start of the response body, if any.
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("receiver answered %d", e.StatusCode)
	}
	return fmt.Sprintf("receiver answered %d: %s", e.StatusCode, e.Detail)
}

// isFinal reports whether a delivery error should stop the retry loop.
func isFinal(err error) bool {
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		return false
	}
	switch code := rejected.StatusCode; {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return false
	default:
		return code >= 400 && code < 500
	}
}

func (a *Adapter) deliver(ctx context.Context, event *adapter.SubmissionCompletedEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event.EventType)
	req.Header.Set(HeaderRequestID, event.RequestID)
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetail))
	_, _ = io.Copy(io.Discard, resp.Body)
	return &RejectedError{
		StatusCode: resp.StatusCode,
		Detail:     string(bytes.TrimSpace(detail)),
	}
}

// Close drops idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
