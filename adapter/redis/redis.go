// Package redis announces finished submissions on a Redis pub/sub channel.
//
// The channel name may contain the {outcome} placeholder, which is replaced
// by the event's outcome so that subscribers can PSUBSCRIBE to the outcomes
// they care about, e.g. "loupe:done:*_error".
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/loupe/adapter"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "loupe:submission_completed"

// OutcomePlaceholder is replaced by the event outcome in the channel name.
const OutcomePlaceholder = "{outcome}"

// DefaultTimeout bounds a single PUBLISH.
const DefaultTimeout = 5 * time.Second

// Config configures the Redis adapter.
type Config struct {
	// URL is redis://[:password@]host:port[/db]. Required.
	URL string
	// Channel is the target channel, optionally with {outcome}.
	Channel string
	// Timeout bounds each PUBLISH (default 5s).
	Timeout time.Duration
	// Retries is how many times a failed PUBLISH is attempted again.
	Retries int
}

// Adapter publishes completion events with PUBLISH.
type Adapter struct {
	channel string
	timeout time.Duration
	retries int
	client  *goredis.Client
}

// New validates cfg and creates the client. The connection is opened lazily
// by the first publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	a := &Adapter{
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		retries: cfg.Retries,
		client:  goredis.NewClient(opts),
	}
	if a.channel == "" {
		a.channel = DefaultChannel
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	return a, nil
}

// Channel returns the configured channel, placeholder included.
func (a *Adapter) Channel() string {
	return a.channel
}

// ChannelFor returns the channel the event is published on.
func (a *Adapter) ChannelFor(event *adapter.SubmissionCompletedEvent) string {
	return strings.ReplaceAll(a.channel, OutcomePlaceholder, event.Outcome)
}

// Publish sends the event as JSON, retrying until it succeeds, the retries
// run out, or the client is closed.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SubmissionCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: encode event %s: %w", event.RequestID, err)
	}
	channel := a.ChannelFor(event)

	return adapter.Retry(ctx, "redis", a.retries, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		if err := a.client.Publish(ctx, channel, body).Err(); err != nil {
			return fmt.Errorf("publish to %s: %w", channel, err)
		}
		return nil
	}, func(err error) bool { return errors.Is(err, goredis.ErrClosed) })
}

// Close closes the client. Publishing afterwards fails without retrying.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
