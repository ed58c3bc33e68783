// Package adapter defines the completion notification boundary.
//
// Adapters publish one event per finished submission to a downstream system.
// Delivery is best effort: a failed publish is reported to the caller and
// never changes the submission outcome.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/loupe/types"
)

// EventTypeSubmissionCompleted is the event_type of every published event.
const EventTypeSubmissionCompleted = "submission_completed"

// SubmissionCompletedEvent is the payload published when a submission ends.
type SubmissionCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "submission_completed"
	RequestID       string `json:"request_id"`
	Outcome         string `json:"outcome"` // success, transport_error, etc.
	Message         string `json:"message,omitempty"`
	StatusCode      int    `json:"status_code,omitempty"`
	MimeType        string `json:"mime_type,omitempty"`
	Streaming       bool   `json:"streaming"`
	FrameCount      int    `json:"frame_count"`
	FragmentCount   int    `json:"fragment_count"`
	BytesRead       int64  `json:"bytes_read"`
	DurationMs      int64  `json:"duration_ms"`
	Timestamp       string `json:"timestamp"` // RFC 3339
}

// NewEvent builds the completion event for a finished submission.
func NewEvent(res *types.SubmissionResult, at time.Time) *SubmissionCompletedEvent {
	ev := &SubmissionCompletedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       EventTypeSubmissionCompleted,
		RequestID:       res.RequestID,
		MimeType:        res.MimeType,
		Streaming:       res.Streaming,
		FrameCount:      res.FrameCount,
		FragmentCount:   res.FragmentCount,
		BytesRead:       res.BytesRead,
		DurationMs:      res.Duration.Milliseconds(),
		Timestamp:       at.UTC().Format(time.RFC3339),
	}
	if res.Outcome != nil {
		ev.Outcome = string(res.Outcome.Status)
		ev.Message = res.Outcome.Message
		ev.StatusCode = res.Outcome.StatusCode
	}
	return ev
}

// Adapter publishes submission completion events to a downstream system.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Publish sends a completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SubmissionCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// BaseBackoff is the delay before the first retry; it doubles per attempt.
const BaseBackoff = 500 * time.Millisecond

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when ctx ends or when permanent reports the
// error as not worth retrying. name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, fn func(context.Context) error, permanent func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * BaseBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
