// Package metrics provides submission metrics collection.
//
// The Collector accumulates counters across the submissions of one process.
// It is a leaf package with no internal dependencies: outcome statuses are
// plain strings so the types package stays out of the import graph.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Submission lifecycle
	SubmissionsStarted   int64 `json:"submissions_started" yaml:"submissions_started"`
	SubmissionsCompleted int64 `json:"submissions_completed" yaml:"submissions_completed"`
	SubmissionsFailed    int64 `json:"submissions_failed" yaml:"submissions_failed"`
	SubmissionsCanceled  int64 `json:"submissions_canceled" yaml:"submissions_canceled"`
	// FailedByStatus counts failures by outcome status (e.g. "protocol_error").
	FailedByStatus map[string]int64 `json:"failed_by_status" yaml:"failed_by_status"`

	// Stream
	FramesReceived    int64 `json:"frames_received" yaml:"frames_received"`
	SegmentsDiscarded int64 `json:"segments_discarded" yaml:"segments_discarded"`
	FragmentsAppended int64 `json:"fragments_appended" yaml:"fragments_appended"`
	BytesRead         int64 `json:"bytes_read" yaml:"bytes_read"`
	// UpstreamStatus counts non-2xx backend responses by status code.
	UpstreamStatus map[int]int64 `json:"upstream_status" yaml:"upstream_status"`

	// Completion adapter
	AdapterPublishSuccess int64 `json:"adapter_publish_success" yaml:"adapter_publish_success"`
	AdapterPublishFailure int64 `json:"adapter_publish_failure" yaml:"adapter_publish_failure"`

	// Dimensions (informational, set at construction)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Surface  string `json:"surface" yaml:"surface"`
}

// Collector accumulates submission metrics.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	submissionsStarted   int64
	submissionsCompleted int64
	submissionsFailed    int64
	submissionsCanceled  int64
	failedByStatus       map[string]int64

	framesReceived    int64
	segmentsDiscarded int64
	fragmentsAppended int64
	bytesRead         int64
	upstreamStatus    map[int]int64

	adapterPublishSuccess int64
	adapterPublishFailure int64

	endpoint string
	surface  string
}

// NewCollector creates a Collector with dimension labels.
// surface names the entry point that drives submissions ("cli", "server").
func NewCollector(endpoint, surface string) *Collector {
	return &Collector{
		failedByStatus: make(map[string]int64),
		upstreamStatus: make(map[int]int64),
		endpoint:       endpoint,
		surface:        surface,
	}
}

// --- Submission lifecycle ---

// IncSubmissionStarted records a submission start.
func (c *Collector) IncSubmissionStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.submissionsStarted++
	c.mu.Unlock()
}

// IncSubmissionCompleted records a successful submission.
func (c *Collector) IncSubmissionCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.submissionsCompleted++
	c.mu.Unlock()
}

// IncSubmissionFailed records a failed submission under its outcome status.
func (c *Collector) IncSubmissionFailed(status string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.submissionsFailed++
	c.failedByStatus[status]++
	c.mu.Unlock()
}

// IncSubmissionCanceled records a submission abandoned by its caller.
func (c *Collector) IncSubmissionCanceled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.submissionsCanceled++
	c.mu.Unlock()
}

// --- Stream ---

// IncFramesReceived records one non-terminal frame.
func (c *Collector) IncFramesReceived() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesReceived++
	c.mu.Unlock()
}

// IncFragmentsAppended records one fragment added to a result.
func (c *Collector) IncFragmentsAppended() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fragmentsAppended++
	c.mu.Unlock()
}

// AddSegmentsDiscarded records noise segments dropped by the parser.
func (c *Collector) AddSegmentsDiscarded(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.segmentsDiscarded += n
	c.mu.Unlock()
}

// AddBytesRead records response body bytes consumed.
func (c *Collector) AddBytesRead(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.bytesRead += n
	c.mu.Unlock()
}

// IncUpstreamStatus records a non-2xx backend response.
func (c *Collector) IncUpstreamStatus(code int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.upstreamStatus[code]++
	c.mu.Unlock()
}

// --- Completion adapter ---

// IncAdapterPublishSuccess records a delivered completion event.
func (c *Collector) IncAdapterPublishSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.adapterPublishSuccess++
	c.mu.Unlock()
}

// IncAdapterPublishFailure records a completion event that was not delivered.
func (c *Collector) IncAdapterPublishFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.adapterPublishFailure++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		SubmissionsStarted:   c.submissionsStarted,
		SubmissionsCompleted: c.submissionsCompleted,
		SubmissionsFailed:    c.submissionsFailed,
		SubmissionsCanceled:  c.submissionsCanceled,
		FailedByStatus:       maps.Clone(c.failedByStatus),

		FramesReceived:    c.framesReceived,
		SegmentsDiscarded: c.segmentsDiscarded,
		FragmentsAppended: c.fragmentsAppended,
		BytesRead:         c.bytesRead,
		UpstreamStatus:    maps.Clone(c.upstreamStatus),

		AdapterPublishSuccess: c.adapterPublishSuccess,
		AdapterPublishFailure: c.adapterPublishFailure,

		Endpoint: c.endpoint,
		Surface:  c.surface,
	}
}
