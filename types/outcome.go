package types

import "time"

// OutcomeStatus is the final status of a submission.
type OutcomeStatus string

// Outcome status constants, one per error kind plus success and cancel.
const (
	OutcomeSuccess         OutcomeStatus = "success"
	OutcomeValidationError OutcomeStatus = "validation_error"
	OutcomeTransportError  OutcomeStatus = "transport_error"
	OutcomeUpstreamError   OutcomeStatus = "upstream_error"
	OutcomeProtocolError   OutcomeStatus = "protocol_error"
	OutcomeCanceled        OutcomeStatus = "canceled"
)

// SubmissionOutcome describes how a submission ended.
type SubmissionOutcome struct {
	Status  OutcomeStatus `json:"status" yaml:"status"`
	Message string        `json:"message" yaml:"message"`
	// StatusCode is the backend status for upstream errors.
	StatusCode int `json:"status_code,omitempty" yaml:"status_code,omitempty"`
}

// SubmissionResult is the summary of one submission.
// Text holds whatever was reassembled, even when the outcome is a failure.
type SubmissionResult struct {
	RequestID         string             `json:"request_id" yaml:"request_id"`
	Outcome           *SubmissionOutcome `json:"outcome" yaml:"outcome"`
	Streaming         bool               `json:"streaming" yaml:"streaming"`
	MimeType          string             `json:"mime_type" yaml:"mime_type"`
	Image             *ImageInfo         `json:"image,omitempty" yaml:"image,omitempty"`
	FrameCount        int                `json:"frame_count" yaml:"frame_count"`
	FragmentCount     int                `json:"fragment_count" yaml:"fragment_count"`
	DiscardedSegments int                `json:"discarded_segments" yaml:"discarded_segments"`
	BytesRead         int64              `json:"bytes_read" yaml:"bytes_read"`
	Duration          time.Duration      `json:"duration" yaml:"duration"`
	Text              string             `json:"text" yaml:"text"`
}
