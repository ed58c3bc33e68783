package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for submission failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrValidation indicates a missing or empty file, or a missing MIME type.
	ErrValidation = errors.New("validation error")

	// ErrTransport indicates the backend could not be reached, or the
	// response body was absent or broke mid-read.
	ErrTransport = errors.New("transport error")

	// ErrUpstream indicates the backend answered with a non-success status.
	ErrUpstream = errors.New("upstream error")

	// ErrProtocol indicates a malformed or prematurely terminated stream.
	ErrProtocol = errors.New("protocol error")
)

// RelayError wraps an underlying error with a failure kind.
// It preserves the original error in the chain for inspection via errors.As.
type RelayError struct {
	// Kind is the sentinel error for classification (e.g., ErrTransport).
	Kind error
	// Op is the operation that failed (e.g., "encode", "forward", "parse").
	Op string
	// Msg is a human-readable description, shown when Err is nil.
	Msg string
	// Err is the underlying error, if any.
	Err error
}

func (e *RelayError) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
	}
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *RelayError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewValidationError creates a validation failure with a message for the user.
func NewValidationError(op, msg string) *RelayError {
	return &RelayError{Kind: ErrValidation, Op: op, Msg: msg}
}

// NewTransportError wraps a connection or body failure.
func NewTransportError(op string, err error) *RelayError {
	return &RelayError{Kind: ErrTransport, Op: op, Err: err}
}

// NewProtocolError creates a stream framing failure.
func NewProtocolError(op, msg string) *RelayError {
	return &RelayError{Kind: ErrProtocol, Op: op, Msg: msg}
}

// UpstreamError is returned for non-2xx backend responses.
// The status code is kept for diagnostics.
type UpstreamError struct {
	StatusCode int
	// Body is a short prefix of the response body, if one was readable.
	Body string
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream error: unexpected status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream error: unexpected status %d", e.StatusCode)
}

// Is reports whether target is ErrUpstream.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// StatusCodeOf returns the upstream status code carried by err, or 0.
func StatusCodeOf(err error) int {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.StatusCode
	}
	return 0
}
