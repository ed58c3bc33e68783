// Package reassemble accumulates stream fragments into the growing answer.
//
// A Result is append-only and owned by exactly one submission. It is frozen
// when the terminal frame arrives or the stream ends, after which every
// mutation fails with ErrFrozen.
package reassemble

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/pithecene-io/loupe/types"
)

// DefaultLineBreak is inserted before a fragment that starts a new block.
const DefaultLineBreak = "\n"

// Markers are the leading characters that start a new block: a heading
// marker or sentence punctuation.
const Markers = "#.!?"

var (
	// ErrFrozen is returned when mutating a finalized result.
	ErrFrozen = errors.New("reassemble: result is frozen")
	// ErrNotEmpty is returned by SetComplete on a result that already holds
	// streamed fragments.
	ErrNotEmpty = errors.New("reassemble: result already has fragments")
)

// Option configures a Result.
type Option func(*Result)

// WithLineBreak sets the marker inserted before new-block fragments.
func WithLineBreak(lineBreak string) Option {
	return func(r *Result) {
		r.lineBreak = lineBreak
	}
}

// Result is the reassembled answer of one submission.
// Readers may call its accessors from other goroutines while it grows.
type Result struct {
	mu        sync.RWMutex
	lineBreak string
	fragments []string
	text      strings.Builder
	frozen    bool
}

// New creates an empty result.
func New(opts ...Option) *Result {
	r := &Result{lineBreak: DefaultLineBreak}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append adds a frame to the result. A terminal frame freezes the result
// and contributes no text.
func (r *Result) Append(frame types.StreamFrame) error {
	_, err := r.append(frame)
	return err
}

// append returns the fragment exactly as stored.
func (r *Result) append(frame types.StreamFrame) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return "", ErrFrozen
	}
	if frame.IsTerminal {
		r.frozen = true
		return "", nil
	}

	fragment := frame.Payload
	if r.text.Len() > 0 && StartsBlock(fragment) {
		fragment = r.lineBreak + fragment
	}
	r.fragments = append(r.fragments, fragment)
	r.text.WriteString(fragment)
	return fragment, nil
}

// SetComplete stores the full text of a non-streaming response as a single
// fragment and freezes the result.
func (r *Result) SetComplete(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if len(r.fragments) > 0 {
		return ErrNotEmpty
	}
	r.fragments = []string{text}
	r.text.WriteString(text)
	r.frozen = true
	return nil
}

// Freeze finalizes the result. It is safe to call more than once.
func (r *Result) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether the result is finalized.
func (r *Result) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Fragments returns a copy of the stored fragments in arrival order.
func (r *Result) Fragments() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.fragments)
}

// Text returns the concatenated fragments.
func (r *Result) Text() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.text.String()
}

// Len returns the number of stored fragments.
func (r *Result) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fragments)
}

// StartsBlock reports whether fragment begins with a new-block marker.
func StartsBlock(fragment string) bool {
	return fragment != "" && strings.IndexByte(Markers, fragment[0]) >= 0
}
