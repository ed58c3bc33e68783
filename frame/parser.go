// Package frame decodes the backend's server-push byte stream into frames.
//
// The stream is a sequence of segments separated by a blank line. A segment
// starting with "data: " is a frame whose payload is the rest of the segment;
// any other segment is noise (keep-alives, comments) and is discarded. A
// payload equal to a configured sentinel ends the stream.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/pithecene-io/loupe/types"
)

// Framing constants.
const (
	// Prefix marks a segment as a frame.
	Prefix = "data: "
	// Separator ends a segment.
	Separator = "\n\n"
	// DefaultReadSize is the size of a single read from the source.
	DefaultReadSize = 4 * 1024
	// DefaultMaxFrameSize bounds buffered text that has no separator yet.
	DefaultMaxFrameSize = 1024 * 1024
)

var separator = []byte(Separator)

// Option configures a Parser.
type Option func(*Parser)

// WithSentinels replaces the terminal sentinel set.
// Empty values are ignored; if none remain, types.DefaultSentinel is used.
func WithSentinels(sentinels ...string) Option {
	return func(p *Parser) {
		set := make(map[string]struct{}, len(sentinels))
		for _, s := range sentinels {
			if s != "" {
				set[s] = struct{}{}
			}
		}
		if len(set) > 0 {
			p.sentinels = set
		}
	}
}

// WithReadSize sets the size of each read from the source.
func WithReadSize(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.readSize = n
		}
	}
}

// WithMaxFrameSize bounds the text buffered while waiting for a separator.
func WithMaxFrameSize(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxFrameSize = n
		}
	}
}

// WithDiscardHook is called with every segment dropped as noise.
func WithDiscardHook(fn func(segment string)) Option {
	return func(p *Parser) {
		p.onDiscard = fn
	}
}

// Parser reads frames from a byte stream. It is single use and not safe for
// concurrent use.
type Parser struct {
	src          io.ReadCloser
	sentinels    map[string]struct{}
	readSize     int
	maxFrameSize int
	onDiscard    func(string)

	buf       []byte
	chunk     []byte
	eof       bool
	closed    bool
	err       error
	frames    int
	discarded int
}

// NewParser creates a parser over src. The parser owns src and closes it
// when the stream ends, fails, or the terminal frame is seen.
func NewParser(src io.ReadCloser, opts ...Option) *Parser {
	p := &Parser{
		src:          src,
		sentinels:    map[string]struct{}{types.DefaultSentinel: {}},
		readSize:     DefaultReadSize,
		maxFrameSize: DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Next returns the next frame.
//
// Errors:
//   - io.EOF: the terminal frame was already returned, or the source closed
//     after at least one frame
//   - types.ErrProtocol: the source closed with no frames and no sentinel,
//     or a segment exceeded the maximum frame size
//   - types.ErrTransport: reading the source failed
//
// Once Next returns an error it returns the same error on every later call.
func (p *Parser) Next() (types.StreamFrame, error) {
	if p.err != nil {
		return types.StreamFrame{}, p.err
	}

	for {
		if i := bytes.Index(p.buf, separator); i >= 0 {
			segment := string(p.buf[:i])
			p.buf = p.buf[i+len(separator):]

			payload, ok := strings.CutPrefix(segment, Prefix)
			if !ok {
				p.discard(segment)
				continue
			}
			if _, terminal := p.sentinels[payload]; terminal {
				// Stop pulling from the backend as soon as it says it is done.
				p.finish(io.EOF)
				return types.StreamFrame{Payload: payload, IsTerminal: true}, nil
			}
			p.frames++
			return types.StreamFrame{Payload: payload}, nil
		}

		if len(p.buf) > p.maxFrameSize {
			return types.StreamFrame{}, p.fail(types.NewProtocolError("parse",
				fmt.Sprintf("segment exceeds %d bytes without a separator", p.maxFrameSize)))
		}

		if p.eof {
			if len(p.buf) > 0 {
				// Trailing text without a separator is never emitted.
				p.discard(string(p.buf))
				p.buf = nil
			}
			if p.frames == 0 {
				return types.StreamFrame{}, p.fail(types.NewProtocolError("parse",
					"stream closed without frames or terminal sentinel"))
			}
			p.finish(io.EOF)
			return types.StreamFrame{}, io.EOF
		}

		if err := p.fill(); err != nil {
			return types.StreamFrame{}, p.fail(types.NewTransportError("parse", err))
		}
	}
}

// Frames returns the remaining frames as an iterator. The sequence stops
// after the terminal frame or at the end of the stream; any other error is
// yielded once as the last element. Breaking out early closes the source.
func (p *Parser) Frames() iter.Seq2[types.StreamFrame, error] {
	return func(yield func(types.StreamFrame, error) bool) {
		for {
			f, err := p.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(types.StreamFrame{}, err)
				return
			}
			if !yield(f, nil) {
				_ = p.Close()
				return
			}
			if f.IsTerminal {
				return
			}
		}
	}
}

// Close releases the source. Later calls to Next return io.EOF unless the
// parser had already failed.
func (p *Parser) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.err == nil {
		p.err = io.EOF
	}
	return p.src.Close()
}

// FrameCount returns the number of non-terminal frames returned so far.
func (p *Parser) FrameCount() int {
	return p.frames
}

// DiscardedCount returns the number of segments dropped as noise.
func (p *Parser) DiscardedCount() int {
	return p.discarded
}

// fill performs exactly one read from the source.
func (p *Parser) fill() error {
	if p.chunk == nil {
		p.chunk = make([]byte, p.readSize)
	}
	n, err := p.src.Read(p.chunk)
	if n > 0 {
		p.buf = append(p.buf, p.chunk[:n]...)
	}
	if errors.Is(err, io.EOF) {
		p.eof = true
		return nil
	}
	return err
}

func (p *Parser) discard(segment string) {
	if segment == "" {
		return
	}
	p.discarded++
	if p.onDiscard != nil {
		p.onDiscard(segment)
	}
}

func (p *Parser) finish(err error) {
	p.err = err
	if !p.closed {
		p.closed = true
		_ = p.src.Close()
	}
	p.buf = nil
}

func (p *Parser) fail(err error) error {
	p.finish(err)
	return err
}
