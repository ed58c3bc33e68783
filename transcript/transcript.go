// Package transcript records the frames of a submission and replays them.
//
// A transcript is a sequence of length-prefixed msgpack records: a 4-byte
// big-endian payload length followed by the payload. The first record is
// usually a header; every following record carries one frame.
package transcript

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/loupe/types"
)

// Record size constants.
const (
	// MaxRecordSize is the maximum record size (16 MiB), including length prefix.
	MaxRecordSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxRecordSize - 4 bytes).
	MaxPayloadSize = MaxRecordSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Record type discriminants.
const (
	HeaderType = "header"
	FrameType  = "frame"
)

// Record is one transcript entry.
type Record struct {
	Type string `msgpack:"type"`
	// Seq is the 1-based frame position. Zero for the header.
	Seq      int64  `msgpack:"seq,omitempty"`
	Payload  string `msgpack:"payload,omitempty"`
	Terminal bool   `msgpack:"terminal,omitempty"`
	// Ts is the capture time (RFC3339Nano).
	Ts string `msgpack:"ts"`

	// Header fields.
	ContractVersion string `msgpack:"contract_version,omitempty"`
	RequestID       string `msgpack:"request_id,omitempty"`
	MimeType        string `msgpack:"mime_type,omitempty"`
	Endpoint        string `msgpack:"endpoint,omitempty"`
}

// Frame returns the stream frame carried by a frame record.
func (r *Record) Frame() types.StreamFrame {
	return types.StreamFrame{Payload: r.Payload, IsTerminal: r.Terminal}
}

// RecordErrorKind classifies record decoding errors.
type RecordErrorKind int

const (
	// RecordErrorPartial indicates a truncated or incomplete record.
	RecordErrorPartial RecordErrorKind = iota
	// RecordErrorTooLarge indicates a record exceeding MaxRecordSize.
	RecordErrorTooLarge
	// RecordErrorDecode indicates a msgpack decoding error.
	RecordErrorDecode
)

// RecordError represents a record decoding error.
// It matches types.ErrProtocol so replay failures classify like live ones.
type RecordError struct {
	Kind RecordErrorKind
	Msg  string
	Err  error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcript: %s: %v", e.Msg, e.Err)
	}
	return "transcript: " + e.Msg
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Is reports whether target is types.ErrProtocol.
func (e *RecordError) Is(target error) bool {
	return target == types.ErrProtocol
}

// IsFatal returns true if the transcript cannot be read any further.
func (e *RecordError) IsFatal() bool {
	return e.Kind == RecordErrorPartial || e.Kind == RecordErrorTooLarge
}

// IsFatalRecordError returns true if the error is a fatal record error.
func IsFatalRecordError(err error) bool {
	var recErr *RecordError
	if errors.As(err, &recErr) {
		return recErr.IsFatal()
	}
	return false
}

// Recorder writes transcript records.
type Recorder struct {
	w   io.Writer
	seq int64
	now func() time.Time
}

// NewRecorder creates a recorder writing to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w, now: time.Now}
}

// WriteHeader writes the header record describing the submission.
func (r *Recorder) WriteHeader(requestID, mimeType, endpoint string) error {
	return r.write(&Record{
		Type:            HeaderType,
		Ts:              r.now().UTC().Format(time.RFC3339Nano),
		ContractVersion: types.ContractVersion,
		RequestID:       requestID,
		MimeType:        mimeType,
		Endpoint:        endpoint,
	})
}

// WriteFrame appends a frame record.
func (r *Recorder) WriteFrame(f types.StreamFrame) error {
	r.seq++
	return r.write(&Record{
		Type:     FrameType,
		Seq:      r.seq,
		Payload:  f.Payload,
		Terminal: f.IsTerminal,
		Ts:       r.now().UTC().Format(time.RFC3339Nano),
	})
}

// Count returns the number of frames written.
func (r *Recorder) Count() int64 {
	return r.seq
}

func (r *Recorder) write(rec *Record) error {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("transcript: encode record: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return &RecordError{
			Kind: RecordErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	if _, err := r.w.Write(buf); err != nil {
		return fmt.Errorf("transcript: write record: %w", err)
	}
	return nil
}

// Source yields frames one at a time.
type Source interface {
	Next() (types.StreamFrame, error)
}

// Tee returns a source that records every frame src yields.
// A recording failure ends the stream with that error.
func (r *Recorder) Tee(src Source) Source {
	return &teeSource{src: src, rec: r}
}

type teeSource struct {
	src Source
	rec *Recorder
}

func (t *teeSource) Next() (types.StreamFrame, error) {
	f, err := t.src.Next()
	if err != nil {
		return f, err
	}
	if werr := t.rec.WriteFrame(f); werr != nil {
		return types.StreamFrame{}, werr
	}
	return f, nil
}

// Decoder reads transcript records from a stream.
type Decoder struct {
	reader io.Reader
}

// NewDecoder creates a new record decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// ReadRecord reads a single record.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more records)
//   - *RecordError with Kind=RecordErrorPartial: incomplete record (fatal)
//   - *RecordError with Kind=RecordErrorTooLarge: record exceeds limit (fatal)
//   - *RecordError with Kind=RecordErrorDecode: payload is not a record
func (d *Decoder) ReadRecord() (*Record, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &RecordError{
			Kind: RecordErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &RecordError{
			Kind: RecordErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &RecordError{
			Kind: RecordErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, &RecordError{
			Kind: RecordErrorDecode,
			Msg:  "failed to decode record",
			Err:  err,
		}
	}
	return &rec, nil
}

// Replayer yields the frames of a recorded transcript.
type Replayer struct {
	dec    *Decoder
	header *Record
	frames int
	done   bool
}

// Replay creates a frame source over a transcript.
func Replay(r io.Reader) *Replayer {
	return &Replayer{dec: NewDecoder(r)}
}

// Next returns the next recorded frame, skipping the header.
// It returns io.EOF after the terminal frame or at the end of the transcript.
// A transcript that ends before any frame record, terminal or not, is an
// ErrProtocol, matching the live parser.
func (p *Replayer) Next() (types.StreamFrame, error) {
	if p.done {
		return types.StreamFrame{}, io.EOF
	}
	for {
		rec, err := p.dec.ReadRecord()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.done = true
				if p.frames == 0 {
					return types.StreamFrame{}, types.NewProtocolError("replay", "transcript holds no frames")
				}
			}
			return types.StreamFrame{}, err
		}

		switch rec.Type {
		case HeaderType:
			p.header = rec
		case FrameType:
			p.frames++
			f := rec.Frame()
			if f.IsTerminal {
				p.done = true
			}
			return f, nil
		default:
			return types.StreamFrame{}, &RecordError{
				Kind: RecordErrorDecode,
				Msg:  fmt.Sprintf("unknown record type %q", rec.Type),
			}
		}
	}
}

// Header returns the header record, once it has been read.
func (p *Replayer) Header() *Record {
	return p.header
}
