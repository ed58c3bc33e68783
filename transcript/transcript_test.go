package transcript

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/loupe/frame"
	"github.com/pithecene-io/loupe/reassemble"
	"github.com/pithecene-io/loupe/types"
)

// encodeRecord frames a raw payload with its length prefix.
func encodeRecord(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func TestRecorder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)

	if err := rec.WriteHeader("req-1", "image/png", "http://localhost:8080"); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	in := []types.StreamFrame{
		{Payload: "Hello"},
		{Payload: "#World"},
		{Payload: "[DONE]", IsTerminal: true},
	}
	for _, f := range in {
		if err := rec.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}
	if rec.Count() != 3 {
		t.Errorf("Count = %d, want 3", rec.Count())
	}

	dec := NewDecoder(bytes.NewReader(buf.Bytes()))
	header, err := dec.ReadRecord()
	if err != nil {
		t.Fatalf("ReadRecord failed: %v", err)
	}
	if header.Type != HeaderType || header.RequestID != "req-1" || header.MimeType != "image/png" {
		t.Errorf("header = %+v", header)
	}
	if header.ContractVersion != types.ContractVersion {
		t.Errorf("ContractVersion = %q", header.ContractVersion)
	}

	for i, want := range in {
		got, err := dec.ReadRecord()
		if err != nil {
			t.Fatalf("ReadRecord %d failed: %v", i, err)
		}
		if got.Type != FrameType {
			t.Errorf("record %d type = %q", i, got.Type)
		}
		if got.Seq != int64(i+1) {
			t.Errorf("record %d seq = %d", i, got.Seq)
		}
		if got.Frame() != want {
			t.Errorf("record %d frame = %+v, want %+v", i, got.Frame(), want)
		}
		if got.Ts == "" {
			t.Errorf("record %d has no timestamp", i)
		}
	}

	if _, err := dec.ReadRecord(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDecoder_PartialPrefix(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader([]byte{0x00, 0x00})).ReadRecord()
	var recErr *RecordError
	if !errors.As(err, &recErr) || recErr.Kind != RecordErrorPartial {
		t.Fatalf("expected partial record error, got %v", err)
	}
	if !IsFatalRecordError(err) {
		t.Error("partial record should be fatal")
	}
	if !errors.Is(err, types.ErrProtocol) {
		t.Error("record errors should classify as protocol errors")
	}
}

func TestDecoder_PartialPayload(t *testing.T) {
	data := encodeRecord([]byte("abcdef"))
	_, err := NewDecoder(bytes.NewReader(data[:len(data)-2])).ReadRecord()
	if !IsFatalRecordError(err) {
		t.Fatalf("expected fatal record error, got %v", err)
	}
}

func TestDecoder_TooLarge(t *testing.T) {
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], MaxPayloadSize+1)
	_, err := NewDecoder(bytes.NewReader(prefix[:])).ReadRecord()
	var recErr *RecordError
	if !errors.As(err, &recErr) || recErr.Kind != RecordErrorTooLarge {
		t.Fatalf("expected too-large error, got %v", err)
	}
}

func TestDecoder_NotMsgpack(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader(encodeRecord([]byte{0xc1}))).ReadRecord()
	var recErr *RecordError
	if !errors.As(err, &recErr) || recErr.Kind != RecordErrorDecode {
		t.Fatalf("expected decode error, got %v", err)
	}
	if recErr.IsFatal() {
		t.Error("decode errors are not fatal")
	}
}

func TestReplay_SkipsHeaderAndStopsAtTerminal(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	_ = rec.WriteHeader("req-2", "image/jpeg", "")
	_ = rec.WriteFrame(types.StreamFrame{Payload: "a"})
	_ = rec.WriteFrame(types.StreamFrame{Payload: "DONE", IsTerminal: true})
	_ = rec.WriteFrame(types.StreamFrame{Payload: "after"})

	r := Replay(&buf)
	f, err := r.Next()
	if err != nil || f.Payload != "a" {
		t.Fatalf("first frame = %+v, %v", f, err)
	}
	if r.Header() == nil || r.Header().RequestID != "req-2" {
		t.Errorf("header = %+v", r.Header())
	}
	f, err = r.Next()
	if err != nil || !f.IsTerminal {
		t.Fatalf("second frame = %+v, %v", f, err)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after terminal, got %v", err)
	}
}

func TestReplay_EndWithoutFrames(t *testing.T) {
	tests := []struct {
		name    string
		frames  []types.StreamFrame
		wantErr error
	}{
		{"header only", nil, types.ErrProtocol},
		{"sentinel only", []types.StreamFrame{{Payload: "[DONE]", IsTerminal: true}}, nil},
		{"frame without sentinel", []types.StreamFrame{{Payload: "a"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			rec := NewRecorder(&buf)
			if err := rec.WriteHeader("req-3", "image/png", ""); err != nil {
				t.Fatalf("WriteHeader: %v", err)
			}
			for _, f := range tt.frames {
				if err := rec.WriteFrame(f); err != nil {
					t.Fatalf("WriteFrame: %v", err)
				}
			}

			err := reassemble.NewCursor(Replay(&buf), reassemble.New()).Drain(nil)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Drain: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Drain error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReplay_UnknownRecordType(t *testing.T) {
	payload, err := msgpack.Marshal(&Record{Type: "bogus"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	_, err = Replay(bytes.NewReader(encodeRecord(payload))).Next()
	if !errors.Is(err, types.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestTee_RecordsLiveStreamForReplay(t *testing.T) {
	raw := "data: Intro\n\n: ping\n\ndata: #Title\n\ndata: [DONE]\n\n"

	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	live := reassemble.New()
	parser := frame.NewParser(io.NopCloser(strings.NewReader(raw)))
	if err := reassemble.NewCursor(rec.Tee(parser), live).Drain(nil); err != nil {
		t.Fatalf("live Drain failed: %v", err)
	}

	replayed := reassemble.New()
	if err := reassemble.NewCursor(Replay(&buf), replayed).Drain(nil); err != nil {
		t.Fatalf("replay Drain failed: %v", err)
	}

	if live.Text() != replayed.Text() {
		t.Errorf("replay text %q differs from live %q", replayed.Text(), live.Text())
	}
	if replayed.Text() != "Intro\n#Title" {
		t.Errorf("Text = %q", replayed.Text())
	}
	if rec.Count() != 3 {
		t.Errorf("recorded %d frames, want 3", rec.Count())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestTee_WriteFailureEndsStream(t *testing.T) {
	parser := frame.NewParser(io.NopCloser(strings.NewReader("data: a\n\n")))
	_, err := NewRecorder(failingWriter{}).Tee(parser).Next()
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected write failure, got %v", err)
	}
}
