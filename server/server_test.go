package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pithecene-io/loupe/metrics"
	"github.com/pithecene-io/loupe/relay"
	"github.com/pithecene-io/loupe/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type upload struct {
	image    []byte
	noImage  bool
	prompt   string
	imgType  string
	filename string
}

func (u upload) body(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if !u.noImage {
		name := u.filename
		if name == "" {
			name = "cat.png"
		}
		fw, err := mw.CreateFormFile(FieldImage, name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(u.image); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
	if u.prompt != "" {
		if err := mw.WriteField(FieldPrompt, u.prompt); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if u.imgType != "" {
		if err := mw.WriteField(FieldImgType, u.imgType); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// backend captures the last request body and answers with handler.
func backend(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != relay.ExtractPath {
			t.Errorf("backend path = %q", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode backend body: %v", err)
		}
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestServer(t *testing.T, endpoint string, m *metrics.Collector) *Server {
	t.Helper()
	s, err := New(Config{
		Forwarder: relay.New(relay.Config{Endpoint: endpoint}),
		Metrics:   m,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func post(t *testing.T, s *Server, path string, u upload) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := u.body(t)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestNew_RequiresForwarder(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without forwarder")
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, EndPointHealth, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["status"] != "healthy" || got["version"] != types.Version {
		t.Errorf("health = %v", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, EndPointStreamImageInfo, nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestStreamImageInfo_RelaysBytesInOrder(t *testing.T) {
	frames := []string{"data: Hello\n\n", "data:  world\n\n", "data: [DONE]\n\n"}
	srv, _ := backend(t, func(w http.ResponseWriter, body map[string]any) {
		if body["stream"] != true {
			t.Errorf("stream flag = %v, want true", body["stream"])
		}
		blob, _ := body["blob"].(string)
		if !strings.HasPrefix(blob, "data:image/png;base64,") {
			t.Errorf("blob = %q", blob)
		}
		prompt, _ := body["prompt"].(string)
		if !strings.HasPrefix(prompt, "What breed. ") {
			t.Errorf("prompt = %q", prompt)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			_, _ = io.WriteString(w, f)
			w.(http.Flusher).Flush()
		}
	})
	m := metrics.NewCollector(srv.URL, "server")
	s := newTestServer(t, srv.URL, m)

	w := post(t, s, EndPointStreamImageInfo, upload{
		image:   []byte{0x89, 'P', 'N', 'G'},
		prompt:  "What breed.",
		imgType: "image/png",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got, want := w.Body.String(), strings.Join(frames, ""); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if !w.Flushed {
		t.Error("response was never flushed")
	}

	snap := m.Snapshot()
	if snap.SubmissionsCompleted != 1 {
		t.Errorf("SubmissionsCompleted = %d, want 1", snap.SubmissionsCompleted)
	}
	if snap.BytesRead != int64(len(strings.Join(frames, ""))) {
		t.Errorf("BytesRead = %d", snap.BytesRead)
	}
}

func TestStreamImageInfo_ValidationIs400(t *testing.T) {
	tests := []struct {
		name string
		up   upload
		want string
	}{
		{"missing type", upload{image: []byte("x")}, "image type not provided"},
		{"missing file", upload{noImage: true, imgType: "image/png"}, "no file uploaded"},
		{"empty file", upload{image: nil, imgType: "image/png"}, "file is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := backend(t, func(w http.ResponseWriter, _ map[string]any) {})
			m := metrics.NewCollector(srv.URL, "server")
			s := newTestServer(t, srv.URL, m)

			w := post(t, s, EndPointStreamImageInfo, tt.up)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if !strings.HasPrefix(w.Body.String(), "Processing failed: ") || !strings.Contains(w.Body.String(), tt.want) {
				t.Errorf("body = %q", w.Body.String())
			}
			if *calls != 0 {
				t.Errorf("backend called %d times", *calls)
			}
			if got := m.Snapshot().FailedByStatus[string(types.OutcomeValidationError)]; got != 1 {
				t.Errorf("validation failures = %d, want 1", got)
			}
		})
	}
}

func TestStreamImageInfo_UpstreamIs500(t *testing.T) {
	srv, _ := backend(t, func(w http.ResponseWriter, _ map[string]any) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})
	m := metrics.NewCollector(srv.URL, "server")
	s := newTestServer(t, srv.URL, m)

	w := post(t, s, EndPointStreamImageInfo, upload{image: []byte("img"), imgType: "image/jpeg"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "Processing failed: ") {
		t.Errorf("body = %q", w.Body.String())
	}
	if got := m.Snapshot().UpstreamStatus[http.StatusServiceUnavailable]; got != 1 {
		t.Errorf("UpstreamStatus[503] = %d, want 1", got)
	}
}

func TestStreamImageInfo_TransportIs500(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:1", nil)

	w := post(t, s, EndPointStreamImageInfo, upload{image: []byte("img"), imgType: "image/jpeg"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestImageInfo_Success(t *testing.T) {
	srv, _ := backend(t, func(w http.ResponseWriter, body map[string]any) {
		if _, ok := body["stream"]; ok {
			t.Errorf("stream flag sent on non-streaming call: %v", body["stream"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"info":"# A cat\nSitting."}`)
	})
	s := newTestServer(t, srv.URL, nil)

	w := post(t, s, EndPointImageInfo, upload{image: []byte("img"), imgType: "image/png"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got struct {
		Success bool   `json:"success"`
		Info    string `json:"info"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Success || got.Info != "# A cat\nSitting." {
		t.Errorf("reply = %+v", got)
	}
}

func TestImageInfo_Failure(t *testing.T) {
	srv, _ := backend(t, func(w http.ResponseWriter, _ map[string]any) {
		_, _ = io.WriteString(w, `{"detail":"nothing"}`)
	})
	s := newTestServer(t, srv.URL, nil)

	w := post(t, s, EndPointImageInfo, upload{image: []byte("img"), imgType: "image/png"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var got struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Success || !strings.Contains(got.Error, "info") {
		t.Errorf("reply = %+v", got)
	}

	w = post(t, s, EndPointImageInfo, upload{image: []byte("img")})
	if w.Code != http.StatusBadRequest {
		t.Errorf("validation status = %d, want 400", w.Code)
	}
}

// chunkReader yields one chunk per Read.
type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

type countingFlusher struct {
	bytes.Buffer
	flushes []int
}

func (c *countingFlusher) Flush() {
	c.flushes = append(c.flushes, c.Len())
}

func TestCopyFlush_FlushesEveryRead(t *testing.T) {
	w := &countingFlusher{}
	src := &chunkReader{chunks: []string{"data: a", "\n\ndata: b\n\n", "data: [DONE]\n\n"}}

	if err := copyFlush(w, src); err != nil {
		t.Fatalf("copyFlush failed: %v", err)
	}
	want := []int{7, 18, 32}
	if len(w.flushes) != len(want) {
		t.Fatalf("flushes = %v, want %v", w.flushes, want)
	}
	for i := range want {
		if w.flushes[i] != want[i] {
			t.Errorf("flush %d at %d bytes, want %d", i, w.flushes[i], want[i])
		}
	}
}

func TestCopyFlush_ReadErrorIsTransport(t *testing.T) {
	w := &countingFlusher{}
	src := &chunkReader{chunks: []string{"data: a\n\n"}, err: errors.New("connection reset")}

	err := copyFlush(w, src)
	if !errors.Is(err, types.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if w.String() != "data: a\n\n" {
		t.Errorf("written = %q", w.String())
	}
}
