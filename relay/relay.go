// Package relay forwards encoded uploads to the inference backend.
//
// The forwarder issues one POST per submission and hands back the live
// response body. It never buffers the body, never reads ahead of the
// consumer, and never retries: a failed call surfaces immediately.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/pithecene-io/loupe/iox"
	"github.com/pithecene-io/loupe/types"
)

// DefaultEndpoint is the backend base address used when none is configured.
const DefaultEndpoint = "http://localhost:8080"

// ExtractPath is the backend route for image description requests.
const ExtractPath = "/extract-image-info"

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 512

// Config configures the forwarder. It is read once at construction.
type Config struct {
	// Endpoint is the backend base address (default DefaultEndpoint).
	Endpoint string
	// Headers are added to every outbound request.
	Headers map[string]string
	// Client overrides the HTTP client. The default client has no timeout;
	// callers bound a submission through its context.
	Client *http.Client
}

// Forwarder sends upload requests to the backend.
// Safe for concurrent use; each call owns its own connection and body.
type Forwarder struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// New creates a forwarder from cfg.
func New(cfg Config) *Forwarder {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Forwarder{
		endpoint: endpoint,
		headers:  maps.Clone(cfg.Headers),
		client:   client,
	}
}

// Endpoint returns the resolved backend base address.
func (f *Forwarder) Endpoint() string {
	return f.endpoint
}

// URL returns the full extract-image-info address.
func (f *Forwarder) URL() string {
	return f.endpoint + ExtractPath
}

// Forward posts req with the stream flag set and returns the response body.
// The caller must Close the returned stream.
//
// Errors:
//   - *types.UpstreamError: backend answered with a non-2xx status
//   - types.ErrTransport: connection failed or the body is absent
func (f *Forwarder) Forward(ctx context.Context, req *types.UploadRequest) (*Stream, error) {
	body, err := json.Marshal(req.WithStream(true))
	if err != nil {
		return nil, fmt.Errorf("relay: marshal request: %w", err)
	}
	return f.post(ctx, bytes.NewReader(body), "application/json", "text/event-stream")
}

// Describe performs the non-streaming call and returns the complete text.
// The response is read as a single JSON object; its "info" field is the text.
func (f *Forwarder) Describe(ctx context.Context, req *types.UploadRequest) (string, error) {
	body, err := json.Marshal(req.WithStream(false))
	if err != nil {
		return "", fmt.Errorf("relay: marshal request: %w", err)
	}

	stream, err := f.post(ctx, bytes.NewReader(body), "application/json", "application/json")
	if err != nil {
		return "", err
	}
	defer iox.DiscardClose(stream)

	data, err := io.ReadAll(stream)
	if err != nil {
		return "", types.NewTransportError("describe", err)
	}
	if !gjson.ValidBytes(data) {
		return "", types.NewProtocolError("describe", "response is not valid JSON")
	}
	info := gjson.GetBytes(data, "info")
	if !info.Exists() {
		return "", types.NewProtocolError("describe", `response has no "info" field`)
	}
	return info.String(), nil
}

// post performs a single POST and returns the body on 2xx.
func (f *Forwarder) post(ctx context.Context, body io.Reader, contentType, accept string) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL(), body)
	if err != nil {
		return nil, types.NewTransportError("forward", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", accept)
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, types.NewTransportError("forward", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer iox.DiscardClose(resp.Body)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &types.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, types.NewTransportError("forward", errors.New("response body absent"))
	}

	return newStream(resp), nil
}

// Stream is the live response body of a forwarded submission.
// Each Read is passed straight to the connection, so the consumer's pull
// rate is the only thing that moves bytes off the network.
type Stream struct {
	body        io.ReadCloser
	counter     *iox.CountingReader
	statusCode  int
	contentType string
}

func newStream(resp *http.Response) *Stream {
	return &Stream{
		body:        resp.Body,
		counter:     iox.NewCountingReader(resp.Body),
		statusCode:  resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
	}
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	return s.counter.Read(p)
}

// Close releases the connection. Further reads fail.
func (s *Stream) Close() error {
	return s.body.Close()
}

// BytesRead returns how many body bytes the consumer has pulled.
func (s *Stream) BytesRead() int64 {
	return s.counter.Count()
}

// StatusCode returns the backend response status.
func (s *Stream) StatusCode() int {
	return s.statusCode
}

// ContentType returns the backend response Content-Type.
func (s *Stream) ContentType() string {
	return s.contentType
}
