// Package server exposes the upload routes over HTTP.
//
// The streaming route is a passthrough: the backend's server-push body is
// copied to the client as it arrives, one flush per read, without framing or
// reassembly. Clients that want reassembled text use the CLI or the
// non-streaming route.
package server

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pithecene-io/loupe/iox"
	"github.com/pithecene-io/loupe/log"
	"github.com/pithecene-io/loupe/metrics"
	"github.com/pithecene-io/loupe/payload"
	"github.com/pithecene-io/loupe/relay"
	"github.com/pithecene-io/loupe/runtime"
	"github.com/pithecene-io/loupe/types"
)

// Route paths.
const (
	EndPointHealth          = "/health"
	EndPointStreamImageInfo = "/api/streaming/image-info"
	EndPointImageInfo       = "/api/image-info"
)

// Multipart field names.
const (
	FieldImage   = "image"
	FieldPrompt  = "prompt"
	FieldImgType = "imgtype"
)

// DefaultListen is the address serve binds when none is configured.
const DefaultListen = ":3000"

// copyBufferSize is the read size used when relaying the backend body.
const copyBufferSize = 4096

// shutdownTimeout bounds graceful shutdown once the run context ends.
const shutdownTimeout = 10 * time.Second

// Config configures the server.
type Config struct {
	// Forwarder sends requests to the backend (required).
	Forwarder *relay.Forwarder
	// AllowedOrigins is the Access-Control-Allow-Origin value (default "*").
	AllowedOrigins string
	// Logger receives request and submission logs. If nil, logging is disabled.
	Logger *log.Logger
	// Metrics accumulates counters. If nil, no metrics are recorded.
	Metrics *metrics.Collector
}

// Server serves the upload routes.
type Server struct {
	forwarder *relay.Forwarder
	logger    *log.Logger
	metrics   *metrics.Collector
	engine    *gin.Engine
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Forwarder == nil {
		return nil, errors.New("server: forwarder is required")
	}
	if cfg.AllowedOrigins == "" {
		cfg.AllowedOrigins = "*"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	s := &Server{
		forwarder: cfg.Forwarder,
		logger:    logger.With("server"),
		metrics:   cfg.Metrics,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(cors(cfg.AllowedOrigins))

	router.GET(EndPointHealth, s.health)
	router.POST(EndPointStreamImageInfo, s.streamImageInfo)
	router.POST(EndPointImageInfo, s.imageInfo)

	s.engine = router
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultListen
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger.Zap()),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", map[string]any{
			"listen":   addr,
			"endpoint": s.forwarder.Endpoint(),
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.Info("server shutting down", nil)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cors(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request served", map[string]any{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "loupe",
		"version": types.Version,
	})
}

// streamImageInfo relays the backend's streaming body to the client.
func (s *Server) streamImageInfo(c *gin.Context) {
	s.metrics.IncSubmissionStarted()

	req, err := s.encode(c, true)
	if err != nil {
		s.fail(c, err)
		return
	}
	logger := s.logger.ForSubmission(req.RequestID)
	if img := req.Image; img != nil {
		logger.Debug("image received", map[string]any{
			"format": img.Format,
			"width":  img.Width,
			"height": img.Height,
		})
	}

	stream, err := s.forwarder.Forward(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer iox.DiscardClose(stream)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	err = copyFlush(c.Writer, stream)
	s.metrics.AddBytesRead(stream.BytesRead())
	if err != nil {
		// Headers are already out; the client sees a truncated body.
		s.finish(err)
		logger.Warn("stream relay interrupted", map[string]any{
			"error":      err.Error(),
			"bytes_read": stream.BytesRead(),
		})
		return
	}
	s.finish(nil)
	logger.Info("stream relayed", map[string]any{
		"bytes_read":   stream.BytesRead(),
		"status_code":  stream.StatusCode(),
		"content_type": stream.ContentType(),
	})
}

// imageInfo performs the non-streaming call and replies with the whole text.
func (s *Server) imageInfo(c *gin.Context) {
	s.metrics.IncSubmissionStarted()

	req, err := s.encode(c, false)
	if err != nil {
		s.failJSON(c, err)
		return
	}

	info, err := s.forwarder.Describe(c.Request.Context(), req)
	if err != nil {
		s.failJSON(c, err)
		return
	}
	s.metrics.IncFragmentsAppended()
	s.finish(nil)
	s.logger.ForSubmission(req.RequestID).Info("description returned", map[string]any{
		"length": len(info),
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "info": info})
}

// encode reads the multipart fields and builds the upload request.
func (s *Server) encode(c *gin.Context, stream bool) (*types.UploadRequest, error) {
	in := payload.Input{
		MimeType: c.PostForm(FieldImgType),
		Prompt:   c.PostForm(FieldPrompt),
		Stream:   stream,
	}

	header, err := c.FormFile(FieldImage)
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// Encode reports the missing file.
	case err != nil:
		return nil, types.NewValidationError("encode", "malformed upload: "+err.Error())
	default:
		f, err := header.Open()
		if err != nil {
			return nil, types.NewTransportError("encode", err)
		}
		defer iox.DiscardClose(f)
		in.File = f
		in.DeclaredSize = declaredSize(header)
	}

	return payload.Encode(in)
}

func declaredSize(h *multipart.FileHeader) int64 {
	if h.Size < 0 {
		return payload.UnknownSize
	}
	return h.Size
}

// fail replies with a plain-text error, as the original upload route does.
func (s *Server) fail(c *gin.Context, err error) {
	s.finish(err)
	s.logger.Warn("processing failed", map[string]any{"error": err.Error()})
	c.String(statusFor(err), "Processing failed: %s", err.Error())
}

// failJSON replies with a {success:false} body.
func (s *Server) failJSON(c *gin.Context, err error) {
	s.finish(err)
	s.logger.Warn("processing failed", map[string]any{"error": err.Error()})
	c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
}

// finish records the outcome of one request.
func (s *Server) finish(err error) {
	outcome := runtime.DetermineOutcome(err)
	switch outcome.Status {
	case types.OutcomeSuccess:
		s.metrics.IncSubmissionCompleted()
	case types.OutcomeCanceled:
		s.metrics.IncSubmissionCanceled()
	default:
		s.metrics.IncSubmissionFailed(string(outcome.Status))
	}
	if outcome.StatusCode != 0 {
		s.metrics.IncUpstreamStatus(outcome.StatusCode)
	}
}

func statusFor(err error) int {
	if errors.Is(err, types.ErrValidation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// flushWriter is the subset of gin.ResponseWriter used by copyFlush.
type flushWriter interface {
	io.Writer
	http.Flusher
}

// copyFlush copies src to w, flushing after every chunk written.
func copyFlush(w flushWriter, src io.Reader) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			w.Flush()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return types.NewTransportError("relay", err)
		}
	}
}
