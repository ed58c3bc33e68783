// Package runtime runs one image submission end to end.
//
// A submission flows strictly downstream: the upload is encoded, forwarded
// to the backend, framed, and reassembled, and every appended fragment is
// handed to the caller's sink before the next frame is read. When the
// submission ends its outcome is classified, counted, and published.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/loupe/adapter"
	"github.com/pithecene-io/loupe/frame"
	"github.com/pithecene-io/loupe/iox"
	"github.com/pithecene-io/loupe/log"
	"github.com/pithecene-io/loupe/metrics"
	"github.com/pithecene-io/loupe/payload"
	"github.com/pithecene-io/loupe/reassemble"
	"github.com/pithecene-io/loupe/relay"
	"github.com/pithecene-io/loupe/transcript"
	"github.com/pithecene-io/loupe/types"
)

// DefaultPublishTimeout bounds delivery of the completion event.
const DefaultPublishTimeout = 15 * time.Second

// Sink receives the visible state after every update.
// Update is called synchronously; the next frame is not read until it returns.
type Sink interface {
	Update(state reassemble.State)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(state reassemble.State)

// Update calls f(state).
func (f SinkFunc) Update(state reassemble.State) { f(state) }

// Config configures an Orchestrator.
type Config struct {
	// Forwarder sends requests to the backend (required).
	Forwarder *relay.Forwarder
	// Sentinels are the terminal frame payloads (default types.DefaultSentinel).
	Sentinels []string
	// LineBreak is inserted before new-block fragments (default "\n").
	LineBreak string
	// MaxFrameSize bounds a single frame (default frame.DefaultMaxFrameSize).
	MaxFrameSize int
	// StrictContract checks each request body against the upload schema
	// before it is sent.
	StrictContract bool
	// Logger receives structured logs. If nil, logging is disabled.
	Logger *log.Logger
	// Metrics accumulates counters. If nil, no metrics are recorded.
	Metrics *metrics.Collector
	// Adapter publishes a completion event per submission. Optional.
	Adapter adapter.Adapter
	// PublishTimeout bounds the adapter publish (default 15s).
	PublishTimeout time.Duration
	// Recorder captures the frames of streaming submissions. Optional.
	// A recorder belongs to one submission; share the orchestrator only
	// when Recorder is nil.
	Recorder *transcript.Recorder
}

// Orchestrator executes submissions. Without a Recorder it is safe for
// concurrent use: each Execute call owns its request, stream, and result.
type Orchestrator struct {
	config Config
	logger *log.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Forwarder == nil {
		return nil, errors.New("runtime: forwarder is required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Orchestrator{config: cfg, logger: logger.With("runtime")}, nil
}

// submission is the per-call state of Execute.
type submission struct {
	req     *types.UploadRequest
	result  *reassemble.Result
	parser  *frame.Parser
	stream  *relay.Stream
	logger  *log.Logger
	started time.Time
}

// Execute runs one submission and returns its result.
//
// Execution flow:
//  1. Encode the upload (and check the schema when StrictContract is set)
//  2. Forward it to the backend
//  3. Pull frames one at a time, appending each to the result and passing
//     the new state to sink
//  4. Classify the outcome, record metrics, publish the completion event
//
// The result is never nil. Its Text holds whatever arrived before a
// failure. The returned error is the failure behind a non-success outcome.
func (o *Orchestrator) Execute(ctx context.Context, in payload.Input, sink Sink) (*types.SubmissionResult, error) {
	if sink == nil {
		sink = SinkFunc(func(reassemble.State) {})
	}
	s := &submission{
		result:  reassemble.New(o.resultOptions()...),
		logger:  o.logger,
		started: time.Now(),
	}
	o.config.Metrics.IncSubmissionStarted()

	err := o.run(ctx, s, in, sink)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		// A failure caused by the caller abandoning the submission.
		err = fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	res := o.buildResult(s, in, err)
	o.publish(ctx, s.logger, res)
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, s *submission, in payload.Input, sink Sink) error {
	req, err := payload.Encode(in)
	if err != nil {
		return err
	}
	if o.config.StrictContract {
		if err := payload.ValidateContract(req); err != nil {
			return err
		}
	}
	s.req = req
	s.logger = o.logger.ForSubmission(req.RequestID)
	fields := map[string]any{
		"mime_type": req.MimeType,
		"streaming": in.Stream,
		"endpoint":  o.config.Forwarder.Endpoint(),
	}
	if img := req.Image; img != nil {
		fields["image_format"] = img.Format
		fields["width"], fields["height"] = img.DisplaySize()
		if img.MimeType() != req.MimeType {
			s.logger.Warn("declared type differs from content", map[string]any{
				"declared": req.MimeType,
				"detected": img.MimeType(),
			})
		}
	}
	s.logger.Info("submission started", fields)

	if !in.Stream {
		return o.runComplete(ctx, s, sink)
	}
	return o.runStreaming(ctx, s, sink)
}

// runStreaming forwards with the stream flag and drains the frames.
func (o *Orchestrator) runStreaming(ctx context.Context, s *submission, sink Sink) error {
	stream, err := o.config.Forwarder.Forward(ctx, s.req)
	if err != nil {
		return err
	}
	s.stream = stream
	defer iox.DiscardClose(stream)

	s.parser = frame.NewParser(stream, o.parserOptions(s.logger)...)

	var src reassemble.Source = s.parser
	if rec := o.config.Recorder; rec != nil {
		if err := rec.WriteHeader(s.req.RequestID, s.req.MimeType, o.config.Forwarder.Endpoint()); err != nil {
			return err
		}
		src = rec.Tee(s.parser)
	}

	cursor := reassemble.NewCursor(src, s.result)
	return cursor.Drain(func(st reassemble.State) {
		if !st.Done {
			o.config.Metrics.IncFramesReceived()
			o.config.Metrics.IncFragmentsAppended()
		}
		sink.Update(st)
	})
}

// runComplete performs the non-streaming call and stores the text whole.
func (o *Orchestrator) runComplete(ctx context.Context, s *submission, sink Sink) error {
	text, err := o.config.Forwarder.Describe(ctx, s.req)
	if err != nil {
		s.result.Freeze()
		return err
	}
	if err := s.result.SetComplete(text); err != nil {
		return err
	}
	o.config.Metrics.IncFragmentsAppended()
	sink.Update(reassemble.State{Text: text, Fragment: text, Seq: 1})
	sink.Update(reassemble.State{Text: text, Seq: 1, Done: true})
	return nil
}

func (o *Orchestrator) resultOptions() []reassemble.Option {
	if o.config.LineBreak == "" {
		return nil
	}
	return []reassemble.Option{reassemble.WithLineBreak(o.config.LineBreak)}
}

func (o *Orchestrator) parserOptions(logger *log.Logger) []frame.Option {
	opts := []frame.Option{
		frame.WithDiscardHook(func(segment string) {
			logger.Debug("discarded stream segment", map[string]any{
				"segment": truncate(segment, 80),
			})
		}),
	}
	if len(o.config.Sentinels) > 0 {
		opts = append(opts, frame.WithSentinels(o.config.Sentinels...))
	}
	if o.config.MaxFrameSize > 0 {
		opts = append(opts, frame.WithMaxFrameSize(o.config.MaxFrameSize))
	}
	return opts
}

// buildResult assembles the final result and records outcome metrics.
func (o *Orchestrator) buildResult(s *submission, in payload.Input, err error) *types.SubmissionResult {
	s.result.Freeze()
	outcome := DetermineOutcome(err)

	res := &types.SubmissionResult{
		Outcome:       outcome,
		Streaming:     in.Stream,
		MimeType:      in.MimeType,
		FragmentCount: s.result.Len(),
		Duration:      time.Since(s.started),
		Text:          s.result.Text(),
	}
	if s.req != nil {
		res.RequestID = s.req.RequestID
		res.MimeType = s.req.MimeType
		res.Image = s.req.Image
	}
	if s.parser != nil {
		res.FrameCount = s.parser.FrameCount()
		res.DiscardedSegments = s.parser.DiscardedCount()
	}
	if s.stream != nil {
		res.BytesRead = s.stream.BytesRead()
	}

	m := o.config.Metrics
	m.AddBytesRead(res.BytesRead)
	m.AddSegmentsDiscarded(int64(res.DiscardedSegments))
	switch outcome.Status {
	case types.OutcomeSuccess:
		m.IncSubmissionCompleted()
	case types.OutcomeCanceled:
		m.IncSubmissionCanceled()
	default:
		m.IncSubmissionFailed(string(outcome.Status))
	}
	if outcome.StatusCode != 0 {
		m.IncUpstreamStatus(outcome.StatusCode)
	}

	fields := map[string]any{
		"outcome":     outcome.Status,
		"frames":      res.FrameCount,
		"fragments":   res.FragmentCount,
		"discarded":   res.DiscardedSegments,
		"bytes_read":  res.BytesRead,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if outcome.Status == types.OutcomeSuccess {
		s.logger.Info("submission completed", fields)
	} else {
		fields["error"] = outcome.Message
		if outcome.StatusCode != 0 {
			fields["status_code"] = outcome.StatusCode
		}
		s.logger.Warn("submission failed", fields)
	}
	return res
}

// publish delivers the completion event. Failures are logged and counted
// but never change the result.
func (o *Orchestrator) publish(ctx context.Context, logger *log.Logger, res *types.SubmissionResult) {
	if o.config.Adapter == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.PublishTimeout)
	defer cancel()

	if err := o.config.Adapter.Publish(pubCtx, adapter.NewEvent(res, time.Now())); err != nil {
		o.config.Metrics.IncAdapterPublishFailure()
		logger.Warn("completion event not published", map[string]any{
			"error": err.Error(),
		})
		return
	}
	o.config.Metrics.IncAdapterPublishSuccess()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
