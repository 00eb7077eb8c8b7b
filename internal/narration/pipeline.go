// Package narration turns text into a voiced WAV track and timed captions.
package narration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-narrator/internal/captions"
	"github.com/loqalabs/loqa-narrator/internal/eventstore"
	"github.com/loqalabs/loqa-narrator/internal/language"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"github.com/loqalabs/loqa-narrator/internal/wav"
)

// ErrInvalidRequest reports a request rejected before synthesis.
var ErrInvalidRequest = errors.New("invalid narration request")

type Request struct {
	RequestID string
	Text      string
	Voice     string
}

// Output is a complete narration. Partial outputs are never returned.
type Output struct {
	RequestID          string             `json:"request_id"`
	Language           language.Language  `json:"language"`
	Backend            string             `json:"backend"`
	Audio              []byte             `json:"-"`
	AudioLengthSeconds float64            `json:"audio_length_seconds"`
	Captions           []captions.Caption `json:"captions"`
}

// Synthesizer routes a request to a backend.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.Request) (tts.Result, tts.Route, error)
}

// History stores finished narrations.
type History interface {
	Append(ctx context.Context, rec eventstore.Record) error
}

// Narrator is implemented by Pipeline.
type Narrator interface {
	Narrate(ctx context.Context, req Request) (Output, error)
}

type Options struct {
	Allocator     captions.Allocator
	MaxTextLength int
	History       History
}

// Pipeline runs classification, synthesis and caption timing for one request
// at a time per call; calls may run concurrently.
type Pipeline struct {
	synth     Synthesizer
	allocator captions.Allocator
	maxText   int
	history   History
	logger    *slog.Logger

	tracer       trace.Tracer
	requests     metric.Int64Counter
	duration     metric.Float64Histogram
	audioSeconds metric.Float64Histogram
}

func NewPipeline(synth Synthesizer, opts Options, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		synth:     synth,
		allocator: opts.Allocator,
		maxText:   opts.MaxTextLength,
		history:   opts.History,
		logger:    logger.With(slog.String("component", "narration")),
		tracer:    otel.Tracer("github.com/loqalabs/loqa-narrator/internal/narration"),
	}
	if err := p.initMetrics(); err != nil {
		p.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return p
}

func (p *Pipeline) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-narrator/internal/narration")
	var err error
	if p.requests, err = meter.Int64Counter("narration.requests",
		metric.WithDescription("Narration requests by backend, language and outcome")); err != nil {
		return err
	}
	if p.duration, err = meter.Float64Histogram("narration.duration",
		metric.WithDescription("End to end narration latency"), metric.WithUnit("s")); err != nil {
		return err
	}
	if p.audioSeconds, err = meter.Float64Histogram("narration.audio_seconds",
		metric.WithDescription("Length of synthesized narration audio"), metric.WithUnit("s")); err != nil {
		return err
	}
	return nil
}

// Narrate synthesizes req.Text and times its captions against the audio.
// Any failure aborts the whole request.
func (p *Pipeline) Narrate(ctx context.Context, req Request) (Output, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "narration.narrate", trace.WithAttributes(
		attribute.String("narration.request_id", req.RequestID),
	))
	defer span.End()

	out, err := p.narrate(ctx, req)
	elapsed := time.Since(started)
	p.observe(ctx, out, err, elapsed)
	p.record(ctx, req, out, err, elapsed)

	span.SetAttributes(
		attribute.String("narration.language", string(out.Language)),
		attribute.String("narration.backend", out.Backend),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("narration failed",
			slog.String("request_id", req.RequestID),
			slog.String("backend", out.Backend),
			slogError(err))
		return Output{}, err
	}
	p.logger.Info("narration completed",
		slog.String("request_id", req.RequestID),
		slog.String("language", string(out.Language)),
		slog.String("backend", out.Backend),
		slog.Float64("audio_length_seconds", out.AudioLengthSeconds),
		slog.Int("captions", len(out.Captions)),
		slog.Duration("elapsed", elapsed))
	return out, nil
}

func (p *Pipeline) narrate(ctx context.Context, req Request) (Output, error) {
	out := Output{RequestID: req.RequestID}
	if strings.TrimSpace(req.Text) == "" {
		return out, fmt.Errorf("%w: text is empty", ErrInvalidRequest)
	}
	if p.maxText > 0 && utf8.RuneCountInString(req.Text) > p.maxText {
		return out, fmt.Errorf("%w: text longer than %d characters", ErrInvalidRequest, p.maxText)
	}

	synthReq := tts.NewRequest(req.Text, req.Voice)
	out.Language = synthReq.Language

	result, route, err := p.synth.Synthesize(ctx, synthReq)
	if route.Backend != 0 {
		out.Backend = route.Backend.String()
	}
	if err != nil {
		return out, err
	}

	out.Audio = result.Audio
	out.AudioLengthSeconds = result.AudioLengthSeconds
	out.Captions = p.allocator.Build(req.Text, result.AudioLengthSeconds)
	return out, nil
}

func (p *Pipeline) observe(ctx context.Context, out Output, err error, elapsed time.Duration) {
	if p.requests == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = ErrorKind(err)
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", out.Backend),
		attribute.String("language", string(out.Language)),
		attribute.String("outcome", outcome),
	)
	p.requests.Add(ctx, 1, attrs)
	p.duration.Record(ctx, elapsed.Seconds(), attrs)
	if err == nil {
		p.audioSeconds.Record(ctx, out.AudioLengthSeconds, attrs)
	}
}

func (p *Pipeline) record(ctx context.Context, req Request, out Output, err error, elapsed time.Duration) {
	if p.history == nil {
		return
	}
	rec := eventstore.Record{
		RequestID: req.RequestID,
		Text:      req.Text,
		Voice:     req.Voice,
		Language:  string(out.Language),
		Backend:   out.Backend,
		Elapsed:   elapsed,
	}
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.AudioLengthSeconds = out.AudioLengthSeconds
		rec.CaptionCount = len(out.Captions)
		if data, mErr := json.Marshal(out.Captions); mErr == nil {
			rec.Captions = data
		}
	}
	// Failed and cancelled requests are recorded too.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if hErr := p.history.Append(recordCtx, rec); hErr != nil {
		p.logger.Warn("failed to record narration", slog.String("request_id", req.RequestID), slogError(hErr))
	}
}

// ErrorKind classifies err for replies and metrics.
func ErrorKind(err error) string {
	var (
		netErr   *tts.NetworkError
		synthErr *tts.SynthesisError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return protocol.ErrorKindInvalid
	case errors.Is(err, tts.ErrBackendUnavailable):
		return protocol.ErrorKindUnavailable
	case errors.As(err, &netErr):
		return protocol.ErrorKindNetwork
	case errors.Is(err, wav.ErrNothingToMerge), errors.Is(err, wav.ErrShortBuffer):
		return protocol.ErrorKindMerge
	case errors.As(err, &synthErr):
		return protocol.ErrorKindSynthesis
	default:
		return protocol.ErrorKindInternal
	}
}

// Reply converts a narration result into its wire form.
func Reply(requestID string, out Output, err error, includeAudio bool) protocol.NarrationReply {
	if err != nil {
		return protocol.NarrationReply{
			RequestID: requestID,
			Error:     err.Error(),
			ErrorKind: ErrorKind(err),
		}
	}
	reply := protocol.NarrationReply{
		RequestID:          out.RequestID,
		Language:           string(out.Language),
		Backend:            out.Backend,
		AudioLengthSeconds: out.AudioLengthSeconds,
		AudioBytes:         len(out.Audio),
		Captions:           out.Captions,
	}
	if includeAudio {
		reply.Audio = out.Audio
	}
	return reply
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
