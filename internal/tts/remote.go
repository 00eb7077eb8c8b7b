package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/wav"
)

const (
	DefaultQueryTimeout     = 30 * time.Second
	DefaultSynthesisTimeout = 60 * time.Second
	defaultProbeTimeout     = 5 * time.Second

	maxErrorBody = 512
)

// RemoteClient speaks the two-phase audio_query/synthesis protocol of a
// VOICEVOX-compatible engine. Failed phases are never retried.
type RemoteClient struct {
	endpoint         string
	voice            string
	speakers         speakerTable
	client           *http.Client
	queryTimeout     time.Duration
	synthesisTimeout time.Duration
	probeTimeout     time.Duration
	tracer           trace.Tracer
	logger           *slog.Logger
}

// Speaker is an entry of the engine's speaker listing.
type Speaker struct {
	Name   string         `json:"name"`
	UUID   string         `json:"speaker_uuid"`
	Styles []SpeakerStyle `json:"styles"`
}

type SpeakerStyle struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

func NewRemoteClient(cfg config.RemoteConfig, logger *slog.Logger) (*RemoteClient, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("remote endpoint empty")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("parse remote endpoint: %w", err)
	}
	return &RemoteClient{
		endpoint:         endpoint,
		voice:            cfg.Voice,
		speakers:         newSpeakerTable(cfg.Speakers),
		client:           &http.Client{},
		queryTimeout:     durationOr(cfg.QueryTimeoutMS, DefaultQueryTimeout),
		synthesisTimeout: durationOr(cfg.SynthesisTimeoutMS, DefaultSynthesisTimeout),
		probeTimeout:     durationOr(cfg.ProbeTimeoutMS, defaultProbeTimeout),
		tracer:           otel.Tracer("github.com/loqalabs/loqa-narrator/internal/tts"),
		logger:           logger.With(slog.String("component", "tts-remote")),
	}, nil
}

func durationOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *RemoteClient) Endpoint() string { return c.endpoint }

// SpeakerID maps a voice onto the engine's numeric speaker id.
func (c *RemoteClient) SpeakerID(voice string) int {
	if voice == "" {
		voice = c.voice
	}
	return c.speakers.lookup(voice)
}

func (c *RemoteClient) Voices() []string { return c.speakers.names() }

// Generate runs the query phase then the synthesis phase and returns the
// engine's WAV buffer. Any failure discards what was received.
func (c *RemoteClient) Generate(ctx context.Context, text, voice string) (Result, error) {
	speaker := c.SpeakerID(voice)
	ctx, span := c.tracer.Start(ctx, "tts.remote.generate", trace.WithAttributes(
		attribute.Int("tts.speaker", speaker),
		attribute.Int("tts.text_length", len(text)),
	))
	defer span.End()

	c.logger.Debug("calling remote engine", slog.String("voice", voice), slog.Int("speaker", speaker))

	query, err := c.audioQuery(ctx, text, speaker)
	if err != nil {
		return Result{}, recordSpanError(span, err)
	}
	audio, err := c.synthesis(ctx, query, speaker)
	if err != nil {
		return Result{}, recordSpanError(span, err)
	}

	header, err := wav.ParseHeader(audio)
	if err != nil {
		return Result{}, recordSpanError(span, &NetworkError{Phase: PhaseSynthesis, Err: fmt.Errorf("invalid wav response: %w", err)})
	}
	seconds := header.Seconds()
	span.SetAttributes(attribute.Float64("tts.audio_length_seconds", seconds))
	c.logger.Debug("remote audio generated", slog.Int("bytes", len(audio)), slog.Float64("audio_length_seconds", seconds))
	return Result{Audio: audio, AudioLengthSeconds: seconds}, nil
}

func (c *RemoteClient) audioQuery(ctx context.Context, text string, speaker int) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "tts.remote.audio_query")
	defer span.End()

	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(speaker))
	body, err := c.call(ctx, PhaseQuery, c.queryTimeout, http.MethodPost, "/audio_query?"+params.Encode(), nil)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	return body, nil
}

func (c *RemoteClient) synthesis(ctx context.Context, query []byte, speaker int) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "tts.remote.synthesis")
	defer span.End()

	params := url.Values{}
	params.Set("speaker", strconv.Itoa(speaker))
	body, err := c.call(ctx, PhaseSynthesis, c.synthesisTimeout, http.MethodPost, "/synthesis?"+params.Encode(), query)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	return body, nil
}

// Speakers lists the engine's speakers. It doubles as a liveness probe.
func (c *RemoteClient) Speakers(ctx context.Context) ([]Speaker, error) {
	body, err := c.call(ctx, PhaseSpeakers, c.probeTimeout, http.MethodGet, "/speakers", nil)
	if err != nil {
		return nil, err
	}
	var speakers []Speaker
	if err := json.Unmarshal(body, &speakers); err != nil {
		return nil, &NetworkError{Phase: PhaseSpeakers, Err: fmt.Errorf("decode speakers: %w", err)}
	}
	return speakers, nil
}

func (c *RemoteClient) call(ctx context.Context, phase string, timeout time.Duration, method, path string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, &NetworkError{Phase: phase, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Phase: phase, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Phase: phase, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &NetworkError{Phase: phase, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(data)))}
	}
	return data, nil
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
