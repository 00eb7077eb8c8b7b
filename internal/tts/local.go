package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/language"
	"github.com/loqalabs/loqa-narrator/internal/wav"
)

const warmUpText = "Hello."

// LocalSynthesizer turns text into a single WAV buffer using a streaming
// model. A synthesizer without a model reports itself unavailable.
type LocalSynthesizer struct {
	model     Model
	voice     string
	voices    []string
	languages map[language.Language]bool
	logger    *slog.Logger
}

// NewLocalSynthesizer wraps model. A nil model yields an unavailable
// synthesizer.
func NewLocalSynthesizer(model Model, voice string, voices []string, languages []language.Language, logger *slog.Logger) *LocalSynthesizer {
	if voice == "" {
		voice = DefaultLocalVoice
	}
	if len(voices) == 0 {
		voices = LocalVoices
	}
	supported := make(map[language.Language]bool, len(languages))
	for _, lang := range languages {
		supported[lang] = true
	}
	return &LocalSynthesizer{
		model:     model,
		voice:     voice,
		voices:    append([]string(nil), voices...),
		languages: supported,
		logger:    logger.With(slog.String("component", "tts-local")),
	}
}

// InitLocal builds the process-wide local synthesizer. When remoteEndpoint is
// set the model is not loaded at all and the returned synthesizer is
// unavailable.
func InitLocal(ctx context.Context, cfg config.LocalConfig, remoteEndpoint string, logger *slog.Logger) (*LocalSynthesizer, error) {
	languages := make([]language.Language, 0, len(cfg.Languages))
	for _, value := range cfg.Languages {
		lang, ok := language.Parse(value)
		if !ok {
			return nil, fmt.Errorf("unknown language %q", value)
		}
		languages = append(languages, lang)
	}

	if remoteEndpoint != "" {
		logger.Info("remote endpoint configured; skipping local model initialization",
			slog.String("component", "tts-local"),
			slog.String("endpoint", remoteEndpoint))
		return NewLocalSynthesizer(nil, cfg.Voice, cfg.Voices, languages, logger), nil
	}

	precision, err := ParsePrecision(cfg.Precision)
	if err != nil {
		return nil, err
	}

	var model Model
	switch cfg.Mode {
	case "exec":
		model, err = NewExecModel(cfg.Command, cfg.Model, precision)
		if err != nil {
			return nil, err
		}
	case "mock":
		model = NewMockModel(cfg.SampleRate)
	case "disabled", "":
		return NewLocalSynthesizer(nil, cfg.Voice, cfg.Voices, languages, logger), nil
	default:
		return nil, fmt.Errorf("unsupported local mode %q", cfg.Mode)
	}

	synth := NewLocalSynthesizer(model, cfg.Voice, cfg.Voices, languages, logger)
	if cfg.WarmUp {
		if _, err := synth.Generate(ctx, warmUpText, synth.voice); err != nil {
			_ = model.Close()
			return nil, fmt.Errorf("warm up local model: %w", err)
		}
	}
	synth.logger.Info("local model ready",
		slog.String("mode", cfg.Mode),
		slog.String("model", cfg.Model),
		slog.String("precision", string(precision)))
	return synth, nil
}

// Available reports whether a model is loaded.
func (l *LocalSynthesizer) Available() bool {
	return l != nil && l.model != nil
}

// Supports reports whether the loaded model can speak lang.
func (l *LocalSynthesizer) Supports(lang language.Language) bool {
	return l.Available() && l.languages[lang]
}

func (l *LocalSynthesizer) Voices() []string {
	if !l.Available() {
		return nil
	}
	return append([]string(nil), l.voices...)
}

// Generate pushes text through the model, drains every segment and merges
// them into one WAV buffer.
func (l *LocalSynthesizer) Generate(ctx context.Context, text, voice string) (Result, error) {
	if !l.Available() {
		return Result{}, &SynthesisError{Op: "generate", Err: ErrModelNotInitialized}
	}
	if voice == "" {
		voice = l.voice
	}

	splitter := NewTextSplitter()
	stream, err := l.model.Stream(ctx, splitter, voice)
	if err != nil {
		return Result{}, &SynthesisError{Op: "stream", Err: err}
	}
	defer stream.Close()

	if err := splitter.Push(text); err != nil {
		return Result{}, &SynthesisError{Op: "push", Err: err}
	}
	splitter.Close()

	var (
		buffers [][]byte
		seconds float64
	)
	for stream.Next() {
		segment := stream.Segment()
		buf, err := wav.EncodePCM16(segment.Samples, segment.SamplingRate)
		if err != nil {
			return Result{}, &SynthesisError{Op: "encode", Err: err}
		}
		buffers = append(buffers, buf)
		seconds += segment.Seconds()
	}
	if err := stream.Err(); err != nil {
		return Result{}, &SynthesisError{Op: "stream", Err: err}
	}
	if len(buffers) == 0 {
		return Result{}, &SynthesisError{Op: "generate", Err: errors.New("model produced no audio")}
	}

	audio, err := wav.Merge(buffers)
	if err != nil {
		return Result{}, err
	}
	l.logger.Debug("local audio generated",
		slog.String("voice", voice),
		slog.Int("segments", len(buffers)),
		slog.Float64("audio_length_seconds", seconds))
	return Result{Audio: audio, AudioLengthSeconds: seconds}, nil
}

// Close releases the model.
func (l *LocalSynthesizer) Close() error {
	if !l.Available() {
		return nil
	}
	return l.model.Close()
}
