package tts

import (
	"context"

	"github.com/loqalabs/loqa-narrator/internal/language"
)

// Request is a single synthesis call.
type Request struct {
	Text     string
	Voice    string
	Language language.Language
}

// NewRequest classifies text and builds a request for it.
func NewRequest(text, voice string) Request {
	return Request{Text: text, Voice: voice, Language: language.Classify(text)}
}

// Result is a complete WAV buffer and its duration.
type Result struct {
	Audio              []byte
	AudioLengthSeconds float64
}

// Generator is the contract shared by the local and remote backends.
type Generator interface {
	Generate(ctx context.Context, text, voice string) (Result, error)
	Voices() []string
}
