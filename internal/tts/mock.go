package tts

import (
	"context"
	"io"
	"math"
	"unicode/utf8"
)

const (
	mockToneHz      = 440.0
	mockAmplitude   = 0.2
	mockMSPerLetter = 40
)

// mockModel produces a short tone per sentence, sized by its length.
type mockModel struct {
	sampleRate int
}

func NewMockModel(sampleRate int) Model {
	return &mockModel{sampleRate: sampleRate}
}

func (m *mockModel) Stream(ctx context.Context, splitter *TextSplitter, voice string) (*SegmentStream, error) {
	var (
		sentences []string
		loaded    bool
	)
	next := func() (Segment, error) {
		if !loaded {
			loaded = true
			var err error
			sentences, err = splitter.Sentences(ctx)
			if err != nil {
				return Segment{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return Segment{}, err
		}
		if len(sentences) == 0 {
			return Segment{}, io.EOF
		}
		sentence := sentences[0]
		sentences = sentences[1:]
		return Segment{Samples: m.tone(utf8.RuneCountInString(sentence)), SamplingRate: m.sampleRate}, nil
	}
	return NewSegmentStream(next, nil), nil
}

func (m *mockModel) tone(letters int) []float32 {
	n := m.sampleRate * letters * mockMSPerLetter / 1000
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(mockAmplitude * math.Sin(2*math.Pi*mockToneHz*float64(i)/float64(m.sampleRate)))
	}
	return samples
}

func (m *mockModel) Close() error { return nil }
