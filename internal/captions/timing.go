package captions

import (
	"math"
)

const (
	DefaultLeadInMS   = 200
	DefaultTrailOutMS = 300
)

// Caption is a timed chunk of narration text.
type Caption struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// Allocator spreads chunks over the audio window between a lead-in and a
// trail-out offset, proportionally to their character counts.
type Allocator struct {
	LeadInMS   float64
	TrailOutMS float64
}

// DefaultAllocator uses a 200ms lead-in and a 300ms trail-out.
func DefaultAllocator() Allocator {
	return Allocator{LeadInMS: DefaultLeadInMS, TrailOutMS: DefaultTrailOutMS}
}

// Allocate times chunks with the default offsets.
func Allocate(chunks []string, audioSeconds float64) []Caption {
	return DefaultAllocator().Allocate(chunks, audioSeconds)
}

// Allocate returns one caption per chunk. The cursor advances by unrounded
// durations so rounding never accumulates. When the audio is too short to
// hold both offsets they are dropped and the whole window is used. Every
// caption lasts at least 1ms.
func (a Allocator) Allocate(chunks []string, audioSeconds float64) []Caption {
	if len(chunks) == 0 {
		return []Caption{}
	}
	totalChars := 0
	for _, c := range chunks {
		totalChars += length(c)
	}
	if totalChars == 0 {
		return []Caption{}
	}

	totalMS := audioSeconds * 1000
	leadIn := a.LeadInMS
	available := totalMS - a.LeadInMS - a.TrailOutMS
	if available <= 0 {
		leadIn = 0
		available = math.Max(totalMS, 0)
	}

	captions := make([]Caption, 0, len(chunks))
	cursor := leadIn
	for _, chunk := range chunks {
		duration := available * float64(length(chunk)) / float64(totalChars)
		start := int64(math.Round(cursor))
		end := int64(math.Round(cursor + duration))
		if end <= start {
			end = start + 1
		}
		captions = append(captions, Caption{Text: chunk, StartMS: start, EndMS: end})
		cursor += duration
	}
	return captions
}

// Build segments text and times the chunks in one step.
func (a Allocator) Build(text string, audioSeconds float64) []Caption {
	return a.Allocate(Segment(text), audioSeconds)
}
