// Package captions splits narration text into display chunks and times them
// against the synthesized audio.
package captions

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxChunkChars is the longest chunk built from plain text.
	MaxChunkChars = 10
	// PauseSplitChars is the length a chunk must exceed before a pause mark closes it.
	PauseSplitChars = 7
	// ParticleChunkChars is the length at which a particle closes a sub-chunk.
	ParticleChunkChars = 5
)

// particles are the permitted split points inside over-long text runs.
var particles = []string{"は", "が", "を", "に", "で", "と", "の", "から", "まで"}

func isSentenceEnd(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

func isPause(r rune) bool {
	return r == '、'
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}

// Segment splits text into caption-sized chunks. Sentence marks always close
// a chunk, pause marks close it once it is longer than PauseSplitChars, and
// plain runs are packed up to MaxChunkChars. Runs longer than MaxChunkChars
// are broken at grammatical particles. Whitespace-only chunks are dropped.
func Segment(text string) []string {
	var (
		chunks  []string
		current string
	)
	emit := func(s string) {
		chunks = append(chunks, s)
	}

	for _, tok := range tokenize(text) {
		if tok.mark {
			current += tok.text
			r, _ := utf8.DecodeRuneInString(tok.text)
			if isSentenceEnd(r) {
				if current != "" {
					emit(current)
					current = ""
				}
			} else if length(current) > PauseSplitChars {
				emit(current)
				current = ""
			}
			continue
		}

		if length(current)+length(tok.text) <= MaxChunkChars {
			current += tok.text
			continue
		}
		if current != "" {
			emit(current)
			current = ""
		}
		if length(tok.text) > MaxChunkChars {
			for _, sub := range splitAtParticles(tok.text) {
				emit(sub)
			}
		} else {
			current = tok.text
		}
	}
	if current != "" {
		emit(current)
	}

	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}

// splitAtParticles packs an over-long run into sub-chunks, closing one after
// a particle once it reaches ParticleChunkChars.
func splitAtParticles(run string) []string {
	var (
		subs []string
		sub  string
	)
	for _, part := range particleSplit(run) {
		if part.mark {
			sub += part.text
			if length(sub) >= ParticleChunkChars {
				subs = append(subs, sub)
				sub = ""
			}
			continue
		}
		if length(sub)+length(part.text) > MaxChunkChars {
			if sub != "" {
				subs = append(subs, sub)
			}
			sub = part.text
		} else {
			sub += part.text
		}
	}
	if sub != "" {
		subs = append(subs, sub)
	}
	return subs
}

type token struct {
	text string
	mark bool
}

// tokenize separates punctuation marks from the text between them. Empty
// text runs are not produced.
func tokenize(text string) []token {
	var (
		tokens []token
		start  int
	)
	for i, r := range text {
		if !isSentenceEnd(r) && !isPause(r) {
			continue
		}
		if i > start {
			tokens = append(tokens, token{text: text[start:i]})
		}
		size := utf8.RuneLen(r)
		tokens = append(tokens, token{text: text[i : i+size], mark: true})
		start = i + size
	}
	if start < len(text) {
		tokens = append(tokens, token{text: text[start:]})
	}
	return tokens
}

// particleSplit separates particle matches from the text between them,
// scanning left to right and taking the first particle that matches.
func particleSplit(run string) []token {
	var (
		tokens []token
		start  int
	)
	for i := 0; i < len(run); {
		matched := ""
		for _, p := range particles {
			if strings.HasPrefix(run[i:], p) {
				matched = p
				break
			}
		}
		if matched == "" {
			_, size := utf8.DecodeRuneInString(run[i:])
			i += size
			continue
		}
		if i > start {
			tokens = append(tokens, token{text: run[start:i]})
		}
		tokens = append(tokens, token{text: matched, mark: true})
		i += len(matched)
		start = i
	}
	if start < len(run) {
		tokens = append(tokens, token{text: run[start:]})
	}
	return tokens
}
