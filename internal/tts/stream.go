package tts

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"unicode"
)

// ErrSplitterClosed is returned when text is pushed after Close.
var ErrSplitterClosed = errors.New("text splitter closed")

// Segment is one chunk of model output.
type Segment struct {
	Samples      []float32
	SamplingRate int
}

// Seconds reports the segment duration.
func (s Segment) Seconds() float64 {
	if s.SamplingRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SamplingRate)
}

// TextSplitter collects text for a model and hands it over as sentences once
// closed.
type TextSplitter struct {
	mu     sync.Mutex
	buf    strings.Builder
	closed bool
	done   chan struct{}
}

func NewTextSplitter() *TextSplitter {
	return &TextSplitter{done: make(chan struct{})}
}

// Push appends text.
func (s *TextSplitter) Push(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSplitterClosed
	}
	s.buf.WriteString(text)
	return nil
}

// Close marks the end of input. It is safe to call more than once.
func (s *TextSplitter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Sentences waits for Close and returns the pushed text split into sentences.
func (s *TextSplitter) Sentences(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
	}
	s.mu.Lock()
	text := s.buf.String()
	s.mu.Unlock()
	return splitSentences(text), nil
}

func splitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	flush := func() {
		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
	}
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		switch r {
		case '。', '！', '？', '\n':
			flush()
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return sentences
}

// SegmentStream is a single-use iterator over model output. Once Next
// returns false the stream is exhausted and never restarts.
type SegmentStream struct {
	next    func() (Segment, error)
	release func() error

	current   Segment
	err       error
	done      bool
	closeOnce sync.Once
	closeErr  error
}

// NewSegmentStream builds a stream from a pull function that returns io.EOF
// at the end and a release function run once on Close.
func NewSegmentStream(next func() (Segment, error), release func() error) *SegmentStream {
	return &SegmentStream{next: next, release: release}
}

// Next advances to the next segment.
func (s *SegmentStream) Next() bool {
	if s.done {
		return false
	}
	seg, err := s.next()
	if err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		s.current = Segment{}
		return false
	}
	s.current = seg
	return true
}

// Segment returns the segment produced by the last successful Next.
func (s *SegmentStream) Segment() Segment { return s.current }

// Err returns the error that ended iteration, if any.
func (s *SegmentStream) Err() error { return s.err }

// Close releases the underlying model resources.
func (s *SegmentStream) Close() error {
	s.closeOnce.Do(func() {
		s.done = true
		if s.release != nil {
			s.closeErr = s.release()
		}
	})
	return s.closeErr
}

// Model is a streaming neural speech model. Stream returns without waiting
// for the splitter to be closed; segments are produced as the stream is
// drained.
type Model interface {
	Stream(ctx context.Context, splitter *TextSplitter, voice string) (*SegmentStream, error)
	Close() error
}
