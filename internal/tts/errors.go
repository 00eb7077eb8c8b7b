package tts

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable reports that no configured backend can speak the
	// requested language.
	ErrBackendUnavailable = errors.New("no synthesis backend available")
	// ErrModelNotInitialized reports a local synthesizer built without a model.
	ErrModelNotInitialized = errors.New("local model not initialized")
)

// Remote protocol phases carried by NetworkError.
const (
	PhaseQuery     = "audio_query"
	PhaseSynthesis = "synthesis"
	PhaseSpeakers  = "speakers"
)

// NetworkError is returned when a remote call fails, times out or answers
// with a non-success status.
type NetworkError struct {
	Phase      string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s: status %d: %v", e.Phase, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Phase, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SynthesisError is returned when the local model is missing or fails.
type SynthesisError struct {
	Op  string
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("local synthesis %s: %v", e.Op, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
