package protocol

import (
	"time"

	"github.com/loqalabs/loqa-narrator/internal/captions"
)

// NarrationRequest asks a node to voice text and time its captions.
type NarrationRequest struct {
	RequestID    string `json:"request_id,omitempty"`
	Text         string `json:"text"`
	Voice        string `json:"voice,omitempty"`
	IncludeAudio bool   `json:"include_audio,omitempty"`
}

// NarrationReply is the answer to a NarrationRequest. Audio is only set when
// requested; Error is set instead of every other result field on failure.
// A reply whose audio would exceed the bus max payload keeps its other
// result fields and carries ErrorKindPayloadTooLarge instead of Audio.
type NarrationReply struct {
	RequestID          string             `json:"request_id"`
	Language           string             `json:"language,omitempty"`
	Backend            string             `json:"backend,omitempty"`
	AudioLengthSeconds float64            `json:"audio_length_seconds,omitempty"`
	AudioBytes         int                `json:"audio_bytes,omitempty"`
	Audio              []byte             `json:"audio,omitempty"`
	Captions           []captions.Caption `json:"captions,omitempty"`
	Error              string             `json:"error,omitempty"`
	ErrorKind          string             `json:"error_kind,omitempty"`
}

// NarrationStatus is broadcast once a narration finishes.
type NarrationStatus struct {
	RequestID string    `json:"request_id"`
	Backend   string    `json:"backend,omitempty"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Capability is one feature advertised by a node.
type Capability struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NodeAnnouncement is published when a node joins.
type NodeAnnouncement struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

// NodeHeartbeat is published periodically by every node.
type NodeHeartbeat struct {
	NodeID    string    `json:"node_id"`
	InFlight  int       `json:"in_flight"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectNarrationRequest = "narration.request"
	SubjectNarrationDone    = "narration.done"
	SubjectNodeAnnounce     = "ctrl.node.announce"
	SubjectNodeHeartbeat    = "ctrl.node.heartbeat"
)

// Error kinds carried by NarrationReply.
const (
	ErrorKindInvalid     = "invalid_request"
	ErrorKindUnavailable = "backend_unavailable"
	ErrorKindNetwork     = "network"
	ErrorKindSynthesis   = "synthesis"
	ErrorKindMerge       = "merge"
	ErrorKindInternal    = "internal"
	// The narration succeeded but its audio did not fit in a bus message.
	ErrorKindPayloadTooLarge = "payload_too_large"
)
