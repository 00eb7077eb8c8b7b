package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-narrator/internal/capability"
	"github.com/loqalabs/loqa-narrator/internal/eventstore"
	"github.com/loqalabs/loqa-narrator/internal/narration"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
)

const maxRequestBody = 1 << 20

type historyReader interface {
	List(ctx context.Context, limit int) ([]eventstore.Record, error)
	Get(ctx context.Context, requestID string) (eventstore.Record, error)
}

type voiceLister interface {
	Voices() []string
}

type nodeQuerier interface {
	Query(filter func(capability.NodeInfo) bool) []capability.NodeInfo
}

// api serves the narration HTTP endpoints.
type api struct {
	narrator narration.Narrator
	history  historyReader
	voices   voiceLister
	nodes    nodeQuerier
	logger   *slog.Logger
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/narrations", a.handleNarrate)
	mux.HandleFunc("GET /v1/narrations", a.handleHistory)
	mux.HandleFunc("GET /v1/narrations/{id}", a.handleHistoryItem)
	mux.HandleFunc("GET /v1/voices", a.handleVoices)
	mux.HandleFunc("GET /v1/nodes", a.handleNodes)
}

func (a *api) handleNarrate(w http.ResponseWriter, r *http.Request) {
	var req protocol.NarrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.NarrationReply{Error: err.Error(), ErrorKind: protocol.ErrorKindInvalid})
		return
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	out, err := a.narrator.Narrate(r.Context(), narration.Request{RequestID: req.RequestID, Text: req.Text, Voice: req.Voice})
	reply := narration.Reply(req.RequestID, out, err, req.IncludeAudio)
	if err != nil {
		writeJSON(w, statusFor(reply.ErrorKind), reply)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func statusFor(kind string) int {
	switch kind {
	case protocol.ErrorKindInvalid:
		return http.StatusBadRequest
	case protocol.ErrorKindUnavailable:
		return http.StatusServiceUnavailable
	case protocol.ErrorKindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeJSON(w, http.StatusOK, []eventstore.Record{})
		return
	}
	limit := 50
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	records, err := a.history.List(r.Context(), limit)
	if err != nil {
		a.logger.Warn("failed to list narrations", slogError(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	if records == nil {
		records = []eventstore.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *api) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": eventstore.ErrNotFound.Error()})
		return
	}
	rec, err := a.history.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, eventstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		a.logger.Warn("failed to read narration", slogError(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		eventstore.Record
		Captions json.RawMessage `json:"captions,omitempty"`
	}{Record: rec, Captions: json.RawMessage(rec.Captions)})
}

func (a *api) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := a.voices.Voices()
	if voices == nil {
		voices = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"voices": voices})
}

func (a *api) handleNodes(w http.ResponseWriter, r *http.Request) {
	if a.nodes == nil {
		writeJSON(w, http.StatusOK, []capability.NodeInfo{})
		return
	}
	var filter func(capability.NodeInfo) bool
	if name := r.URL.Query().Get("capability"); name != "" {
		filter = capability.WithCapabilityFilter(name)
	}
	nodes := a.nodes.Query(filter)
	if nodes == nil {
		nodes = []capability.NodeInfo{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
