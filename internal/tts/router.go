package tts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-narrator/internal/language"
)

// Backend identifies the engine a request is routed to.
type Backend int

const (
	BackendLocal Backend = iota + 1
	BackendRemote
)

func (b Backend) String() string {
	switch b {
	case BackendLocal:
		return "local"
	case BackendRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Route is the backend chosen for one request.
type Route struct {
	Backend  Backend
	Language language.Language
}

// LocalBackend is the local model as seen by the router.
type LocalBackend interface {
	Generator
	Available() bool
	Supports(language.Language) bool
}

// Router picks a backend per request from the availability fixed at
// construction. It never falls back from one backend to another.
type Router struct {
	local  LocalBackend
	remote Generator
	logger *slog.Logger
}

// NewRouter builds a router. A nil remote disables remote routing.
func NewRouter(local LocalBackend, remote Generator, logger *slog.Logger) *Router {
	return &Router{
		local:  local,
		remote: remote,
		logger: logger.With(slog.String("component", "tts-router")),
	}
}

func (r *Router) localAvailable() bool {
	return r.local != nil && r.local.Available()
}

// RemoteConfigured reports whether Japanese text goes to the remote engine.
func (r *Router) RemoteConfigured() bool { return r.remote != nil }

// Resolve selects the backend for lang.
func (r *Router) Resolve(lang language.Language) (Route, error) {
	switch lang {
	case language.Japanese:
		if r.remote != nil {
			return Route{Backend: BackendRemote, Language: lang}, nil
		}
		if r.localAvailable() && r.local.Supports(lang) {
			return Route{Backend: BackendLocal, Language: lang}, nil
		}
	default:
		if r.localAvailable() {
			return Route{Backend: BackendLocal, Language: lang}, nil
		}
	}
	return Route{}, fmt.Errorf("%w for %s text", ErrBackendUnavailable, lang)
}

// Synthesize routes req and runs the chosen backend. Backend errors are
// returned unchanged.
func (r *Router) Synthesize(ctx context.Context, req Request) (Result, Route, error) {
	lang := req.Language
	if lang == "" {
		lang = language.Classify(req.Text)
	}
	route, err := r.Resolve(lang)
	if err != nil {
		return Result{}, Route{}, err
	}
	r.logger.Debug("routing synthesis",
		slog.String("backend", route.Backend.String()),
		slog.String("language", string(lang)))

	var result Result
	switch route.Backend {
	case BackendRemote:
		result, err = r.remote.Generate(ctx, req.Text, req.Voice)
	case BackendLocal:
		result, err = r.local.Generate(ctx, req.Text, req.Voice)
	}
	if err != nil {
		return Result{}, route, err
	}
	return result, route, nil
}

// Voices lists the voices of the backend that serves Japanese text when a
// remote engine is configured, otherwise those of the local model.
func (r *Router) Voices() []string {
	if r.remote != nil {
		return r.remote.Voices()
	}
	if r.localAvailable() {
		return r.local.Voices()
	}
	return nil
}
