package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/loqalabs/loqa-narrator/internal/capability"
	"github.com/loqalabs/loqa-narrator/internal/captions"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/narration"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

// Backends holds the synthesis engines built from configuration.
type Backends struct {
	Router *tts.Router
	Local  *tts.LocalSynthesizer
	Remote *tts.RemoteClient

	remoteReachable atomic.Bool
	probed          atomic.Bool
}

// BuildBackends constructs the remote client (when an endpoint is set), the
// local model and the router over them. The local model is not loaded when a
// remote endpoint is configured.
func BuildBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}
	var remote tts.Generator
	if cfg.Remote.Endpoint != "" {
		client, err := tts.NewRemoteClient(cfg.Remote, logger)
		if err != nil {
			return nil, fmt.Errorf("create remote client: %w", err)
		}
		b.Remote = client
		remote = client
	}

	local, err := tts.InitLocal(ctx, cfg.Local, cfg.Remote.Endpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize local model: %w", err)
	}
	b.Local = local
	b.Router = tts.NewRouter(local, remote, logger)
	return b, nil
}

// Probe checks the remote engine and reports whether its reachability
// changed since the last probe. The first probe always counts as a change.
func (b *Backends) Probe(ctx context.Context, logger *slog.Logger) bool {
	if b.Remote == nil {
		return false
	}
	speakers, err := b.Remote.Speakers(ctx)
	reachable := err == nil
	first := !b.probed.Swap(true)
	if b.remoteReachable.Swap(reachable) == reachable && !first {
		return false
	}
	if err != nil {
		logger.Warn("remote engine not reachable", slog.String("endpoint", b.Remote.Endpoint()), slogError(err))
	} else {
		logger.Info("remote engine reachable", slog.String("endpoint", b.Remote.Endpoint()), slog.Int("speakers", len(speakers)))
	}
	return true
}

// Capabilities describes the backends for node announcements.
func (b *Backends) Capabilities(cfg config.Config) []protocol.Capability {
	desc := capability.Backends{
		LocalAvailable: b.Local.Available(),
		LocalLanguages: cfg.Local.Languages,
		LocalVoices:    b.Local.Voices(),
	}
	if b.Remote != nil {
		desc.RemoteEndpoint = b.Remote.Endpoint()
		desc.RemoteVoices = b.Remote.Voices()
		desc.RemoteReachable = b.remoteReachable.Load()
	}
	return capability.Describe(desc)
}

// Close releases the local model.
func (b *Backends) Close() error {
	return b.Local.Close()
}

// NewPipeline wires synth into a narration pipeline using the caption and
// narration settings from cfg. history may be nil.
func NewPipeline(cfg config.Config, synth narration.Synthesizer, history narration.History, logger *slog.Logger) *narration.Pipeline {
	return narration.NewPipeline(synth, narration.Options{
		Allocator: captions.Allocator{
			LeadInMS:   float64(cfg.Captions.LeadInMS),
			TrailOutMS: float64(cfg.Captions.TrailOutMS),
		},
		MaxTextLength: cfg.Narration.MaxTextLength,
		History:       history,
	}, logger)
}
