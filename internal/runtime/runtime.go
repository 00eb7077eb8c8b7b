package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/capability"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/eventstore"
	"github.com/loqalabs/loqa-narrator/internal/narration"
	"github.com/loqalabs/loqa-narrator/internal/natsserver"
)

const (
	pruneInterval       = time.Hour
	remoteProbeInterval = 30 * time.Second
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	telemetry  *telemetry
	ready      atomic.Bool
	wg         sync.WaitGroup

	nats      *natsserver.EmbeddedServer
	bus       *bus.Client
	store     *eventstore.Store
	backends  *Backends
	pipeline  *narration.Pipeline
	service   *narration.Service
	registry  *capability.Registry
	closeOnce sync.Once
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires the narration node and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	if err := r.startServices(ctx); err != nil {
		r.close()
		_ = tel.shutdown(context.Background())
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if handler := tel.sharedMetrics(); handler != nil {
		mux.Handle("/metrics", handler)
	}
	(&api{
		narrator: r.pipeline,
		history:  r.store,
		voices:   r.backends.Router,
		nodes:    r.registry,
		logger:   r.logger.With(slog.String("component", "http-api")),
	}).register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runRetention(ctx)
	}()

	if r.backends.Remote != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.watchRemote(ctx)
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.close()

	if err := r.telemetry.shutdown(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	busCfg := r.cfg.Bus
	server, err := natsserver.Start(busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return err
	}
	r.nats = server
	if server != nil {
		busCfg.Servers = []string{server.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return err
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	r.backends, err = BuildBackends(ctx, r.cfg, r.logger)
	if err != nil {
		return err
	}
	r.backends.Probe(ctx, r.logger)

	r.pipeline = r.newPipeline()
	r.service = narration.NewService(ctx, r.cfg.Narration, r.bus, r.pipeline, r.logger)
	if err := r.service.Start(); err != nil {
		return fmt.Errorf("start narration service: %w", err)
	}

	r.registry, err = capability.NewRegistry(ctx, r.cfg.Node, r.bus, r.backends.Capabilities(r.cfg), r.logger,
		capability.WithLoad(r.service.InFlight))
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}
	return nil
}

func (r *Runtime) newPipeline() *narration.Pipeline {
	return NewPipeline(r.cfg, r.backends.Router, r.store, r.logger)
}

func (r *Runtime) runRetention(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("narration history prune failed", slogError(err))
			}
		}
	}
}

// watchRemote re-probes the remote engine and re-announces this node when
// its reachability changes.
func (r *Runtime) watchRemote(ctx context.Context) {
	ticker := time.NewTicker(remoteProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.backends.Probe(ctx, r.logger) {
				continue
			}
			if err := r.registry.SetCapabilities(r.backends.Capabilities(r.cfg)); err != nil {
				r.logger.Warn("failed to announce capability change", slogError(err))
			}
		}
	}
}

func (r *Runtime) close() {
	r.closeOnce.Do(func() {
		if r.registry != nil {
			r.registry.Close()
		}
		if r.service != nil {
			r.service.Close()
		}
		if r.backends != nil {
			if err := r.backends.Close(); err != nil {
				r.logger.Warn("failed to close local model", slogError(err))
			}
		}
		if r.store != nil {
			if err := r.store.Close(); err != nil {
				r.logger.Warn("failed to close event store", slogError(err))
			}
		}
		r.bus.Close()
		r.nats.Shutdown()
	})
}

func (r *Runtime) healthy() bool {
	if !r.bus.Healthy() {
		return false
	}
	if r.service != nil && !r.service.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
