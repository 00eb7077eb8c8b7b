package natsserver

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, "narrator-test", testLogger())
	if err != nil || srv != nil {
		t.Fatalf("expected no server, got %v, %v", srv, err)
	}
	if srv.ClientURL() != "" {
		t.Fatalf("nil server must have no client url")
	}
	srv.Shutdown()
}

func TestStartRequiresConfiguredToken(t *testing.T) {
	cfg := config.BusConfig{Embedded: true, Port: -1, Token: "s3cret", ConnectTimeout: 2000}
	srv, err := Start(cfg, "narrator-test", testLogger())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, "token-client", testLogger())
	if err != nil {
		t.Fatalf("connect with token: %v", err)
	}
	if !client.Healthy() {
		t.Fatalf("expected healthy client")
	}
	client.Close()

	cfg.Token = "wrong"
	if _, err := bus.Connect(context.Background(), cfg, "bad-client", testLogger()); err == nil {
		t.Fatalf("expected authorization failure")
	}
}

func TestServerOptionsRejectMixedAuth(t *testing.T) {
	_, err := serverOptions(config.BusConfig{Token: "t", Username: "u", Password: "p"}, "narrator")
	if err == nil {
		t.Fatalf("expected error for token plus user credentials")
	}
	opts, err := serverOptions(config.BusConfig{Username: "u", Password: "p", Port: 4222}, "narrator")
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Host != "127.0.0.1" || opts.Username != "u" || opts.ServerName != "narrator" {
		t.Fatalf("unexpected options %+v", opts)
	}
}
