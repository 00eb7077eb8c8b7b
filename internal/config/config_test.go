package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Remote.Endpoint != "" {
		t.Fatalf("expected remote disabled by default, got %q", cfg.Remote.Endpoint)
	}
	if cfg.Remote.Speakers["zundamon"] != 3 || cfg.Remote.Speakers["default"] != 3 {
		t.Fatalf("unexpected speaker table %v", cfg.Remote.Speakers)
	}
	if cfg.Captions.LeadInMS != 200 || cfg.Captions.TrailOutMS != 300 {
		t.Fatalf("unexpected caption offsets %+v", cfg.Captions)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NARRATOR_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("NARRATOR_BUS_USERNAME", "alice")
	t.Setenv("NARRATOR_BUS_PASSWORD", "secret")
	t.Setenv("NARRATOR_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("NARRATOR_NODE_ID", "test-node")
	t.Setenv("NARRATOR_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("NARRATOR_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("NARRATOR_EVENT_STORE_MAX_RECORDS", "123")
	t.Setenv("NARRATOR_LOCAL_MODE", "exec")
	t.Setenv("NARRATOR_LOCAL_COMMAND", "python3 kokoro_worker.py")
	t.Setenv("NARRATOR_LOCAL_PRECISION", "q8")
	t.Setenv("NARRATOR_LOCAL_LANGUAGES", "other, japanese")
	t.Setenv("NARRATOR_REMOTE_ENDPOINT", "http://voicevox:50021")
	t.Setenv("NARRATOR_REMOTE_SYNTHESIS_TIMEOUT_MS", "1000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.EventStore.MaxRecords != 123 {
		t.Fatalf("expected event store max records override")
	}
	if cfg.Local.Mode != "exec" || cfg.Local.Command != "python3 kokoro_worker.py" || cfg.Local.Precision != "q8" {
		t.Fatalf("expected local overrides, got %+v", cfg.Local)
	}
	if len(cfg.Local.Languages) != 2 || cfg.Local.Languages[1] != "japanese" {
		t.Fatalf("expected languages override, got %v", cfg.Local.Languages)
	}
	if cfg.Remote.Endpoint != "http://voicevox:50021" {
		t.Fatalf("expected remote endpoint override, got %q", cfg.Remote.Endpoint)
	}
	if cfg.Remote.SynthesisTimeoutMS != 1000 {
		t.Fatalf("expected synthesis timeout override")
	}
}

func TestVoicevoxURLAlias(t *testing.T) {
	t.Setenv("VOICEVOX_URL", "http://localhost:50021")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Remote.Endpoint != "http://localhost:50021" {
		t.Fatalf("expected VOICEVOX_URL to set remote endpoint, got %q", cfg.Remote.Endpoint)
	}

	t.Setenv("NARRATOR_REMOTE_ENDPOINT", "http://other:50021")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Remote.Endpoint != "http://other:50021" {
		t.Fatalf("expected NARRATOR_REMOTE_ENDPOINT to win, got %q", cfg.Remote.Endpoint)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrator.yaml")
	content := []byte(`
runtime_name: test-narrator
local:
  mode: disabled
remote:
  endpoint: http://127.0.0.1:50021
  speakers:
    default: 1
    zundamon: 3
captions:
  lead_in_ms: 100
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "test-narrator" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.Local.Mode != "disabled" {
		t.Fatalf("expected local mode from file, got %q", cfg.Local.Mode)
	}
	if cfg.Remote.Speakers["default"] != 1 {
		t.Fatalf("expected speaker table from file, got %v", cfg.Remote.Speakers)
	}
	if cfg.Captions.LeadInMS != 100 || cfg.Captions.TrailOutMS != 300 {
		t.Fatalf("expected partial captions override, got %+v", cfg.Captions)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"exec without command": func(c *Config) {
			c.Local.Mode = "exec"
			c.Local.Command = ""
		},
		"unknown precision": func(c *Config) { c.Local.Precision = "int3" },
		"unknown mode":      func(c *Config) { c.Local.Mode = "cloud" },
		"unknown language":  func(c *Config) { c.Local.Languages = []string{"klingon"} },
		"remote without scheme": func(c *Config) {
			c.Remote.Endpoint = "voicevox:50021"
		},
		"remote without default speaker": func(c *Config) {
			c.Remote.Endpoint = "http://voicevox:50021"
			c.Remote.Speakers = map[string]int{"zundamon": 3}
		},
		"negative lead in":       func(c *Config) { c.Captions.LeadInMS = -1 },
		"unknown trace exporter": func(c *Config) { c.Telemetry.TraceExporter = "zipkin" },
		"otlp without endpoint": func(c *Config) {
			c.Telemetry.TraceExporter = "otlp"
			c.Telemetry.OTLPEndpoint = ""
		},
		"sample ratio above one": func(c *Config) { c.Telemetry.TraceSampleRatio = 1.5 },
		"embedded bus port zero": func(c *Config) {
			c.Bus.Embedded = true
			c.Bus.Port = 0
		},
		"embedded bus port below -1": func(c *Config) {
			c.Bus.Embedded = true
			c.Bus.Port = -2
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestEmbeddedBusAcceptsFreePort(t *testing.T) {
	t.Setenv("NARRATOR_BUS_EMBEDDED", "true")
	t.Setenv("NARRATOR_BUS_PORT", "-1")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Bus.Embedded || cfg.Bus.Port != -1 {
		t.Fatalf("expected embedded bus on a free port, got %+v", cfg.Bus)
	}
}

func TestDotenvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("NARRATOR_NODE_ROLE=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("NARRATOR_NODE_ROLE", "from-env")

	if err := loadDotenv(filepath.Join(dir, ".env")); err != nil {
		t.Fatalf("loadDotenv: %v", err)
	}
	if got := os.Getenv("NARRATOR_NODE_ROLE"); got != "from-env" {
		t.Fatalf("expected existing variable to win, got %q", got)
	}
	if err := loadDotenv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing dotenv should be ignored: %v", err)
	}
}
