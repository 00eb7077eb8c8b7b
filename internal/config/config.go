package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// TelemetryConfig selects the trace exporter and where metrics are served.
// An empty trace exporter means otlp when an endpoint is set and none
// otherwise. An empty prometheus_bind serves /metrics on the HTTP port.
type TelemetryConfig struct {
	LogLevel         string  `yaml:"log_level"`
	TraceExporter    string  `yaml:"trace_exporter"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
	OTLPEndpoint     string  `yaml:"otlp_endpoint"`
	OTLPInsecure     bool    `yaml:"otlp_insecure"`
	PrometheusBind   string  `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Local       LocalConfig      `yaml:"local"`
	Remote      RemoteConfig     `yaml:"remote"`
	Captions    CaptionsConfig   `yaml:"captions"`
	Narration   NarrationConfig  `yaml:"narration"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// LocalConfig configures the on-device neural model.
type LocalConfig struct {
	Mode       string   `yaml:"mode"` // exec, mock, disabled
	Command    string   `yaml:"command"`
	Model      string   `yaml:"model"`
	Precision  string   `yaml:"precision"`
	Voice      string   `yaml:"voice"`
	Voices     []string `yaml:"voices"`
	Languages  []string `yaml:"languages"`
	SampleRate int      `yaml:"sample_rate"`
	WarmUp     bool     `yaml:"warm_up"`
}

// RemoteConfig configures the networked synthesis engine. An empty endpoint
// disables remote routing.
type RemoteConfig struct {
	Endpoint           string         `yaml:"endpoint"`
	QueryTimeoutMS     int            `yaml:"query_timeout_ms"`
	SynthesisTimeoutMS int            `yaml:"synthesis_timeout_ms"`
	ProbeTimeoutMS     int            `yaml:"probe_timeout_ms"`
	Voice              string         `yaml:"voice"`
	Speakers           map[string]int `yaml:"speakers"`
}

type CaptionsConfig struct {
	LeadInMS   int `yaml:"lead_in_ms"`
	TrailOutMS int `yaml:"trail_out_ms"`
}

type NarrationConfig struct {
	Enabled       bool `yaml:"enabled"`
	TimeoutMS     int  `yaml:"timeout_ms"`
	MaxTextLength int  `yaml:"max_text_length"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-narrator",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:         "info",
			TraceSampleRatio: 1,
			OTLPInsecure:     true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "narrator-node-1",
			Role:              "narrator",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/narrator-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRecords:    10000,
		},
		Local: LocalConfig{
			Mode:       "mock",
			Model:      "onnx-community/Kokoro-82M-v1.0-ONNX",
			Precision:  "fp32",
			Voice:      "af_heart",
			Languages:  []string{"other"},
			SampleRate: 24000,
		},
		Remote: RemoteConfig{
			QueryTimeoutMS:     30000,
			SynthesisTimeoutMS: 60000,
			ProbeTimeoutMS:     5000,
			Voice:              "zundamon",
			Speakers: map[string]int{
				"zundamon": 3,
				"metan":    2,
				"tsumugi":  8,
				"default":  3,
			},
		},
		Captions: CaptionsConfig{
			LeadInMS:   200,
			TrailOutMS: 300,
		},
		Narration: NarrationConfig{
			Enabled:       true,
			TimeoutMS:     120000,
			MaxTextLength: 5000,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// process environment. A .env file in the working directory is read first;
// it never replaces variables that are already set.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := loadDotenv(".env"); err != nil {
		return cfg, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadDotenv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "NARRATOR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NARRATOR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARRATOR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRATOR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRATOR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.TraceExporter, "NARRATOR_TELEMETRY_TRACE_EXPORTER")
	overrideFloat(&cfg.Telemetry.TraceSampleRatio, "NARRATOR_TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRATOR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRATOR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "NARRATOR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "NARRATOR_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "NARRATOR_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "NARRATOR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "NARRATOR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRATOR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRATOR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRATOR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRATOR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARRATOR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "NARRATOR_NODE_ID")
	overrideString(&cfg.Node.Role, "NARRATOR_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "NARRATOR_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "NARRATOR_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "NARRATOR_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "NARRATOR_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "NARRATOR_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRecords, "NARRATOR_EVENT_STORE_MAX_RECORDS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "NARRATOR_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Local.Mode, "NARRATOR_LOCAL_MODE")
	overrideString(&cfg.Local.Command, "NARRATOR_LOCAL_COMMAND")
	overrideString(&cfg.Local.Model, "NARRATOR_LOCAL_MODEL")
	overrideString(&cfg.Local.Precision, "NARRATOR_LOCAL_PRECISION")
	overrideString(&cfg.Local.Voice, "NARRATOR_LOCAL_VOICE")
	overrideStringSlice(&cfg.Local.Voices, "NARRATOR_LOCAL_VOICES")
	overrideStringSlice(&cfg.Local.Languages, "NARRATOR_LOCAL_LANGUAGES")
	overrideInt(&cfg.Local.SampleRate, "NARRATOR_LOCAL_SAMPLE_RATE")
	overrideBool(&cfg.Local.WarmUp, "NARRATOR_LOCAL_WARM_UP")
	overrideString(&cfg.Remote.Endpoint, "VOICEVOX_URL")
	overrideString(&cfg.Remote.Endpoint, "NARRATOR_REMOTE_ENDPOINT")
	overrideInt(&cfg.Remote.QueryTimeoutMS, "NARRATOR_REMOTE_QUERY_TIMEOUT_MS")
	overrideInt(&cfg.Remote.SynthesisTimeoutMS, "NARRATOR_REMOTE_SYNTHESIS_TIMEOUT_MS")
	overrideInt(&cfg.Remote.ProbeTimeoutMS, "NARRATOR_REMOTE_PROBE_TIMEOUT_MS")
	overrideString(&cfg.Remote.Voice, "NARRATOR_REMOTE_VOICE")
	overrideInt(&cfg.Captions.LeadInMS, "NARRATOR_CAPTIONS_LEAD_IN_MS")
	overrideInt(&cfg.Captions.TrailOutMS, "NARRATOR_CAPTIONS_TRAIL_OUT_MS")
	overrideBool(&cfg.Narration.Enabled, "NARRATOR_NARRATION_ENABLED")
	overrideInt(&cfg.Narration.TimeoutMS, "NARRATOR_NARRATION_TIMEOUT_MS")
	overrideInt(&cfg.Narration.MaxTextLength, "NARRATOR_NARRATION_MAX_TEXT_LENGTH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		// -1 asks the embedded broker for a free port.
		if cfg.Bus.Port != -1 && (cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535) {
			return errors.New("bus.port must be -1 or between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Telemetry.TraceExporter {
	case "", "otlp", "stdout", "none":
	default:
		return errors.New("telemetry.trace_exporter must be one of otlp|stdout|none")
	}
	if cfg.Telemetry.TraceExporter == "otlp" && cfg.Telemetry.OTLPEndpoint == "" {
		return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
	}
	if cfg.Telemetry.TraceSampleRatio < 0 || cfg.Telemetry.TraceSampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be between 0 and 1")
	}
	switch cfg.Local.Mode {
	case "exec", "mock", "disabled":
	default:
		return errors.New("local.mode must be one of exec|mock|disabled")
	}
	if cfg.Local.Mode == "exec" && cfg.Local.Command == "" {
		return errors.New("local.command must be set when mode=exec")
	}
	switch cfg.Local.Precision {
	case "fp32", "fp16", "q8", "q4", "q4f16":
	default:
		return errors.New("local.precision must be one of fp32|fp16|q8|q4|q4f16")
	}
	if cfg.Local.Mode == "mock" && cfg.Local.SampleRate <= 0 {
		return errors.New("local.sample_rate must be positive")
	}
	for _, lang := range cfg.Local.Languages {
		switch lang {
		case "japanese", "other":
		default:
			return fmt.Errorf("local.languages: unknown language %q", lang)
		}
	}
	if cfg.Remote.Endpoint != "" {
		if !strings.HasPrefix(cfg.Remote.Endpoint, "http://") && !strings.HasPrefix(cfg.Remote.Endpoint, "https://") {
			return errors.New("remote.endpoint must be an http(s) URL")
		}
		if cfg.Remote.QueryTimeoutMS <= 0 || cfg.Remote.SynthesisTimeoutMS <= 0 {
			return errors.New("remote timeouts must be positive")
		}
		if _, ok := cfg.Remote.Speakers["default"]; !ok {
			return errors.New("remote.speakers must contain a default entry")
		}
	}
	if cfg.Captions.LeadInMS < 0 || cfg.Captions.TrailOutMS < 0 {
		return errors.New("captions offsets must be >= 0")
	}
	if cfg.Narration.TimeoutMS <= 0 {
		return errors.New("narration.timeout_ms must be positive")
	}
	if cfg.Narration.MaxTextLength < 0 {
		return errors.New("narration.max_text_length must be >= 0")
	}
	return nil
}
