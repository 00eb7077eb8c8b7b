package runtime

import (
	"context"
	"testing"

	"github.com/loqalabs/loqa-narrator/internal/config"
)

func TestTraceExporterSelection(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.TelemetryConfig
		want string
	}{
		{name: "default", cfg: config.TelemetryConfig{}, want: "none"},
		{name: "endpoint implies otlp", cfg: config.TelemetryConfig{OTLPEndpoint: "collector:4317"}, want: "otlp"},
		{name: "explicit stdout", cfg: config.TelemetryConfig{TraceExporter: "stdout", OTLPEndpoint: "collector:4317"}, want: "stdout"},
		{name: "explicit none", cfg: config.TelemetryConfig{TraceExporter: "none"}, want: "none"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := traceExporter(tc.cfg); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestSetupTelemetrySharesMetricsWithoutBind(t *testing.T) {
	cfg := config.Default()
	tel, err := setupTelemetry(cfg, testLogger())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.shutdown(context.Background()) })

	if tel.server != nil {
		t.Fatalf("expected no separate metrics listener")
	}
	if tel.sharedMetrics() == nil {
		t.Fatalf("expected /metrics on the main mux")
	}
}
