package runtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/papercast/internal/config"
)

func TestSpanExporterSelection(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.TelemetryConfig
		want string
	}{
		{name: "quiet", cfg: config.TelemetryConfig{LogLevel: "info"}, want: "none"},
		{name: "debug", cfg: config.TelemetryConfig{LogLevel: "DEBUG"}, want: "stdout"},
		{name: "collector", cfg: config.TelemetryConfig{LogLevel: "debug", OTLPEndpoint: "localhost:4317", OTLPInsecure: true}, want: "otlp"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exp, kind, err := spanExporter(tc.cfg)
			if err != nil {
				t.Fatalf("exporter: %v", err)
			}
			if kind != tc.want {
				t.Fatalf("got %s exporter, want %s", kind, tc.want)
			}
			if (exp == nil) != (tc.want == "none") {
				t.Fatalf("unexpected exporter %v for %s", exp, kind)
			}
			if exp != nil {
				_ = exp.Shutdown(context.Background())
			}
		})
	}
}

func TestSetupTelemetryServesMetrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, handler, err := setupTelemetry(config.Default(), "test", logger)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()
	if handler == nil {
		t.Fatal("expected a scrape handler")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatal("runtime metrics missing from scrape")
	}
}
