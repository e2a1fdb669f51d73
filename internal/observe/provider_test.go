package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// restoreGlobals puts back the OTel globals Setup replaces.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp, prop := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func setupTelemetry(t *testing.T, cfg TelemetryConfig) *Telemetry {
	t.Helper()
	restoreGlobals(t)
	tel, err := Setup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

func TestSetup_ExportsPipelineMetricsToRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	setupTelemetry(t, TelemetryConfig{Version: "test", Registry: reg})

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordPipelineRun(context.Background(), "error", "convert")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawRuns, sawGo bool
	for _, f := range families {
		switch {
		case strings.HasPrefix(f.GetName(), "talkback_pipeline_runs"):
			sawRuns = true
		case f.GetName() == "go_goroutines":
			sawGo = true
		}
	}
	if !sawRuns {
		t.Error("talkback_pipeline_runs not exported to registry")
	}
	if !sawGo {
		t.Error("go runtime collector not registered")
	}
}

func TestSetup_RequestSpansReachExporter(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tel := setupTelemetry(t, TelemetryConfig{Registry: prometheus.NewRegistry(), SpanExporter: exp})

	_, span := RequestSpan(context.Background(), "pipeline.run", "req-1")
	span.End()
	if err := tel.Tracers.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "pipeline.run" {
		t.Fatalf("exported spans = %v", spans)
	}
	if got, ok := spans[0].Resource.Set().Value(semconv.ServiceNameKey); !ok || got.AsString() != ServiceName {
		t.Errorf("service.name = %q, want %q", got.AsString(), ServiceName)
	}
}

func TestSetup_ServiceNameFromEnvironment(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "avatar-eu")
	tel := setupTelemetry(t, TelemetryConfig{Version: "1.2.3", Registry: prometheus.NewRegistry()})

	set := tel.Resource.Set()
	if got, _ := set.Value(semconv.ServiceNameKey); got.AsString() != "avatar-eu" {
		t.Errorf("service.name = %q, want avatar-eu", got.AsString())
	}
	if got, _ := set.Value(semconv.ServiceVersionKey); got.AsString() != "1.2.3" {
		t.Errorf("service.version = %q, want 1.2.3", got.AsString())
	}
}

func TestSetup_RequiresRegistry(t *testing.T) {
	t.Parallel()
	if _, err := Setup(context.Background(), TelemetryConfig{}); err == nil {
		t.Fatal("expected error without a registry")
	}
}

func TestSetup_RegistryReusedFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	setupTelemetry(t, TelemetryConfig{Registry: reg})

	restoreGlobals(t)
	if _, err := Setup(context.Background(), TelemetryConfig{Registry: reg}); err == nil {
		t.Fatal("expected duplicate collector registration to fail")
	}
}
