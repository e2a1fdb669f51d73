package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName is reported as service.name unless OTEL_SERVICE_NAME overrides it.
const ServiceName = "talkback"

// TelemetryConfig configures [Setup].
type TelemetryConfig struct {
	// Version is reported as service.version.
	Version string

	// Registry backs the /metrics endpoint. The OTel exporter and the Go
	// runtime and process collectors register with it. Required.
	Registry *prometheus.Registry

	// SpanExporter receives finished spans in batches. When nil, spans are
	// still recorded (so trace IDs reach logs and X-Correlation-ID) but go
	// nowhere.
	SpanExporter sdktrace.SpanExporter
}

// Telemetry owns the SDK providers that [Setup] installs as the OTel globals.
type Telemetry struct {
	Resource *resource.Resource
	Meters   *sdkmetric.MeterProvider
	Tracers  *sdktrace.TracerProvider
}

// Setup builds the meter and tracer providers, installs them and the W3C
// Trace Context propagator globally, and returns them for shutdown.
// OTEL_SERVICE_NAME and OTEL_RESOURCE_ATTRIBUTES from the environment are
// merged into the resource.
func Setup(ctx context.Context, cfg TelemetryConfig) (*Telemetry, error) {
	if cfg.Registry == nil {
		return nil, errors.New("observe: prometheus registry is required")
	}

	// The SDK's own detectors use a newer semconv schema than ours, and
	// resource.New refuses to merge conflicting schema URLs.
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := cfg.Registry.Register(c); err != nil {
			return nil, fmt.Errorf("observe: register collector: %w", err)
		}
	}
	exp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registry))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.SpanExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.SpanExporter))
	}

	t := &Telemetry{
		Resource: res,
		Meters:   sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp)),
		Tracers:  sdktrace.NewTracerProvider(tpOpts...),
	}
	otel.SetMeterProvider(t.Meters)
	otel.SetTracerProvider(t.Tracers)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return t, nil
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Tracers.Shutdown(ctx), t.Meters.Shutdown(ctx))
}
