// Package tracing configures OpenTelemetry for the coding pipeline and
// defines the span attribute vocabulary shared by the API, worker and
// relay, so a coding job can be followed across all three by its job ID.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Span attribute keys for the coding pipeline. Every service tags its spans
// with these rather than ad hoc strings.
const (
	keyJobID    = attribute.Key("coding.job_id")
	keyBundleID = attribute.Key("coding.bundle_id")
	keyPayer    = attribute.Key("coding.payer")
	keySource   = attribute.Key("coding.intake_source")
)

// JobID tags a span with the coding job identifier.
func JobID(id string) attribute.KeyValue { return keyJobID.String(id) }

// BundleID tags a span with the assembled bundle identifier.
func BundleID(id string) attribute.KeyValue { return keyBundleID.String(id) }

// Payer tags a span with the claim's payer, the unit the export breakers
// partition on.
func Payer(name string) attribute.KeyValue { return keyPayer.String(name) }

// Source tags a span with the envelope's declared intake source.
func Source(name string) attribute.KeyValue { return keySource.String(name) }

// Config holds tracer provider settings for one pipeline service.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	// SampleRate is the head-sampling ratio; coding traffic is low enough
	// that the default keeps every trace.
	SampleRate float64
}

// DefaultConfig returns settings for the named service, with the
// environment and collector endpoint taken from DEPLOY_ENV and
// OTLP_ENDPOINT when set.
func DefaultConfig(serviceName string) Config {
	cfg := Config{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
	}
	if env := os.Getenv("DEPLOY_ENV"); env != "" {
		cfg.Environment = env
	}
	if ep := os.Getenv("OTLP_ENDPOINT"); ep != "" {
		cfg.OTLPEndpoint = ep
	}
	return cfg
}

// Provider owns the tracer provider lifecycle for a service process.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Init installs the global tracer provider and W3C propagators. The
// returned Provider must be shut down on exit to flush pending spans.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp}, nil
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}
