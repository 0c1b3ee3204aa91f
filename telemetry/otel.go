package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelProvider owns the tracer provider for the engine process
type OTelProvider struct {
	tracer        trace.Tracer
	traceProvider *sdktrace.TracerProvider
}

// NewOTelProvider creates an OpenTelemetry provider exporting spans
// over OTLP gRPC to the given collector endpoint. The provider is
// installed globally so the span helpers in this package pick it up.
func NewOTelProvider(serviceName string, endpoint string) (*OTelProvider, error) {
	res, err := buildResource(serviceName)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	return newProvider(res, sdktrace.WithBatcher(exporter)), nil
}

// NewStdoutProvider creates a provider that writes spans to stdout,
// for local development where no collector is running.
func NewStdoutProvider(serviceName string) (*OTelProvider, error) {
	res, err := buildResource(serviceName)
	if err != nil {
		return nil, err
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	return newProvider(res, sdktrace.WithBatcher(exporter)), nil
}

func buildResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func newProvider(res *resource.Resource, opts ...sdktrace.TracerProviderOption) *OTelProvider {
	opts = append(opts, sdktrace.WithResource(res))
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &OTelProvider{
		tracer:        tp.Tracer(instrumentationName),
		traceProvider: tp,
	}
}

// StartSpan starts a span for an engine operation
func (o *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name)
}

// Shutdown flushes and stops the trace provider
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	if o.traceProvider == nil {
		return nil
	}
	return o.traceProvider.Shutdown(ctx)
}
