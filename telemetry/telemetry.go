// Package telemetry provides simple, production-ready tracing and
// metrics emission for the agentmem engine.
//
// The API is deliberately small: span event helpers that are safe to
// call with or without an active span, and counter/histogram helpers
// backed by the global OpenTelemetry meter provider.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/statecraft/agentmem"

// AddSpanEvent adds a named event to the current span.
// Events are only recorded if the span is being sampled. Safe to call
// even when no span exists in the context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// RecordSpanError records an error on the current span and sets the
// span status to Error. Safe to call when ctx or err is nil.
func RecordSpanError(ctx context.Context, err error) {
	if ctx == nil || err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanAttributes adds attributes to the current span.
// Use for business context that aids debugging and analysis.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

var (
	instrumentMu sync.Mutex
	counters     = map[string]metric.Int64Counter{}
	histograms   = map[string]metric.Float64Histogram{}
)

// Counter increments a counter metric by 1.
// Labels should be provided as key-value pairs.
// Example: Counter("recovery.attempts", "source", "fast-tier-snapshot")
func Counter(name string, labels ...string) {
	c, err := counterFor(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(labelAttrs(labels)...))
}

// Histogram records a value in a distribution.
// Used for recovery latencies and snapshot sizes.
// Example: Histogram("recovery.latency_ms", 125.3, "source", "durable-tier-snapshot")
func Histogram(name string, value float64, labels ...string) {
	h, err := histogramFor(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(labelAttrs(labels)...))
}

func counterFor(name string) (metric.Int64Counter, error) {
	instrumentMu.Lock()
	defer instrumentMu.Unlock()
	if c, ok := counters[name]; ok {
		return c, nil
	}
	c, err := otel.Meter(instrumentationName).Int64Counter(name)
	if err != nil {
		return nil, err
	}
	counters[name] = c
	return c, nil
}

func histogramFor(name string) (metric.Float64Histogram, error) {
	instrumentMu.Lock()
	defer instrumentMu.Unlock()
	if h, ok := histograms[name]; ok {
		return h, nil
	}
	h, err := otel.Meter(instrumentationName).Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	histograms[name] = h
	return h, nil
}

func labelAttrs(labels []string) []attribute.KeyValue {
	// Odd trailing label is dropped rather than panicking
	n := len(labels) / 2
	attrs := make([]attribute.KeyValue, 0, n)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}
