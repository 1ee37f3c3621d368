package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	meterName  = "flagsync"
	tracerName = "flagsync"
)

// OTelProvider implements Provider using OpenTelemetry
type OTelProvider struct {
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	evaluations     metric.Int64Counter
	refreshDuration metric.Float64Histogram
	refreshes       metric.Int64Counter
	circuitState    metric.Int64ObservableGauge

	// Current circuit state (for gauge)
	currentCircuitState atomic.Value
}

// NewOTel creates a new OpenTelemetry provider using the global
// tracer and meter providers
func NewOTel() (*OTelProvider, error) {
	provider := &OTelProvider{
		tracer: otel.Tracer(tracerName),
		meter:  otel.Meter(meterName),
	}
	provider.currentCircuitState.Store("closed")

	if err := provider.initMetrics(); err != nil {
		return nil, err
	}

	return provider, nil
}

// initMetrics initializes all metrics
func (o *OTelProvider) initMetrics() error {
	var err error

	o.cacheHits, err = o.meter.Int64Counter(
		"flagsync.cache.hits",
		metric.WithDescription("Number of config cache hits"),
	)
	if err != nil {
		return err
	}

	o.cacheMisses, err = o.meter.Int64Counter(
		"flagsync.cache.misses",
		metric.WithDescription("Number of config cache misses"),
	)
	if err != nil {
		return err
	}

	o.evaluations, err = o.meter.Int64Counter(
		"flagsync.evaluations",
		metric.WithDescription("Number of flag evaluations"),
	)
	if err != nil {
		return err
	}

	o.refreshDuration, err = o.meter.Float64Histogram(
		"flagsync.refresh.duration",
		metric.WithDescription("Duration of config refresh operations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	o.refreshes, err = o.meter.Int64Counter(
		"flagsync.refreshes",
		metric.WithDescription("Number of config refreshes by outcome"),
	)
	if err != nil {
		return err
	}

	o.circuitState, err = o.meter.Int64ObservableGauge(
		"flagsync.circuit.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(o.getCircuitStateValue())
			return nil
		}),
	)
	return err
}

// getCircuitStateValue converts circuit state string to numeric value
func (o *OTelProvider) getCircuitStateValue() int64 {
	state, _ := o.currentCircuitState.Load().(string)
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}

// StartSpan creates a new trace span
func (o *OTelProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	config := &SpanConfig{}
	for _, opt := range opts {
		opt(config)
	}

	ctx, otelSpan := o.tracer.Start(ctx, name,
		trace.WithAttributes(convertAttributes(config.Attributes)...))

	return ctx, &OTelSpan{span: otelSpan}
}

// convertAttribute converts our Attribute to OTel attribute
func convertAttribute(attr Attribute) attribute.KeyValue {
	switch v := attr.Value.(type) {
	case string:
		return attribute.String(attr.Key, v)
	case int:
		return attribute.Int(attr.Key, v)
	case int64:
		return attribute.Int64(attr.Key, v)
	case bool:
		return attribute.Bool(attr.Key, v)
	case float64:
		return attribute.Float64(attr.Key, v)
	default:
		return attribute.String(attr.Key, "")
	}
}

func convertAttributes(attrs []Attribute) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, attr := range attrs {
		out[i] = convertAttribute(attr)
	}
	return out
}

// RecordCacheHit records a config cache hit
func (o *OTelProvider) RecordCacheHit(ctx context.Context) {
	o.cacheHits.Add(ctx, 1)
}

// RecordCacheMiss records a config cache miss
func (o *OTelProvider) RecordCacheMiss(ctx context.Context) {
	o.cacheMisses.Add(ctx, 1)
}

// RecordEvaluation records a flag evaluation
func (o *OTelProvider) RecordEvaluation(ctx context.Context, flagKey string, reason string) {
	o.evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flag.key", flagKey),
		attribute.String("reason", reason),
	))
}

// RecordRefresh records a config refresh operation
func (o *OTelProvider) RecordRefresh(ctx context.Context, mode string, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)

	o.refreshDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	o.refreshes.Add(ctx, 1, attrs)
}

// RecordCircuitState records the circuit breaker state
func (o *OTelProvider) RecordCircuitState(ctx context.Context, state string) {
	o.currentCircuitState.Store(state)
}

// Shutdown is a no-op, the SDK providers are owned by the caller
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	return nil
}

// OTelSpan wraps an OpenTelemetry span
type OTelSpan struct {
	span trace.Span
}

// End completes the span
func (s *OTelSpan) End() {
	s.span.End()
}

// SetAttributes sets attributes on the span
func (s *OTelSpan) SetAttributes(attrs ...Attribute) {
	s.span.SetAttributes(convertAttributes(attrs)...)
}

// RecordError records an error on the span and marks it failed
func (s *OTelSpan) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
