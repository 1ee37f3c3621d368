package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupOTelTest initializes OpenTelemetry for testing
func setupOTelTest(t *testing.T) (*OTelProvider, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)

	provider, err := NewOTel()
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		_ = provider.Shutdown(ctx)
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
	})

	return provider, reader, recorder
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()

	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewOTel(t *testing.T) {
	provider, _, _ := setupOTelTest(t)

	assert.NotNil(t, provider.tracer)
	assert.NotNil(t, provider.meter)
	assert.NotNil(t, provider.evaluations)
	assert.NotNil(t, provider.refreshes)
	assert.NotNil(t, provider.refreshDuration)
	assert.NotNil(t, provider.circuitState)
}

func TestOTelProvider_RecordEvaluation(t *testing.T) {
	provider, reader, _ := setupOTelTest(t)
	ctx := context.Background()

	provider.RecordEvaluation(ctx, "flag-a", "targeting_rule")
	provider.RecordEvaluation(ctx, "flag-a", "default")
	provider.RecordEvaluation(ctx, "flag-b", "no_user")

	metrics := collect(t, reader)
	require.Contains(t, metrics, "flagsync.evaluations")
	assert.Equal(t, int64(3), sumOf(t, metrics["flagsync.evaluations"]))
}

func TestOTelProvider_RecordRefresh(t *testing.T) {
	provider, reader, _ := setupOTelTest(t)
	ctx := context.Background()

	provider.RecordRefresh(ctx, "auto", OutcomeChanged, 12*time.Millisecond)
	provider.RecordRefresh(ctx, "auto", OutcomeUnchanged, 3*time.Millisecond)

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, metrics["flagsync.refreshes"]))

	hist, ok := metrics["flagsync.refresh.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)

	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestOTelProvider_CacheCounters(t *testing.T) {
	provider, reader, _ := setupOTelTest(t)
	ctx := context.Background()

	provider.RecordCacheHit(ctx)
	provider.RecordCacheHit(ctx)
	provider.RecordCacheMiss(ctx)

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, metrics["flagsync.cache.hits"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["flagsync.cache.misses"]))
}

func TestOTelProvider_CircuitState(t *testing.T) {
	provider, _, _ := setupOTelTest(t)

	tests := []struct {
		state    string
		expected int64
	}{
		{"closed", 0},
		{"open", 1},
		{"half-open", 2},
		{"unknown", 0},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			provider.RecordCircuitState(context.Background(), tt.state)
			assert.Equal(t, tt.expected, provider.getCircuitStateValue())
		})
	}
}

func TestOTelProvider_StartSpan(t *testing.T) {
	provider, _, recorder := setupOTelTest(t)

	_, span := provider.StartSpan(context.Background(), "configservice.refresh",
		WithAttributes(String("mode", "lazy"), Int("attempt", 1), Bool("changed", false)))
	span.SetAttributes(Duration("elapsed", 5*time.Millisecond))
	span.RecordError(errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "configservice.refresh", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

func TestNoOpProvider(t *testing.T) {
	p := NewNoOp()
	ctx := context.Background()

	newCtx, span := p.StartSpan(ctx, "noop")
	assert.Equal(t, ctx, newCtx)

	span.SetAttributes(String("k", "v"))
	span.RecordError(errors.New("ignored"))
	span.End()

	p.RecordCacheHit(ctx)
	p.RecordCacheMiss(ctx)
	p.RecordEvaluation(ctx, "k", "default")
	p.RecordRefresh(ctx, "manual", OutcomeFailed, time.Second)
	p.RecordCircuitState(ctx, "open")
	assert.NoError(t, p.Shutdown(ctx))
}
