package telemetry

import (
	"context"
	"time"
)

// NoOpProvider is a telemetry provider that does nothing.
// It is the default when telemetry is not configured.
type NoOpProvider struct{}

// NewNoOp creates a new no-op telemetry provider
func NewNoOp() *NoOpProvider {
	return &NoOpProvider{}
}

func (n *NoOpProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	return ctx, noOpSpan{}
}

func (n *NoOpProvider) RecordCacheHit(ctx context.Context) {}

func (n *NoOpProvider) RecordCacheMiss(ctx context.Context) {}

func (n *NoOpProvider) RecordEvaluation(ctx context.Context, flagKey string, reason string) {}

func (n *NoOpProvider) RecordRefresh(ctx context.Context, mode string, outcome string, duration time.Duration) {
}

func (n *NoOpProvider) RecordCircuitState(ctx context.Context, state string) {}

func (n *NoOpProvider) Shutdown(ctx context.Context) error {
	return nil
}

type noOpSpan struct{}

func (noOpSpan) End()                             {}
func (noOpSpan) SetAttributes(attrs ...Attribute) {}
func (noOpSpan) RecordError(err error)            {}
