package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyp3rd/apm"
	"github.com/hyp3rd/apm/pkg/stats"
)

// OTelTracingMiddleware wraps apm.Service methods with OpenTelemetry spans.
type OTelTracingMiddleware struct {
	next   apm.Service
	tracer trace.Tracer
	// static attributes applied to all spans
	commonAttrs []attribute.KeyValue
}

// OTelTracingOption allows configuring the tracing middleware.
type OTelTracingOption func(*OTelTracingMiddleware)

// WithCommonAttributes sets attributes applied to all spans.
func WithCommonAttributes(attributes ...attribute.KeyValue) OTelTracingOption {
	return func(m *OTelTracingMiddleware) { m.commonAttrs = append(m.commonAttrs, attributes...) }
}

// NewOTelTracingMiddleware creates a tracing middleware.
func NewOTelTracingMiddleware(next apm.Service, tracer trace.Tracer, opts ...OTelTracingOption) apm.Service {
	mw := &OTelTracingMiddleware{next: next, tracer: tracer}
	for _, o := range opts {
		o(mw)
	}

	return mw
}

// Track implements Service.Track with tracing.
func (mw OTelTracingMiddleware) Track(ctx context.Context, name string) error {
	ctx, span := mw.startSpan(ctx, "apm.Track", attribute.String("server", name))
	defer span.End()

	return mw.next.Track(ctx, name)
}

// Forget implements Service.Forget with tracing.
func (mw OTelTracingMiddleware) Forget(ctx context.Context, name string) error {
	ctx, span := mw.startSpan(ctx, "apm.Forget", attribute.String("server", name))
	defer span.End()

	return mw.next.Forget(ctx, name)
}

// Record forwards without a span: one span per response-time sample would
// dominate the trace volume of the surrounding proxy.
func (mw OTelTracingMiddleware) Record(ctx context.Context, name string, rtt time.Duration) error {
	return mw.next.Record(ctx, name, rtt)
}

// Stats implements Service.Stats with tracing.
func (mw OTelTracingMiddleware) Stats(ctx context.Context, name string, ps *stats.PercentileStats) (bool, error) {
	ctx, span := mw.startSpan(ctx, "apm.Stats", attribute.String("server", name))
	defer span.End()

	changed, err := mw.next.Stats(ctx, name, ps)
	span.SetAttributes(attribute.Bool("changed", changed))

	return changed, err
}

// Snapshot implements Service.Snapshot with tracing.
func (mw OTelTracingMiddleware) Snapshot(ctx context.Context, name string) (*stats.Snapshot, error) {
	ctx, span := mw.startSpan(ctx, "apm.Snapshot", attribute.String("server", name))
	defer span.End()

	return mw.next.Snapshot(ctx, name)
}

// Servers implements Service.Servers with tracing.
func (mw OTelTracingMiddleware) Servers(ctx context.Context) []string {
	ctx, span := mw.startSpan(ctx, "apm.Servers")
	defer span.End()

	return mw.next.Servers(ctx)
}

func (mw OTelTracingMiddleware) startSpan(ctx context.Context, name string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append(append([]attribute.KeyValue{}, mw.commonAttrs...), attributes...)

	return mw.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
