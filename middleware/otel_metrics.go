package middleware

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hyp3rd/apm"
	"github.com/hyp3rd/apm/pkg/stats"
)

// OTelMetricsMiddleware emits OpenTelemetry metrics for service methods.
type OTelMetricsMiddleware struct {
	next  apm.Service
	meter metric.Meter

	// instruments
	calls     metric.Int64Counter
	samples   metric.Int64Counter
	durations metric.Float64Histogram
}

// NewOTelMetricsMiddleware constructs a metrics middleware using the provided meter.
func NewOTelMetricsMiddleware(next apm.Service, meter metric.Meter) (apm.Service, error) {
	calls, err := meter.Int64Counter("apm.calls")
	if err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}

	samples, err := meter.Int64Counter("apm.samples")
	if err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}

	durations, err := meter.Float64Histogram("apm.duration.ms")
	if err != nil {
		return nil, fmt.Errorf("create histogram: %w", err)
	}

	return &OTelMetricsMiddleware{
		next:      next,
		meter:     meter,
		calls:     calls,
		samples:   samples,
		durations: durations,
	}, nil
}

// Track implements Service.Track with metrics.
func (mw *OTelMetricsMiddleware) Track(ctx context.Context, name string) error {
	start := time.Now()
	err := mw.next.Track(ctx, name)
	mw.rec(ctx, "Track", start, attribute.String("server", name), attribute.Bool("error", err != nil))

	return err
}

// Forget implements Service.Forget with metrics.
func (mw *OTelMetricsMiddleware) Forget(ctx context.Context, name string) error {
	start := time.Now()
	err := mw.next.Forget(ctx, name)
	mw.rec(ctx, "Forget", start, attribute.String("server", name), attribute.Bool("error", err != nil))

	return err
}

// Record implements Service.Record with metrics. Only the per-server sample
// counter is bumped here; timing the hot path would distort what it measures.
func (mw *OTelMetricsMiddleware) Record(ctx context.Context, name string, rtt time.Duration) error {
	err := mw.next.Record(ctx, name, rtt)
	mw.samples.Add(ctx, 1, metric.WithAttributes(attribute.String("server", name)))

	return err
}

// Stats implements Service.Stats with metrics.
func (mw *OTelMetricsMiddleware) Stats(ctx context.Context, name string, ps *stats.PercentileStats) (bool, error) {
	start := time.Now()
	changed, err := mw.next.Stats(ctx, name, ps)
	mw.rec(ctx, "Stats", start, attribute.String("server", name), attribute.Bool("changed", changed))

	return changed, err
}

// Snapshot implements Service.Snapshot with metrics.
func (mw *OTelMetricsMiddleware) Snapshot(ctx context.Context, name string) (*stats.Snapshot, error) {
	start := time.Now()
	snap, err := mw.next.Snapshot(ctx, name)
	mw.rec(ctx, "Snapshot", start, attribute.String("server", name), attribute.Bool("error", err != nil))

	return snap, err
}

// Servers implements Service.Servers with metrics.
func (mw *OTelMetricsMiddleware) Servers(ctx context.Context) []string {
	start := time.Now()
	names := mw.next.Servers(ctx)
	mw.rec(ctx, "Servers", start, attribute.Int("result.count", len(names)))

	return names
}

func (mw *OTelMetricsMiddleware) rec(ctx context.Context, method string, start time.Time, attributes ...attribute.KeyValue) {
	attrs := append([]attribute.KeyValue{attribute.String("method", method)}, attributes...)
	opt := metric.WithAttributes(attrs...)

	mw.calls.Add(ctx, 1, opt)
	mw.durations.Record(ctx, float64(time.Since(start).Microseconds())/1000.0, opt)
}
