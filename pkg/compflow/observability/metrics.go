package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records compflow metrics.
// Use NewMetricsRecorder for OTel metrics, NewPrometheusMetrics for a
// Prometheus registry, or NoopMetrics{} when disabled.
//
// Kind labels are error taxonomy names; an empty kind means success.
type MetricsRecorder interface {
	// RecordFlow records a finished flow run.
	RecordFlow(ctx context.Context, success, fromCache bool, duration time.Duration)

	// RecordPhase records time spent in one state of the flow.
	RecordPhase(ctx context.Context, phase string, duration time.Duration, err error)

	// RecordRemoteAttempt records one remote call.
	RecordRemoteAttempt(ctx context.Context, target string, duration time.Duration, kind string)

	// RecordRetry records a scheduled retry.
	RecordRetry(ctx context.Context, target, kind string)

	// RecordFallback records a switch from one target to another.
	RecordFallback(ctx context.Context, from, to string)

	// RecordCacheLookup records a cache hit or miss.
	RecordCacheLookup(ctx context.Context, hit bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	flowRuns       metric.Int64Counter
	flowLatency    metric.Float64Histogram
	phaseLatency   metric.Float64Histogram
	phaseErrors    metric.Int64Counter
	remoteAttempts metric.Int64Counter
	remoteLatency  metric.Float64Histogram
	retries        metric.Int64Counter
	fallbacks      metric.Int64Counter
	cacheLookups   metric.Int64Counter
}

// newOtelMetrics creates the instruments on mp's "compflow" meter.
func newOtelMetrics(mp metric.MeterProvider) (*otelMetrics, error) {
	meter := mp.Meter("compflow")
	m := &otelMetrics{}
	var err error

	if m.flowRuns, err = meter.Int64Counter("compflow.flow.runs",
		metric.WithDescription("Number of flow runs"),
	); err != nil {
		return nil, err
	}
	if m.flowLatency, err = meter.Float64Histogram("compflow.flow.latency_ms",
		metric.WithDescription("Flow run latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.phaseLatency, err = meter.Float64Histogram("compflow.phase.latency_ms",
		metric.WithDescription("Time spent per flow state in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.phaseErrors, err = meter.Int64Counter("compflow.phase.errors",
		metric.WithDescription("Number of phase failures"),
	); err != nil {
		return nil, err
	}
	if m.remoteAttempts, err = meter.Int64Counter("compflow.remote.attempts",
		metric.WithDescription("Number of remote calls"),
	); err != nil {
		return nil, err
	}
	if m.remoteLatency, err = meter.Float64Histogram("compflow.remote.latency_ms",
		metric.WithDescription("Remote call latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("compflow.remote.retries",
		metric.WithDescription("Number of scheduled retries"),
	); err != nil {
		return nil, err
	}
	if m.fallbacks, err = meter.Int64Counter("compflow.remote.fallbacks",
		metric.WithDescription("Number of fallback switches"),
	); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = meter.Int64Counter("compflow.cache.lookups",
		metric.WithDescription("Number of cache lookups"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// A nil provider selects the global one. If instrument creation fails, a
// no-op recorder is returned.
func NewMetricsRecorder(mp metric.MeterProvider) MetricsRecorder {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m, err := newOtelMetrics(mp)
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordFlow(ctx context.Context, success, fromCache bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.Bool("from_cache", fromCache),
	)
	m.flowRuns.Add(ctx, 1, attrs)
	m.flowLatency.Record(ctx, ms(duration), attrs)
}

func (m *otelMetrics) RecordPhase(ctx context.Context, phase string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("phase", phase))
	m.phaseLatency.Record(ctx, ms(duration), attrs)
	if err != nil {
		m.phaseErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordRemoteAttempt(ctx context.Context, target string, duration time.Duration, kind string) {
	attrs := metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("outcome", outcome(kind)),
	)
	m.remoteAttempts.Add(ctx, 1, attrs)
	m.remoteLatency.Record(ctx, ms(duration), attrs)
}

func (m *otelMetrics) RecordRetry(ctx context.Context, target, kind string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("kind", kind),
	))
}

func (m *otelMetrics) RecordFallback(ctx context.Context, from, to string) {
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *otelMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func outcome(kind string) string {
	if kind == "" {
		return "ok"
	}
	return kind
}
