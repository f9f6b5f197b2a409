package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// jsonLogger returns a debug-level JSON logger writing to buf.
func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := EnrichLogger(jsonLogger(&buf), "flow-1", "react")

	LogFlowStart(logger, "flow-1", "model-a")
	LogTransition(logger, "idle", "selecting", 5)
	LogRetry(logger, "model-a", 1, 2*time.Second, errors.New("503"))
	LogFallback(logger, "model-a", "model-b", errors.New("exhausted"))
	LogCacheError(logger, "set", "k1", errors.New("disk full"))
	LogFlowComplete(logger, "flow-1", "model-b", 12.5, false)
	LogFlowError(logger, "flow-1", errors.New("boom"), 3, "calling_remote")

	recs := records(t, &buf)
	require.Len(t, recs, 7)

	for _, r := range recs {
		assert.Equal(t, "flow-1", r["flow_id"])
		assert.Equal(t, "react", r["framework"])
	}

	assert.Equal(t, "flow starting", recs[0]["msg"])
	assert.Equal(t, "DEBUG", recs[1]["level"])
	assert.Equal(t, "selecting", recs[1]["to"])
	assert.Equal(t, "WARN", recs[2]["level"])
	assert.Equal(t, "503", recs[2]["error"])
	assert.Equal(t, "model-b", recs[3]["to"])
	assert.Equal(t, "set", recs[4]["operation"])
	assert.Equal(t, false, recs[5]["from_cache"])
	assert.Equal(t, "ERROR", recs[6]["level"])
	assert.Equal(t, "calling_remote", recs[6]["last_state"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.Nil(t, EnrichLogger(nil, "f", "react"))
	assert.NotPanics(t, func() {
		LogFlowStart(nil, "f", "t")
		LogFlowComplete(nil, "f", "t", 1, true)
		LogFlowError(nil, "f", errors.New("x"), 1, "s")
		LogTransition(nil, "a", "b", 1)
		LogRetry(nil, "t", 1, time.Second, errors.New("x"))
		LogFallback(nil, "a", "b", errors.New("x"))
		LogCacheError(nil, "get", "k", errors.New("x"))
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 5.0)
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumCounter(t *testing.T, m metricdata.Metrics, match func(attribute.Set) bool) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		if match == nil || match(dp.Attributes) {
			total += dp.Value
		}
	}
	return total
}

func attrEquals(key, want string) func(attribute.Set) bool {
	return func(s attribute.Set) bool {
		v, ok := s.Value(attribute.Key(key))
		return ok && v.Emit() == want
	}
}

func TestOtelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec := NewMetricsRecorder(provider)
	_, isNoop := rec.(NoopMetrics)
	require.False(t, isNoop)

	ctx := context.Background()
	rec.RecordFlow(ctx, true, false, 120*time.Millisecond)
	rec.RecordFlow(ctx, false, false, 10*time.Millisecond)
	rec.RecordPhase(ctx, "extracting", 5*time.Millisecond, nil)
	rec.RecordPhase(ctx, "extracting", 5*time.Millisecond, errors.New("bad"))
	rec.RecordRemoteAttempt(ctx, "model-a", 50*time.Millisecond, "API_ERROR")
	rec.RecordRemoteAttempt(ctx, "model-a", 40*time.Millisecond, "")
	rec.RecordRetry(ctx, "model-a", "API_ERROR")
	rec.RecordFallback(ctx, "model-a", "model-b")
	rec.RecordCacheLookup(ctx, true)
	rec.RecordCacheLookup(ctx, false)
	rec.RecordCacheLookup(ctx, false)

	got := collect(t, reader)

	assert.Equal(t, int64(2), sumCounter(t, got["compflow.flow.runs"], nil))
	assert.Equal(t, int64(1), sumCounter(t, got["compflow.flow.runs"], attrEquals("success", "true")))
	assert.Equal(t, int64(1), sumCounter(t, got["compflow.phase.errors"], nil))
	assert.Equal(t, int64(1), sumCounter(t, got["compflow.remote.attempts"], attrEquals("outcome", "ok")))
	assert.Equal(t, int64(1), sumCounter(t, got["compflow.remote.attempts"], attrEquals("outcome", "API_ERROR")))
	assert.Equal(t, int64(1), sumCounter(t, got["compflow.remote.retries"], nil))
	assert.Equal(t, int64(1), sumCounter(t, got["compflow.remote.fallbacks"], attrEquals("to", "model-b")))
	assert.Equal(t, int64(2), sumCounter(t, got["compflow.cache.lookups"], attrEquals("hit", "false")))

	hist, ok := got["compflow.flow.latency_ms"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func gathered(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		return total
	}
	return 0
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetrics(reg)

	ctx := context.Background()
	rec.RecordFlow(ctx, true, true, time.Millisecond)
	rec.RecordPhase(ctx, "cleaning", time.Millisecond, errors.New("x"))
	rec.RecordRemoteAttempt(ctx, "model-a", time.Second, "TIMEOUT")
	rec.RecordRemoteAttempt(ctx, "model-b", time.Second, "")
	rec.RecordRetry(ctx, "model-a", "TIMEOUT")
	rec.RecordFallback(ctx, "model-a", "model-b")
	rec.RecordCacheLookup(ctx, true)

	assert.Equal(t, 1.0, gathered(t, reg, "compflow_flow_runs_total", map[string]string{"from_cache": "true"}))
	assert.Equal(t, 1.0, gathered(t, reg, "compflow_phase_errors_total", map[string]string{"phase": "cleaning"}))
	assert.Equal(t, 1.0, gathered(t, reg, "compflow_remote_attempts_total", map[string]string{"outcome": "ok"}))
	assert.Equal(t, 2.0, gathered(t, reg, "compflow_remote_latency_seconds", nil))
	assert.Equal(t, 1.0, gathered(t, reg, "compflow_remote_retries_total", map[string]string{"kind": "TIMEOUT"}))
	assert.Equal(t, 1.0, gathered(t, reg, "compflow_remote_fallbacks_total", nil))
	assert.Equal(t, 1.0, gathered(t, reg, "compflow_cache_lookups_total", map[string]string{"result": "hit"}))
	assert.Zero(t, gathered(t, reg, "compflow_cache_lookups_total", map[string]string{"result": "miss"}))
}

func TestPrometheusMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusMetrics(reg)
	assert.Panics(t, func() { NewPrometheusMetrics(reg) })
}

func TestTee(t *testing.T) {
	reg := prometheus.NewRegistry()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec := Tee(NewPrometheusMetrics(reg), NewMetricsRecorder(provider), NoopMetrics{})
	rec.RecordCacheLookup(context.Background(), true)

	assert.Equal(t, 1.0, gathered(t, reg, "compflow_cache_lookups_total", nil))
	assert.Equal(t, int64(1), sumCounter(t, collect(t, reader)["compflow.cache.lookups"], nil))
}

func TestSpanManager(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	sm := NewSpanManager(tp)

	ctx, flowSpan := sm.StartFlowSpan(context.Background(), "flow-9", "vue")
	phaseCtx, phaseSpan := sm.StartPhaseSpan(ctx, "extracting")
	sm.AddSpanEvent(phaseCtx, "selected", attribute.Int("nodes", 3))
	sm.EndSpanWithError(phaseSpan, nil)

	_, attemptSpan := sm.StartAttemptSpan(ctx, "model-a", 2)
	sm.EndSpanWithError(attemptSpan, errors.New("503"))
	sm.EndSpanWithError(flowSpan, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	byName := make(map[string]tracetest.SpanStub)
	for _, s := range spans {
		byName[s.Name] = s
	}

	flow := byName["compflow.flow"]
	phase := byName["compflow.phase.extracting"]
	attempt := byName["compflow.remote"]

	assert.Equal(t, codes.Ok, flow.Status.Code)
	assert.Contains(t, flow.Attributes, attribute.String("flow.id", "flow-9"))

	assert.Equal(t, flow.SpanContext.SpanID(), phase.Parent.SpanID())
	require.Len(t, phase.Events, 1)
	assert.Equal(t, "selected", phase.Events[0].Name)

	assert.Equal(t, flow.SpanContext.SpanID(), attempt.Parent.SpanID())
	assert.Equal(t, codes.Error, attempt.Status.Code)
	assert.Equal(t, "503", attempt.Status.Description)
	assert.Contains(t, attempt.Attributes, attribute.Int("remote.attempt", 2))
}

func TestEndSpanWithError_Nil(t *testing.T) {
	assert.NotPanics(t, func() { EndSpanWithError(nil, nil) })
	assert.NotPanics(t, func() { AddSpanEvent(context.Background(), "nothing") })
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var sm SpanManager = NoopSpanManager{}

	got, span := sm.StartFlowSpan(ctx, "f", "react")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())

	_, span = sm.StartAttemptSpan(ctx, "t", 1)
	sm.EndSpanWithError(span, errors.New("x"))

	var rec MetricsRecorder = NoopMetrics{}
	assert.NotPanics(t, func() {
		rec.RecordFlow(ctx, true, true, time.Second)
		rec.RecordRemoteAttempt(ctx, "t", time.Second, "")
	})
}
