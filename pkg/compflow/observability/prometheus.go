package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics records compflow metrics into a Prometheus registry.
type PrometheusMetrics struct {
	flowRuns       *prometheus.CounterVec
	flowLatency    *prometheus.HistogramVec
	phaseLatency   *prometheus.HistogramVec
	phaseErrors    *prometheus.CounterVec
	remoteAttempts *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
}

var _ MetricsRecorder = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the compflow collectors on reg. A nil
// registerer selects prometheus.DefaultRegisterer. Registering twice on the
// same registry panics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusMetrics{
		flowRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compflow_flow_runs_total",
			Help: "Total number of flow runs",
		}, []string{"success", "from_cache"}),
		flowLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compflow_flow_duration_seconds",
			Help:    "Flow run latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"success"}),
		phaseLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compflow_phase_duration_seconds",
			Help:    "Time spent per flow state in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
		phaseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compflow_phase_errors_total",
			Help: "Total number of phase failures",
		}, []string{"phase"}),
		remoteAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compflow_remote_attempts_total",
			Help: "Total number of remote calls",
		}, []string{"target", "outcome"}),
		remoteLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compflow_remote_latency_seconds",
			Help:    "Remote call latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compflow_remote_retries_total",
			Help: "Total number of scheduled retries",
		}, []string{"target", "kind"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compflow_remote_fallbacks_total",
			Help: "Total number of fallback switches",
		}, []string{"from", "to"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compflow_cache_lookups_total",
			Help: "Total number of cache lookups",
		}, []string{"result"}),
	}
}

func (p *PrometheusMetrics) RecordFlow(_ context.Context, success, fromCache bool, duration time.Duration) {
	s := strconv.FormatBool(success)
	p.flowRuns.WithLabelValues(s, strconv.FormatBool(fromCache)).Inc()
	p.flowLatency.WithLabelValues(s).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) RecordPhase(_ context.Context, phase string, duration time.Duration, err error) {
	p.phaseLatency.WithLabelValues(phase).Observe(duration.Seconds())
	if err != nil {
		p.phaseErrors.WithLabelValues(phase).Inc()
	}
}

func (p *PrometheusMetrics) RecordRemoteAttempt(_ context.Context, target string, duration time.Duration, kind string) {
	p.remoteAttempts.WithLabelValues(target, outcome(kind)).Inc()
	p.remoteLatency.WithLabelValues(target).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) RecordRetry(_ context.Context, target, kind string) {
	p.retries.WithLabelValues(target, kind).Inc()
}

func (p *PrometheusMetrics) RecordFallback(_ context.Context, from, to string) {
	p.fallbacks.WithLabelValues(from, to).Inc()
}

func (p *PrometheusMetrics) RecordCacheLookup(_ context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheLookups.WithLabelValues(result).Inc()
}

// Tee fans every record out to each recorder in order.
func Tee(recorders ...MetricsRecorder) MetricsRecorder {
	return tee(recorders)
}

type tee []MetricsRecorder

func (t tee) RecordFlow(ctx context.Context, success, fromCache bool, duration time.Duration) {
	for _, r := range t {
		r.RecordFlow(ctx, success, fromCache, duration)
	}
}

func (t tee) RecordPhase(ctx context.Context, phase string, duration time.Duration, err error) {
	for _, r := range t {
		r.RecordPhase(ctx, phase, duration, err)
	}
}

func (t tee) RecordRemoteAttempt(ctx context.Context, target string, duration time.Duration, kind string) {
	for _, r := range t {
		r.RecordRemoteAttempt(ctx, target, duration, kind)
	}
}

func (t tee) RecordRetry(ctx context.Context, target, kind string) {
	for _, r := range t {
		r.RecordRetry(ctx, target, kind)
	}
}

func (t tee) RecordFallback(ctx context.Context, from, to string) {
	for _, r := range t {
		r.RecordFallback(ctx, from, to)
	}
}

func (t tee) RecordCacheLookup(ctx context.Context, hit bool) {
	for _, r := range t {
		r.RecordCacheLookup(ctx, hit)
	}
}
