// Package observability provides structured logging, metrics and tracing
// for compflow runs.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every Log helper accepts a nil logger.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds flow context to a logger.
// Returns a new logger with flow_id and framework fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "flow-123", "react")
//	enriched.Info("doing work") // includes flow_id, framework
func EnrichLogger(logger *slog.Logger, flowID, framework string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("flow_id", flowID),
		slog.String("framework", framework),
	)
}

// LogFlowStart logs the start of a flow run.
func LogFlowStart(logger *slog.Logger, flowID, target string) {
	if logger == nil {
		return
	}
	logger.Info("flow starting",
		slog.String("flow_id", flowID),
		slog.String("target", target),
	)
}

// LogFlowComplete logs successful flow completion.
func LogFlowComplete(logger *slog.Logger, flowID, target string, durationMs float64, fromCache bool) {
	if logger == nil {
		return
	}
	logger.Info("flow completed",
		slog.String("flow_id", flowID),
		slog.String("target", target),
		slog.Float64("duration_ms", durationMs),
		slog.Bool("from_cache", fromCache),
	)
}

// LogFlowError logs flow failure.
func LogFlowError(logger *slog.Logger, flowID string, err error, durationMs float64, lastState string) {
	if logger == nil {
		return
	}
	logger.Error("flow failed",
		slog.String("flow_id", flowID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_state", lastState),
	)
}

// LogTransition logs a state change.
func LogTransition(logger *slog.Logger, from, to string, progress int) {
	if logger == nil {
		return
	}
	logger.Debug("state changed",
		slog.String("from", from),
		slog.String("to", to),
		slog.Int("progress", progress),
	)
}

// LogRetry logs a scheduled retry.
func LogRetry(logger *slog.Logger, target string, attempt int, delay time.Duration, err error) {
	if logger == nil {
		return
	}
	logger.Warn("retrying remote call",
		slog.String("target", target),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()),
	)
}

// LogFallback logs a switch to another target.
func LogFallback(logger *slog.Logger, from, to string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("falling back",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("error", err.Error()),
	)
}

// LogCacheError logs a cache failure (non-fatal).
func LogCacheError(logger *slog.Logger, op, key string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("cache operation failed",
		slog.String("operation", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
