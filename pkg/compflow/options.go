package compflow

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/compflow/pkg/compflow/cache"
	"github.com/randalmurphal/compflow/pkg/compflow/cachekey"
	"github.com/randalmurphal/compflow/pkg/compflow/config"
	"github.com/randalmurphal/compflow/pkg/compflow/observability"
	"github.com/randalmurphal/compflow/pkg/compflow/prompt"
	"github.com/randalmurphal/compflow/pkg/compflow/retry"
)

// DefaultPrimaryTarget is used when no primary target is configured.
const DefaultPrimaryTarget = "default"

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache sets the shared result cache. Without one, every flow calls
// the remote target.
func WithCache(store *cache.Store) Option {
	return func(o *Orchestrator) {
		o.cache = store
	}
}

// WithKeyGenerator sets the cache-key generator.
func WithKeyGenerator(g *cachekey.Generator) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.keys = g
		}
	}
}

// WithStages sets the local stage collaborators.
func WithStages(s Stages) Option {
	return func(o *Orchestrator) {
		o.stages = s
	}
}

// WithPromptBuilder sets the prompt builder.
func WithPromptBuilder(b *prompt.Builder) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.prompts = b
		}
	}
}

// WithRetryConfig sets the retry configuration. It is validated by New.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *Orchestrator) {
		o.retryCfg = cfg
	}
}

// WithRetryPolicy sets the delay calculator, mainly to inject a
// deterministic random source in tests.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithPrimaryTarget sets the target every flow tries first.
func WithPrimaryTarget(target string) Option {
	return func(o *Orchestrator) {
		if target != "" {
			o.primary = target
		}
	}
}

// WithFallbacks sets the ordered fallback targets.
func WithFallbacks(targets ...string) Option {
	return func(o *Orchestrator) {
		o.fallbacks = append([]string(nil), targets...)
	}
}

// WithRemoteTimeout bounds each remote attempt. Zero disables the bound.
func WithRemoteTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.remoteTimeout = d
		}
	}
}

// WithExtractTimeout bounds the extract stage. Zero disables the bound.
func WithExtractTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.extractTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.spans = s
		}
	}
}

// WithCacheTTL sets the lifetime of stored results. Zero defers to the
// store's default TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl >= 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithCacheWriteFatal makes a failed cache write fail the run. By default
// the write failure is logged and the generated result is still returned.
func WithCacheWriteFatal(fatal bool) Option {
	return func(o *Orchestrator) {
		o.cacheWriteFatal = fatal
	}
}

// WithSettings applies resolved settings. The cache store and remote
// caller are not built here; see NewFromSettings.
func WithSettings(s config.Settings) Option {
	return func(o *Orchestrator) {
		if s.PrimaryTarget != "" {
			o.primary = s.PrimaryTarget
		}
		o.fallbacks = append([]string(nil), s.Fallbacks...)
		o.retryCfg = s.Retry
		o.remoteTimeout = s.Remote.Timeout
		o.extractTimeout = s.ExtractTimeout
		o.cacheTTL = s.CacheTTL
		o.cacheWriteFatal = s.CacheWriteFatal
		o.keyOpts = s.Key.Options()
	}
}
