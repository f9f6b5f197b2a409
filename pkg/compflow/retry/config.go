// Package retry computes backoff delays and retry decisions for remote calls.
//
// The policy is stateless: every decision is a function of the classified
// error, the attempt number and the Config. Delays grow exponentially with
// uniform jitter so that concurrent flows hitting the same rate-limited
// dependency spread their retries instead of retrying in lockstep.
package retry

import (
	"fmt"
	"slices"
	"time"

	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`

	// MaxDelay caps every computed delay.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// BackoffMultiplier is applied to the delay after each attempt.
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`

	// JitterFactor is the random jitter fraction (0.0-1.0).
	JitterFactor float64 `json:"jitter_factor" yaml:"jitter_factor"`

	// RetryableKinds restricts retries to these kinds. Empty means any
	// kind the classifier marked retryable.
	RetryableKinds []cferrors.Kind `json:"retryable_kinds,omitempty" yaml:"retryable_kinds,omitempty"`

	// RetryOn4xx makes non-rate-limit client errors retryable.
	RetryOn4xx bool `json:"retry_on_4xx" yaml:"retry_on_4xx"`

	// RetryOn5xx makes server errors retryable.
	RetryOn5xx bool `json:"retry_on_5xx" yaml:"retry_on_5xx"`
}

// DefaultConfig is the standard retry configuration.
var DefaultConfig = Config{
	MaxAttempts:       3,
	InitialDelay:      1 * time.Second,
	MaxDelay:          30 * time.Second,
	BackoffMultiplier: 2.0,
	JitterFactor:      0.1,
	RetryableKinds: []cferrors.Kind{
		cferrors.KindTimeout,
		cferrors.KindRateLimited,
		cferrors.KindAPI,
		cferrors.KindNetwork,
	},
	RetryOn5xx: true,
}

// AggressiveConfig retries more times with shorter backoff.
var AggressiveConfig = Config{
	MaxAttempts:       5,
	InitialDelay:      500 * time.Millisecond,
	MaxDelay:          10 * time.Second,
	BackoffMultiplier: 1.5,
	JitterFactor:      0.2,
	RetryOn5xx:        true,
}

// NoRetry disables retries.
var NoRetry = Config{
	MaxAttempts:       1,
	BackoffMultiplier: 1,
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return &cferrors.ValidationError{Field: "max_attempts", Message: fmt.Sprintf("must be >= 1, got %d", c.MaxAttempts)}
	case c.InitialDelay < 0:
		return &cferrors.ValidationError{Field: "initial_delay", Message: "must not be negative"}
	case c.MaxDelay < c.InitialDelay:
		return &cferrors.ValidationError{Field: "max_delay", Message: fmt.Sprintf("must be >= initial_delay (%s)", c.InitialDelay)}
	case c.BackoffMultiplier < 1:
		return &cferrors.ValidationError{Field: "backoff_multiplier", Message: fmt.Sprintf("must be >= 1, got %g", c.BackoffMultiplier)}
	case c.JitterFactor < 0 || c.JitterFactor > 1:
		return &cferrors.ValidationError{Field: "jitter_factor", Message: fmt.Sprintf("must be within [0,1], got %g", c.JitterFactor)}
	}
	return nil
}

// Classifier returns the error classifier matching this configuration's
// status-code settings.
func (c Config) Classifier() cferrors.Classifier {
	return cferrors.Classifier{RetryOn4xx: c.RetryOn4xx, RetryOn5xx: c.RetryOn5xx}
}

// allowsKind reports whether kind is in RetryableKinds (or the list is empty).
func (c Config) allowsKind(kind cferrors.Kind) bool {
	return len(c.RetryableKinds) == 0 || slices.Contains(c.RetryableKinds, kind)
}

// Option configures a Config.
type Option func(*Config)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) Option {
	return func(cfg *Config) {
		cfg.MaxAttempts = n
	}
}

// WithInitialDelay sets the initial delay.
func WithInitialDelay(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.InitialDelay = d
	}
}

// WithMaxDelay sets the delay cap.
func WithMaxDelay(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.MaxDelay = d
	}
}

// WithBackoffMultiplier sets the backoff multiplier.
func WithBackoffMultiplier(f float64) Option {
	return func(cfg *Config) {
		cfg.BackoffMultiplier = f
	}
}

// WithJitterFactor sets the jitter factor.
func WithJitterFactor(j float64) Option {
	return func(cfg *Config) {
		cfg.JitterFactor = j
	}
}

// WithRetryableKinds restricts which kinds are retried.
func WithRetryableKinds(kinds ...cferrors.Kind) Option {
	return func(cfg *Config) {
		cfg.RetryableKinds = kinds
	}
}

// WithRetryOn4xx toggles retries for client errors.
func WithRetryOn4xx(on bool) Option {
	return func(cfg *Config) {
		cfg.RetryOn4xx = on
	}
}

// WithRetryOn5xx toggles retries for server errors.
func WithRetryOn5xx(on bool) Option {
	return func(cfg *Config) {
		cfg.RetryOn5xx = on
	}
}

// NewConfig creates a configuration from DefaultConfig and the given options.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig
	cfg.RetryableKinds = slices.Clone(DefaultConfig.RetryableKinds)
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
