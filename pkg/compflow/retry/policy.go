package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
)

// Policy decides whether to retry and how long to wait.
// A Policy is immutable and safe for concurrent use.
type Policy struct {
	rand func() float64
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithRand sets the source of uniform random numbers in [0,1).
// The function must be safe for concurrent use.
func WithRand(fn func() float64) PolicyOption {
	return func(p *Policy) {
		if fn != nil {
			p.rand = fn
		}
	}
}

// NewPolicy creates a policy with the given options.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{rand: rand.Float64}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ShouldRetry reports whether another attempt should follow attempt number
// attempt (1-based) that failed with err.
func (p *Policy) ShouldRetry(err *cferrors.FlowError, attempt int, cfg Config) bool {
	if err == nil || attempt >= cfg.MaxAttempts {
		return false
	}
	if !err.Retryable {
		return false
	}
	return cfg.allowsKind(err.Kind)
}

// BaseDelay returns the un-jittered delay after attempt number attempt:
// InitialDelay × BackoffMultiplier^(attempt−1).
func BaseDelay(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := cfg.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	base := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if math.IsInf(base, 0) || base > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(base)
}

// NextDelay returns the wait before the attempt following attempt number
// attempt: min(MaxDelay, base + jitter), floored at zero, where jitter is
// uniform in [−base×JitterFactor, +base×JitterFactor].
func (p *Policy) NextDelay(attempt int, cfg Config) time.Duration {
	base := BaseDelay(attempt, cfg)

	d := float64(base)
	if cfg.JitterFactor > 0 {
		d += float64(base) * cfg.JitterFactor * (p.rand()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// DelayFor returns NextDelay raised to the server's RetryAfter hint, if err
// carries one. The result never exceeds MaxDelay.
func (p *Policy) DelayFor(err *cferrors.FlowError, attempt int, cfg Config) time.Duration {
	d := p.NextDelay(attempt, cfg)
	if err != nil && err.RetryAfter > d {
		d = err.RetryAfter
	}
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

// Sleep waits for d or until ctx is done, whichever comes first.
// Returns ctx.Err() if the wait was interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
