package retry

import (
	"context"
	"time"

	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
)

// Hooks observe the retry loop. Nil hooks are skipped.
type Hooks struct {
	// OnAttempt runs before each attempt (1-based).
	OnAttempt func(attempt int)

	// OnRetry runs after a failed attempt that will be retried, before
	// the backoff wait.
	OnRetry func(attempt int, delay time.Duration, err *cferrors.FlowError)
}

// Result contains the outcome of Do.
type Result[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final classified error if all attempts failed.
	Err *cferrors.FlowError

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent, including waits.
	Duration time.Duration
}

// Do calls fn until it succeeds, the policy stops retrying, or ctx is done.
// classify turns a raw failure into a FlowError; it decides retryability
// together with cfg.
func Do[T any](
	ctx context.Context,
	p *Policy,
	cfg Config,
	classify func(error) *cferrors.FlowError,
	fn func(ctx context.Context, attempt int) (T, error),
	hooks Hooks,
) Result[T] {
	start := time.Now()
	maxAttempts := max(cfg.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result[T]{
				Err:      interrupted(classify(err), attempt-1),
				Attempts: attempt - 1,
				Duration: time.Since(start),
			}
		}

		if hooks.OnAttempt != nil {
			hooks.OnAttempt(attempt)
		}

		value, err := fn(ctx, attempt)
		if err == nil {
			return Result[T]{
				Value:    value,
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		fe := classify(err)
		if ctx.Err() != nil {
			// The run itself was cancelled or ran out of time; the attempt's
			// failure is a symptom, not something to recover from.
			fe = interrupted(classify(ctx.Err()), attempt)
		}
		fe.Attempts = attempt
		fe.RetryAttempted = attempt > 1

		if attempt >= maxAttempts || !p.ShouldRetry(fe, attempt, cfg) {
			return Result[T]{
				Err:      fe,
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		delay := p.DelayFor(fe, attempt, cfg)
		if hooks.OnRetry != nil {
			hooks.OnRetry(attempt, delay, fe)
		}

		if err := Sleep(ctx, delay); err != nil {
			return Result[T]{
				Err:      interrupted(classify(err), attempt),
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}
	}
}

// interrupted marks fe as caused by the run's own context, which nothing
// downstream can recover from.
func interrupted(fe *cferrors.FlowError, attempts int) *cferrors.FlowError {
	fe.Recoverable = false
	fe.Retryable = false
	fe.FallbackEligible = false
	fe.Attempts = attempts
	fe.RetryAttempted = attempts > 1
	return fe
}
