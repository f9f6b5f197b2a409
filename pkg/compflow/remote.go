package compflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
	"github.com/randalmurphal/compflow/pkg/compflow/fallback"
	"github.com/randalmurphal/compflow/pkg/compflow/observability"
	"github.com/randalmurphal/compflow/pkg/compflow/prompt"
	"github.com/randalmurphal/compflow/pkg/compflow/remote"
	"github.com/randalmurphal/compflow/pkg/compflow/retry"
)

// callRemote runs the remote phase: the primary target with retries, then
// one attempt per fallback target if the final error allows it. It returns
// the response and the target that produced it.
func (f *Flow) callRemote(ctx context.Context, p prompt.Prompt) (*remote.Response, string, *cferrors.FlowError) {
	o := f.o
	primary := o.primary
	calls := 0

	call := func(ctx context.Context, target string) (*remote.Response, error) {
		calls++
		return f.attempt(ctx, remote.Request{
			Prompt:       p.User,
			SystemPrompt: p.System,
			Target:       target,
			Attempt:      calls,
		})
	}

	classify := func(err error) *cferrors.FlowError {
		return o.classifier.Classify(err, string(StateCallingRemote))
	}

	res := retry.Do(ctx, o.policy, o.retryCfg, classify,
		func(ctx context.Context, _ int) (*remote.Response, error) {
			return call(ctx, primary)
		},
		retry.Hooks{
			OnAttempt: func(n int) {
				f.setTarget(primary, -1)
				f.transition(ctx, StateMetadata{
					State:   StateCallingRemote,
					Message: "calling " + primary,
					Step:    fmt.Sprintf("attempt %d/%d", n, o.retryCfg.MaxAttempts),
					ETA:     f.averageAttempt(),
				})
			},
			OnRetry: func(n int, delay time.Duration, fe *cferrors.FlowError) {
				f.setRetries(n)
				f.transition(ctx, StateMetadata{
					State:   StateRetrying,
					Message: fmt.Sprintf("retrying %s in %s", primary, delay),
					Step:    fmt.Sprintf("retry %d/%d", n, o.retryCfg.MaxAttempts-1),
					ETA:     delay + f.averageAttempt(),
					Error:   fe,
				})
				observability.LogRetry(f.logger, primary, n, delay, fe)
				o.metrics.RecordRetry(ctx, primary, fe.Kind.String())
			},
		},
	)
	if res.Err == nil {
		return res.Value, primary, nil
	}

	var got *remote.Response
	from := primary
	total := o.chain.Len()

	out := o.manager.Run(ctx, o.chain, res.Err,
		func(ctx context.Context, target string, index int) error {
			f.transition(ctx, StateMetadata{
				State:   StateCallingRemote,
				Message: "calling " + target,
				Step:    fmt.Sprintf("fallback %d/%d", index+1, total),
				ETA:     f.averageAttempt(),
			})
			resp, err := call(ctx, target)
			if err != nil {
				return err
			}
			got = resp
			return nil
		},
		fallback.Hooks{
			OnFallback: func(target string, index int, cause *cferrors.FlowError) {
				f.setTarget(target, index)
				f.transition(ctx, StateMetadata{
					State:   StateFallback,
					Message: fmt.Sprintf("falling back from %s to %s", from, target),
					Step:    fmt.Sprintf("fallback %d/%d", index+1, total),
					Error:   cause,
				})
				observability.LogFallback(f.logger, from, target, cause)
				o.metrics.RecordFallback(ctx, from, target)
				from = target
			},
		},
	)
	if out.Err != nil {
		return nil, "", out.Err
	}
	return got, out.Target, nil
}

// attempt makes one bounded remote call and records it.
func (f *Flow) attempt(ctx context.Context, req remote.Request) (*remote.Response, error) {
	o := f.o

	callCtx := ctx
	if o.remoteTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.remoteTimeout)
		defer cancel()
	}
	callCtx, span := o.spans.StartAttemptSpan(callCtx, req.Target, req.Attempt)

	start := time.Now()
	resp, err := o.caller.Call(callCtx, req)
	elapsed := time.Since(start)

	if err == nil && resp == nil {
		err = &cferrors.ValidationError{Field: "response", Message: "caller returned no response"}
	}
	// The attempt's own deadline fired, not the flow's.
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = &cferrors.TimeoutError{Operation: "remote call to " + req.Target, Duration: o.remoteTimeout}
	}

	kind := ""
	if err != nil {
		kind = o.classifier.Classify(err, "").Kind.String()
		f.logger.Debug("remote attempt failed",
			slog.String("target", req.Target),
			slog.Int("attempt", req.Attempt),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
	o.metrics.RecordRemoteAttempt(ctx, req.Target, elapsed, kind)
	o.spans.EndSpanWithError(span, err)
	f.observeAttempt(elapsed)

	return resp, err
}

func (f *Flow) setTarget(target string, fallbackIndex int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = target
	f.fallbackIndex = fallbackIndex
}

func (f *Flow) setRetries(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = n
}

func (f *Flow) observeAttempt(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attemptTotal += d
	f.attemptCount++
}

// averageAttempt is the mean remote call duration so far, or zero before
// the first call finishes.
func (f *Flow) averageAttempt() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attemptCount == 0 {
		return 0
	}
	return f.attemptTotal / time.Duration(f.attemptCount)
}
