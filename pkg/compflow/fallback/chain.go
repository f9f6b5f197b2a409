// Package fallback tries alternate call targets after the primary target's
// retries are exhausted.
//
// Each target gets exactly one attempt. There is no nested retry budget per
// target, which bounds worst-case latency to the primary's retries plus one
// call per fallback target.
package fallback

import (
	"context"
	"log/slog"
	"slices"

	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
)

// Chain is an ordered list of fallback targets. A Chain is immutable once
// constructed.
type Chain struct {
	targets []string
}

// NewChain creates a chain from targets, in order. Empty target names and
// duplicates are dropped; the first occurrence wins.
func NewChain(targets ...string) Chain {
	seen := make(map[string]bool, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return Chain{targets: out}
}

// Len returns the number of targets.
func (c Chain) Len() int {
	return len(c.targets)
}

// Target returns the target at index i.
func (c Chain) Target(i int) string {
	return c.targets[i]
}

// Targets returns a copy of the targets.
func (c Chain) Targets() []string {
	return slices.Clone(c.targets)
}

// Without returns a chain with target removed, used to keep the primary
// target out of its own fallback chain.
func (c Chain) Without(target string) Chain {
	out := make([]string, 0, len(c.targets))
	for _, t := range c.targets {
		if t != target {
			out = append(out, t)
		}
	}
	return Chain{targets: out}
}

// AttemptFunc makes one call against target. index is the target's
// position in the chain.
type AttemptFunc func(ctx context.Context, target string, index int) error

// Hooks observe the fallback chain. Nil hooks are skipped.
type Hooks struct {
	// OnFallback runs before the attempt against a fallback target.
	OnFallback func(target string, index int, cause *cferrors.FlowError)
}

// Outcome describes how the chain ended.
type Outcome struct {
	// Target is the target that succeeded. Empty on failure.
	Target string

	// Index is the position of the successful target, or -1.
	Index int

	// Tried is the number of targets attempted.
	Tried int

	// Err is the final classified error, nil on success.
	Err *cferrors.FlowError
}

// Manager runs fallback chains.
type Manager struct {
	classify func(error, string) *cferrors.FlowError
	phase    string
	logger   *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClassifier sets the classifier used for fallback failures.
func WithClassifier(c cferrors.Classifier) ManagerOption {
	return func(m *Manager) {
		m.classify = c.Classify
	}
}

// WithPhase sets the phase name recorded on classified errors.
func WithPhase(phase string) ManagerOption {
	return func(m *Manager) {
		m.phase = phase
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		classify: cferrors.Default.Classify,
		phase:    "fallback",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run tries each target of chain once, in order, after the primary target
// failed with cause. It stops at the first success.
//
// Nothing is attempted unless cause is fallback-eligible. Cancellation
// stops the chain immediately. When every target fails, the last target's
// error is returned.
func (m *Manager) Run(ctx context.Context, chain Chain, cause *cferrors.FlowError, attempt AttemptFunc, hooks Hooks) Outcome {
	if cause == nil || !cause.FallbackEligible || chain.Len() == 0 {
		return Outcome{Index: -1, Err: cause}
	}

	last := cause
	tried := 0
	for i := 0; i < chain.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Index: -1, Tried: tried, Err: m.annotate(m.classify(err, m.phase), cause, tried)}
		}

		target := chain.Target(i)
		if hooks.OnFallback != nil {
			hooks.OnFallback(target, i, last)
		}
		m.logger.Info("trying fallback target",
			slog.String("target", target),
			slog.Int("index", i),
			slog.String("cause", last.Kind.String()),
		)

		tried++
		err := attempt(ctx, target, i)
		if err == nil {
			return Outcome{Target: target, Index: i, Tried: tried}
		}

		last = m.classify(err, m.phase)
		if ctx.Err() != nil || last.Kind == cferrors.KindCancelled {
			return Outcome{Index: -1, Tried: tried, Err: m.annotate(last, cause, tried)}
		}
		m.logger.Warn("fallback target failed",
			slog.String("target", target),
			slog.String("kind", last.Kind.String()),
			slog.String("error", last.Error()),
		)
	}

	return Outcome{Index: -1, Tried: tried, Err: m.annotate(last, cause, tried)}
}

// annotate records what recovery was attempted on the surfaced error.
func (m *Manager) annotate(fe, cause *cferrors.FlowError, tried int) *cferrors.FlowError {
	fe = fe.Clone()
	fe.Attempts = cause.Attempts
	fe.RetryAttempted = cause.RetryAttempted
	fe.FallbackAttempted = tried > 0
	fe.FallbacksTried = tried
	return fe
}
