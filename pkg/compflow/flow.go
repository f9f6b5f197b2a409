package compflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/compflow/pkg/compflow/cachekey"
	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
	"github.com/randalmurphal/compflow/pkg/compflow/observability"
	"github.com/randalmurphal/compflow/pkg/compflow/prompt"
)

// Flow is one execution of the pipeline. A Flow runs once; start another
// with Orchestrator.NewFlow.
//
// Execute runs on the caller's goroutine. State, History and Cancel may be
// called from any goroutine while it runs.
type Flow struct {
	o      *Orchestrator
	id     string
	logger *slog.Logger

	mu              sync.Mutex
	started         bool
	cancelRequested bool
	cancel          context.CancelFunc
	observer        Observer
	history         []StateMetadata

	// Attempt bookkeeping, copied into each recorded transition.
	retries       int
	fallbackIndex int
	target        string
	attemptTotal  time.Duration
	attemptCount  int
}

func newFlow(o *Orchestrator) *Flow {
	return &Flow{
		o:             o,
		id:            uuid.NewString(),
		logger:        o.logger,
		fallbackIndex: -1,
	}
}

// ID returns the flow's unique identifier.
func (f *Flow) ID() string {
	return f.id
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.history) == 0 {
		return StateIdle
	}
	return f.history[len(f.history)-1].State
}

// History returns a copy of every recorded transition, oldest first.
func (f *Flow) History() []StateMetadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.history)
}

// Cancel requests cooperative cancellation. An in-flight remote call or
// backoff wait is interrupted; otherwise the flow stops at the next phase
// boundary. Cancelling before Execute makes Execute end immediately.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelRequested = true
	if f.cancel != nil {
		f.cancel()
	}
}

// Execute runs the pipeline for in and reports every transition to
// observer, which may be nil.
//
// The returned Report is non-nil whenever the flow started. The error is a
// *errors.FlowError for failed and cancelled runs.
func (f *Flow) Execute(ctx context.Context, in Input, observer Observer) (*Report, error) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil, ErrFlowAlreadyStarted
	}
	f.started = true
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.cancel = cancel
	if f.cancelRequested {
		cancel()
	}
	f.observer = observer
	f.mu.Unlock()

	in = in.clone()
	f.logger = observability.EnrichLogger(f.o.logger, f.id, in.Options.Framework)

	ctx, span := f.o.spans.StartFlowSpan(ctx, f.id, in.Options.Framework)
	observability.LogFlowStart(f.logger, f.id, f.o.primary)
	done := observability.TimedOperation()

	f.transition(ctx, StateMetadata{State: StateIdle, Message: "flow created"})
	res, fe := f.run(ctx, &in)

	report := f.report(res, fe)
	f.o.metrics.RecordFlow(ctx, fe == nil, res != nil && res.FromCache, report.Duration)

	if fe != nil {
		observability.LogFlowError(f.logger, f.id, fe, done(), string(report.Final.State))
		f.o.spans.EndSpanWithError(span, fe)
		return report, fe
	}
	observability.LogFlowComplete(f.logger, f.id, res.Target, done(), res.FromCache)
	f.o.spans.EndSpanWithError(span, nil)
	return report, nil
}

// run drives the phases. Every path ends in exactly one terminal
// transition.
func (f *Flow) run(ctx context.Context, in *Input) (*Result, *cferrors.FlowError) {
	o := f.o

	if ctx.Err() != nil {
		return nil, f.fail(ctx, f.halt(ctx))
	}
	if err := in.Validate(); err != nil {
		return nil, f.fail(ctx, o.classifier.Local(err, string(StateIdle)))
	}

	stages := []struct {
		state   State
		fn      StageFunc
		timeout time.Duration
	}{
		{StateSelecting, o.stages.Select, 0},
		{StateExtracting, o.stages.Extract, o.extractTimeout},
		{StateDetecting, o.stages.Detect, 0},
		{StateCleaning, o.stages.Clean, 0},
	}
	for _, st := range stages {
		if fe := f.enter(ctx, StateMetadata{State: st.state}); fe != nil {
			return nil, fe
		}
		if err := f.runStage(ctx, st.state, st.fn, st.timeout, in); err != nil {
			return nil, f.fail(ctx, f.localError(ctx, err, st.state))
		}
	}

	if fe := f.enter(ctx, StateMetadata{State: StateHashing}); fe != nil {
		return nil, fe
	}
	if strings.TrimSpace(in.Markup) == "" {
		err := &cferrors.ValidationError{Field: "markup", Message: "nothing to convert"}
		return nil, f.fail(ctx, o.classifier.Local(err, string(StateHashing)))
	}
	key, err := o.Key(*in)
	if err != nil {
		return nil, f.fail(ctx, o.classifier.Local(err, string(StateHashing)))
	}

	if fe := f.enter(ctx, StateMetadata{State: StateCheckingCache, Message: key.Key}); fe != nil {
		return nil, fe
	}
	if hit := f.lookup(ctx, key); hit != nil {
		if fe := f.enter(ctx, StateMetadata{State: StateCacheHit, Message: key.Key, Result: hit}); fe != nil {
			return nil, fe
		}
		if fe := f.enter(ctx, StateMetadata{State: StateCompleted, Message: "served from cache", Result: hit}); fe != nil {
			return nil, fe
		}
		return hit, nil
	}

	if fe := f.enter(ctx, StateMetadata{State: StateGeneratingPrompt}); fe != nil {
		return nil, fe
	}
	p, err := o.prompts.Build(promptData(in))
	if err != nil {
		return nil, f.fail(ctx, o.classifier.Local(err, string(StateGeneratingPrompt)))
	}

	resp, target, fe := f.callRemote(ctx, p)
	if fe != nil {
		return nil, f.fail(ctx, fe)
	}

	if fe := f.enter(ctx, StateMetadata{State: StateProcessingResponse, Target: target}); fe != nil {
		return nil, fe
	}
	code := extractCode(resp.Content)
	if code == "" {
		err := &cferrors.ValidationError{Field: "response", Message: "remote returned no code"}
		return nil, f.fail(ctx, o.classifier.Local(err, string(StateProcessingResponse)))
	}
	res := &Result{
		Code:        code,
		Raw:         resp.Content,
		Model:       resp.Model,
		Target:      target,
		Usage:       resp.Usage,
		CacheKey:    key,
		GeneratedAt: time.Now().UTC(),
	}

	if fe := f.enter(ctx, StateMetadata{State: StateStoring, Message: key.Key}); fe != nil {
		return nil, fe
	}
	if fe := f.store(ctx, key, res, in.Options.Framework); fe != nil {
		return nil, f.fail(ctx, fe)
	}

	if fe := f.enter(ctx, StateMetadata{State: StateCompleted, Result: res}); fe != nil {
		return nil, fe
	}
	return res, nil
}

// enter moves to md.State unless the flow was cancelled, in which case it
// records the terminal state instead and returns the error.
func (f *Flow) enter(ctx context.Context, md StateMetadata) *cferrors.FlowError {
	if ctx.Err() != nil {
		return f.fail(ctx, f.halt(ctx))
	}
	f.transition(ctx, md)
	return nil
}

// halt classifies the flow's own context error. Nothing recovers from it.
func (f *Flow) halt(ctx context.Context) *cferrors.FlowError {
	fe := f.o.classifier.Classify(ctx.Err(), string(f.State()))
	fe.Recoverable = false
	fe.Retryable = false
	fe.FallbackEligible = false
	return fe
}

// localError classifies a stage failure. A stage that failed because the
// flow was cancelled reports the cancellation instead.
func (f *Flow) localError(ctx context.Context, err error, phase State) *cferrors.FlowError {
	if ctx.Err() != nil {
		return f.halt(ctx)
	}
	return f.o.classifier.Local(err, string(phase))
}

// fail records the terminal state for fe. Only the flow's own cancellation
// ends in cancelled; a collaborator reporting a cancellation is a failure.
func (f *Flow) fail(ctx context.Context, fe *cferrors.FlowError) *cferrors.FlowError {
	to := StateFailed
	if fe.Kind == cferrors.KindCancelled && f.cancelled(ctx) {
		to = StateCancelled
	}
	f.transition(ctx, StateMetadata{State: to, Message: fe.Error(), Error: fe})
	return fe
}

// cancelled reports whether Cancel was called or the flow's context ended
// by cancellation.
func (f *Flow) cancelled(ctx context.Context) bool {
	f.mu.Lock()
	requested := f.cancelRequested
	f.mu.Unlock()
	return requested || errors.Is(ctx.Err(), context.Canceled)
}

// transition appends md to the history and notifies the observer. Illegal
// moves are rejected and logged.
func (f *Flow) transition(ctx context.Context, md StateMetadata) error {
	f.mu.Lock()
	var prev *StateMetadata
	if n := len(f.history); n > 0 {
		p := f.history[n-1]
		prev = &p
	}
	switch {
	case prev == nil && md.State != StateIdle:
		f.mu.Unlock()
		return &TransitionError{From: StateIdle, To: md.State}
	case prev != nil && !canTransition(prev.State, md.State):
		f.mu.Unlock()
		err := &TransitionError{From: prev.State, To: md.State}
		f.logger.Error("rejected state change", slog.String("error", err.Error()))
		return err
	}

	md.Timestamp = time.Now()
	floor := 0
	if prev != nil {
		floor = prev.Progress
	}
	if p, ok := progress[md.State]; ok && p > floor {
		md.Progress = p
	} else {
		md.Progress = floor
	}
	md.RetryCount = f.retries
	md.FallbackIndex = f.fallbackIndex
	if md.Target == "" {
		md.Target = f.target
	}
	f.history = append(f.history, md)
	observer := f.observer
	f.mu.Unlock()

	if prev != nil {
		var phaseErr error
		if md.Error != nil {
			phaseErr = md.Error
		}
		f.o.metrics.RecordPhase(ctx, string(prev.State), md.Timestamp.Sub(prev.Timestamp), phaseErr)
		observability.LogTransition(f.logger, string(prev.State), string(md.State), md.Progress)
	}
	f.notify(observer, md)
	return nil
}

// notify calls the observer, containing any panic it raises.
func (f *Flow) notify(observer Observer, md StateMetadata) {
	if observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("observer panicked",
				slog.String("state", string(md.State)),
				slog.Any("panic", r),
			)
		}
	}()
	observer(md)
}

// runStage runs one local stage, converting a panic into an error.
func (f *Flow) runStage(ctx context.Context, state State, fn StageFunc, timeout time.Duration, in *Input) (err error) {
	if fn == nil {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := f.o.spans.StartPhaseSpan(ctx, string(state))
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Phase: state, Value: r, Stack: string(debug.Stack())}
		}
		f.o.spans.EndSpanWithError(span, err)
	}()

	return fn(ctx, in)
}

// lookup returns the cached result for key, or nil on a miss. Read and
// decode failures count as misses.
func (f *Flow) lookup(ctx context.Context, key cachekey.Key) *Result {
	store := f.o.cache
	if store == nil {
		return nil
	}

	entry, ok, err := store.Get(ctx, key.Key)
	if err != nil {
		observability.LogCacheError(f.logger, "get", key.Key, err)
		ok = false
	}
	var res Result
	if ok {
		if err := json.Unmarshal(entry.Value, &res); err != nil {
			observability.LogCacheError(f.logger, "decode", key.Key, err)
			ok = false
		}
	}
	f.o.metrics.RecordCacheLookup(ctx, ok)
	if !ok {
		return nil
	}

	res.FromCache = true
	res.CacheKey = key
	return &res
}

// store writes res under key. Failures are logged and only fail the run
// when cache writes are configured as fatal.
func (f *Flow) store(ctx context.Context, key cachekey.Key, res *Result, framework string) *cferrors.FlowError {
	store := f.o.cache
	if store == nil {
		return nil
	}

	data, err := json.Marshal(res)
	if err == nil {
		err = store.Set(ctx, key.Key, data, f.o.cacheTTL, map[string]string{
			"framework": framework,
			"target":    res.Target,
			"model":     res.Model,
		})
	}
	if err == nil {
		return nil
	}

	observability.LogCacheError(f.logger, "set", key.Key, err)
	if f.o.cacheWriteFatal && !errors.Is(err, context.Canceled) {
		return f.o.classifier.Local(err, string(StateStoring))
	}
	return nil
}

// report snapshots the run.
func (f *Flow) report(res *Result, fe *cferrors.FlowError) *Report {
	history := f.History()
	r := &Report{FlowID: f.id, History: history, Result: res, Err: fe}
	if n := len(history); n > 0 {
		r.Final = history[n-1]
		r.Duration = r.Final.Timestamp.Sub(history[0].Timestamp)
	}
	return r
}

func promptData(in *Input) prompt.Data {
	extra := maps.Clone(in.Context.Extra)
	if extra == nil {
		extra = make(map[string]any, len(in.Options.Extra))
	}
	maps.Copy(extra, in.Options.Extra)

	return prompt.Data{
		Framework:  in.Options.Framework,
		Styling:    in.Options.Styling,
		TypeScript: in.Options.TypeScript,
		Markup:     in.Markup,
		Styles:     in.Styles,
		Frameworks: in.Context.Frameworks,
		Libraries:  in.Context.Libraries,
		Extra:      extra,
	}
}
