package compflow_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/randalmurphal/compflow/pkg/compflow"
	"github.com/randalmurphal/compflow/pkg/compflow/cache"
	"github.com/randalmurphal/compflow/pkg/compflow/config"
	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
	"github.com/randalmurphal/compflow/pkg/compflow/observability"
	"github.com/randalmurphal/compflow/pkg/compflow/remote"
	"github.com/randalmurphal/compflow/pkg/compflow/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"
)

// TestExecute_HappyPath verifies the full pipeline with a cold cache.
func TestExecute_HappyPath(t *testing.T) {
	caller := remote.NewMockCaller(component)
	store := newStore(t)
	o := newOrchestrator(t, caller, compflow.WithCache(store))

	rec := &recorder{}
	report, err := o.Execute(testCtx(t), button(), rec.observe)

	require.NoError(t, err)
	require.NotNil(t, report.Result)
	assert.Equal(t, "export function Button() { return <button>Go</button> }", report.Result.Code)
	assert.Equal(t, component, report.Result.Raw)
	assert.Equal(t, "primary", report.Result.Target)
	assert.False(t, report.Result.FromCache)
	assert.NotEmpty(t, report.Result.CacheKey.Key)

	assert.Equal(t, []compflow.State{
		compflow.StateIdle,
		compflow.StateSelecting,
		compflow.StateExtracting,
		compflow.StateDetecting,
		compflow.StateCleaning,
		compflow.StateHashing,
		compflow.StateCheckingCache,
		compflow.StateGeneratingPrompt,
		compflow.StateCallingRemote,
		compflow.StateProcessingResponse,
		compflow.StateStoring,
		compflow.StateCompleted,
	}, rec.states())
	assert.Equal(t, statesOf(report.History), rec.states())
	assert.Equal(t, compflow.StateCompleted, report.Final.State)
	assert.Equal(t, 100, report.Final.Progress)
	assert.Equal(t, 1, store.Size())

	req := caller.LastCall()
	require.NotNil(t, req)
	assert.Equal(t, "primary", req.Target)
	assert.Equal(t, 1, req.Attempt)
	assert.Contains(t, req.Prompt, `<button class="btn">Go</button>`)
	assert.NotEmpty(t, req.SystemPrompt)
}

// TestExecute_CacheHit verifies a repeated input is served from the cache
// without a remote call.
func TestExecute_CacheHit(t *testing.T) {
	caller := remote.NewMockCaller(component)
	o := newOrchestrator(t, caller, compflow.WithCache(newStore(t)))

	first, err := o.Execute(testCtx(t), button(), nil)
	require.NoError(t, err)

	rec := &recorder{}
	second, err := o.Execute(testCtx(t), button(), rec.observe)
	require.NoError(t, err)

	assert.Equal(t, 1, caller.CallCount())
	assert.True(t, second.Result.FromCache)
	assert.Equal(t, first.Result.Code, second.Result.Code)
	assert.Equal(t, first.Result.CacheKey.Key, second.Result.CacheKey.Key)

	states := rec.states()
	assert.Equal(t, []compflow.State{compflow.StateCacheHit, compflow.StateCompleted}, states[len(states)-2:])
	assert.Zero(t, count(states, compflow.StateGeneratingPrompt))
	assert.Zero(t, count(states, compflow.StateCallingRemote))
	assert.Equal(t, 100, second.Final.Progress)
}

// TestExecute_OptionsChangeKey verifies a different framework misses the cache.
func TestExecute_OptionsChangeKey(t *testing.T) {
	caller := remote.NewMockCaller(component)
	o := newOrchestrator(t, caller, compflow.WithCache(newStore(t)))

	_, err := o.Execute(testCtx(t), button(), nil)
	require.NoError(t, err)

	in := button()
	in.Options.Framework = "vue"
	report, err := o.Execute(testCtx(t), in, nil)
	require.NoError(t, err)

	assert.False(t, report.Result.FromCache)
	assert.Equal(t, 2, caller.CallCount())
}

// TestExecute_RetryThenFallback verifies the primary gets its full retry
// budget before the first fallback target is tried once.
func TestExecute_RetryThenFallback(t *testing.T) {
	limited := &cferrors.RateLimitError{Target: "primary"}
	caller := remote.NewMockCaller("").
		Script("primary", remote.Fail(limited)).
		Script("backup", remote.Succeed(component))
	o := newOrchestrator(t, caller, compflow.WithFallbacks("backup", "spare"))

	rec := &recorder{}
	report, err := o.Execute(testCtx(t), button(), rec.observe)

	require.NoError(t, err)
	assert.Equal(t, "backup", report.Result.Target)
	assert.Equal(t, 3, caller.CallsTo("primary"))
	assert.Equal(t, 1, caller.CallsTo("backup"))
	assert.Zero(t, caller.CallsTo("spare"))

	states := rec.states()
	assert.Equal(t, 4, count(states, compflow.StateCallingRemote))
	assert.Equal(t, 2, count(states, compflow.StateRetrying))
	assert.Equal(t, 1, count(states, compflow.StateFallback))
	assert.Equal(t, compflow.StateCompleted, states[len(states)-1])

	for _, md := range report.History {
		if md.State == compflow.StateFallback {
			assert.Equal(t, 0, md.FallbackIndex)
			assert.Equal(t, "backup", md.Target)
			require.NotNil(t, md.Error)
			assert.Equal(t, cferrors.KindRateLimited, md.Error.Kind)
		}
	}

	attempts := make([]int, 0, len(caller.Calls))
	for _, c := range caller.Calls {
		attempts = append(attempts, c.Attempt)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
}

// TestExecute_FallbacksExhausted verifies every fallback target is tried
// exactly once before the run fails.
func TestExecute_FallbacksExhausted(t *testing.T) {
	caller := remote.NewMockCaller("").WithError(&cferrors.NetworkError{Target: "any", Err: errors.New("connection reset")})
	o := newOrchestrator(t, caller, compflow.WithFallbacks("b", "c", "primary"))

	report, err := o.Execute(testCtx(t), button(), nil)

	require.Error(t, err)
	fe, ok := cferrors.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, cferrors.KindNetwork, fe.Kind)
	assert.Equal(t, "fallback", fe.Phase)
	assert.True(t, fe.RetryAttempted)
	assert.True(t, fe.FallbackAttempted)
	assert.Equal(t, 2, fe.FallbacksTried)

	assert.Equal(t, 3, caller.CallsTo("primary"), "primary is not repeated as a fallback")
	assert.Equal(t, 1, caller.CallsTo("b"))
	assert.Equal(t, 1, caller.CallsTo("c"))
	assert.Equal(t, compflow.StateFailed, report.Final.State)
	assert.Same(t, fe, report.Err)
	assert.Equal(t, []string{"b", "c"}, o.Fallbacks())
}

// TestExecute_NotRetryable verifies a client error fails on the first attempt.
func TestExecute_NotRetryable(t *testing.T) {
	caller := remote.NewMockCaller("").WithError(&cferrors.StatusError{StatusCode: 400, Message: "bad prompt"})
	o := newOrchestrator(t, caller, compflow.WithFallbacks("backup"))

	rec := &recorder{}
	report, err := o.Execute(testCtx(t), button(), rec.observe)

	require.Error(t, err)
	assert.Equal(t, 1, caller.CallCount())
	assert.False(t, cferrors.IsRetryable(err))
	assert.Zero(t, count(rec.states(), compflow.StateRetrying))
	assert.Zero(t, count(rec.states(), compflow.StateFallback))
	assert.Equal(t, compflow.StateFailed, report.Final.State)
	assert.Equal(t, 400, report.Err.StatusCode)
}

// TestExecute_RemoteTimeout verifies a slow attempt is cut off and reported
// as a timeout.
func TestExecute_RemoteTimeout(t *testing.T) {
	caller := remote.NewMockCaller(component).WithDelay(time.Second)
	o := newOrchestrator(t, caller,
		compflow.WithRetryConfig(retry.NoRetry),
		compflow.WithRemoteTimeout(20*time.Millisecond),
	)

	start := time.Now()
	report, err := o.Execute(testCtx(t), button(), nil)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, cferrors.KindTimeout, report.Err.Kind)
	assert.Equal(t, compflow.StateFailed, report.Final.State)

	var te *cferrors.TimeoutError
	assert.ErrorAs(t, err, &te)
}

// TestExecute_CancelDuringBackoff verifies cancellation interrupts a
// backoff wait and ends the run as cancelled.
func TestExecute_CancelDuringBackoff(t *testing.T) {
	caller := remote.NewMockCaller("").WithError(&cferrors.RateLimitError{Target: "primary"})
	slow := fastRetry
	slow.InitialDelay = time.Minute
	slow.MaxDelay = time.Minute
	o := newOrchestrator(t, caller, compflow.WithRetryConfig(slow), compflow.WithFallbacks("backup"))

	flow := o.NewFlow()
	start := time.Now()
	report, err := flow.Execute(testCtx(t), button(), func(md compflow.StateMetadata) {
		if md.State == compflow.StateRetrying {
			flow.Cancel()
		}
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, cferrors.KindCancelled, report.Err.Kind)
	assert.Equal(t, compflow.StateCancelled, report.Final.State)
	assert.Equal(t, compflow.StateCancelled, flow.State())
	assert.Equal(t, 1, caller.CallCount())
	assert.Zero(t, caller.CallsTo("backup"))
}

// TestExecute_ContextCancelled verifies a cancelled parent context ends the
// run as cancelled before any work.
func TestExecute_ContextCancelled(t *testing.T) {
	caller := remote.NewMockCaller(component)
	o := newOrchestrator(t, caller)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := o.Execute(ctx, button(), nil)

	require.Error(t, err)
	assert.Equal(t, []compflow.State{compflow.StateIdle, compflow.StateCancelled}, statesOf(report.History))
	assert.Zero(t, caller.CallCount())
}

// TestFlow_CancelBeforeExecute verifies an early Cancel is honoured.
func TestFlow_CancelBeforeExecute(t *testing.T) {
	caller := remote.NewMockCaller(component)
	o := newOrchestrator(t, caller)

	flow := o.NewFlow()
	flow.Cancel()
	report, err := flow.Execute(testCtx(t), button(), nil)

	require.Error(t, err)
	assert.Equal(t, compflow.StateCancelled, report.Final.State)
	assert.Zero(t, caller.CallCount())
}

// TestFlow_ExecuteTwice verifies a flow runs only once.
func TestFlow_ExecuteTwice(t *testing.T) {
	o := newOrchestrator(t, remote.NewMockCaller(component))
	flow := o.NewFlow()

	_, err := flow.Execute(testCtx(t), button(), nil)
	require.NoError(t, err)

	report, err := flow.Execute(testCtx(t), button(), nil)
	assert.ErrorIs(t, err, compflow.ErrFlowAlreadyStarted)
	assert.Nil(t, report)
	assert.Equal(t, compflow.StateCompleted, flow.State())
}

// TestExecute_ObserverPanic verifies a panicking observer does not stop
// the run.
func TestExecute_ObserverPanic(t *testing.T) {
	o := newOrchestrator(t, remote.NewMockCaller(component))

	report, err := o.Execute(testCtx(t), button(), func(md compflow.StateMetadata) {
		panic("observer bug in " + string(md.State))
	})

	require.NoError(t, err)
	assert.Equal(t, compflow.StateCompleted, report.Final.State)
}

// TestExecute_CancelWordingFails verifies a collaborator error that merely
// mentions cancelling or aborting ends in failed while the flow itself was
// never cancelled.
func TestExecute_CancelWordingFails(t *testing.T) {
	tests := []struct {
		name   string
		stages compflow.Stages
		remote error
		phase  compflow.State
	}{
		{
			name: "stage aborted",
			stages: compflow.Stages{
				Extract: func(context.Context, *compflow.Input) error {
					return errors.New("extract aborted: selector matched nothing")
				},
			},
			phase: compflow.StateExtracting,
		},
		{
			name: "stage cancelled",
			stages: compflow.Stages{
				Clean: func(context.Context, *compflow.Input) error {
					return errors.New("sanitizer job was cancelled")
				},
			},
			phase: compflow.StateCleaning,
		},
		{
			name:   "remote aborted",
			remote: errors.New("upstream stream aborted by peer"),
			phase:  compflow.StateCallingRemote,
		},
		{
			name:   "remote cancelled",
			remote: errors.New("request cancelled by upstream"),
			phase:  compflow.StateCallingRemote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := remote.NewMockCaller(component)
			if tt.remote != nil {
				caller.WithError(tt.remote)
			}
			o := newOrchestrator(t, caller, compflow.WithStages(tt.stages), compflow.WithFallbacks("backup"))

			rec := &recorder{}
			report, err := o.Execute(testCtx(t), button(), rec.observe)

			require.Error(t, err)
			assert.Equal(t, compflow.StateFailed, report.Final.State)
			assert.Zero(t, count(rec.states(), compflow.StateCancelled))
			assert.Equal(t, string(tt.phase), report.Err.Phase)
			if tt.remote != nil {
				assert.Equal(t, 1, caller.CallCount())
			} else {
				assert.Zero(t, caller.CallCount())
			}
		})
	}
}

// TestExecute_StageFailure verifies local stage failures are not retried
// and never reach the remote.
func TestExecute_StageFailure(t *testing.T) {
	tests := []struct {
		name   string
		stages compflow.Stages
		phase  compflow.State
	}{
		{
			name: "error",
			stages: compflow.Stages{
				Extract: func(context.Context, *compflow.Input) error { return errors.New("element detached") },
			},
			phase: compflow.StateExtracting,
		},
		{
			name: "panic",
			stages: compflow.Stages{
				Detect: func(context.Context, *compflow.Input) error { panic("nil page") },
			},
			phase: compflow.StateDetecting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := remote.NewMockCaller(component)
			o := newOrchestrator(t, caller, compflow.WithStages(tt.stages), compflow.WithFallbacks("backup"))

			report, err := o.Execute(testCtx(t), button(), nil)

			require.Error(t, err)
			assert.Zero(t, caller.CallCount())
			assert.Equal(t, compflow.StateFailed, report.Final.State)
			assert.Equal(t, string(tt.phase), report.Err.Phase)
			assert.False(t, report.Err.Retryable)
			assert.False(t, report.Err.FallbackEligible)
		})
	}

	var pe *compflow.PanicError
	o := newOrchestrator(t, remote.NewMockCaller(component), compflow.WithStages(tests[1].stages))
	_, err := o.Execute(testCtx(t), button(), nil)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, compflow.StateDetecting, pe.Phase)
	assert.NotEmpty(t, pe.Stack)
}

// TestExecute_StagesRewriteInput verifies stages see and edit the input
// while the caller's value stays untouched.
func TestExecute_StagesRewriteInput(t *testing.T) {
	caller := remote.NewMockCaller(component)
	o := newOrchestrator(t, caller, compflow.WithStages(compflow.Stages{
		Extract: func(_ context.Context, in *compflow.Input) error {
			in.Markup = "<section>extracted</section>"
			return nil
		},
		Clean: func(_ context.Context, in *compflow.Input) error {
			in.Markup = strings.ToUpper(in.Markup)
			in.Context.Libraries = append(in.Context.Libraries, "tailwind")
			return nil
		},
	}))

	in := button()
	_, err := o.Execute(testCtx(t), in, nil)

	require.NoError(t, err)
	assert.Contains(t, caller.LastCall().Prompt, "<SECTION>EXTRACTED</SECTION>")
	assert.Equal(t, `<button class="btn">Go</button>`, in.Markup)
	assert.Empty(t, in.Context.Libraries)
}

// TestExecute_ExtractTimeout verifies the extract stage is bounded.
func TestExecute_ExtractTimeout(t *testing.T) {
	o := newOrchestrator(t, remote.NewMockCaller(component),
		compflow.WithExtractTimeout(10*time.Millisecond),
		compflow.WithStages(compflow.Stages{
			Extract: func(ctx context.Context, _ *compflow.Input) error {
				<-ctx.Done()
				return ctx.Err()
			},
		}),
	)

	report, err := o.Execute(testCtx(t), button(), nil)

	require.Error(t, err)
	assert.Equal(t, cferrors.KindTimeout, report.Err.Kind)
	assert.Equal(t, string(compflow.StateExtracting), report.Err.Phase)
	assert.Equal(t, compflow.StateFailed, report.Final.State)
}

// TestExecute_Validation verifies bad input fails before any remote call.
func TestExecute_Validation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*compflow.Input)
		phase compflow.State
	}{
		{"missing framework", func(in *compflow.Input) { in.Options.Framework = " " }, compflow.StateIdle},
		{"empty markup", func(in *compflow.Input) { in.Markup = "" }, compflow.StateHashing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := remote.NewMockCaller(component)
			o := newOrchestrator(t, caller)
			in := button()
			tt.edit(&in)

			report, err := o.Execute(testCtx(t), in, nil)

			require.Error(t, err)
			var ve *cferrors.ValidationError
			assert.ErrorAs(t, err, &ve)
			assert.Equal(t, cferrors.KindValidation, report.Err.Kind)
			assert.Equal(t, string(tt.phase), report.Err.Phase)
			assert.Equal(t, compflow.StateFailed, report.Final.State)
			assert.Zero(t, caller.CallCount())
		})
	}
}

// TestExecute_EmptyResponse verifies a blank remote answer fails the run.
func TestExecute_EmptyResponse(t *testing.T) {
	store := newStore(t)
	o := newOrchestrator(t, remote.NewMockCaller("```tsx\n```"), compflow.WithCache(store))

	report, err := o.Execute(testCtx(t), button(), nil)

	require.Error(t, err)
	assert.Equal(t, cferrors.KindValidation, report.Err.Kind)
	assert.Equal(t, string(compflow.StateProcessingResponse), report.Err.Phase)
	assert.Zero(t, store.Size())
}

// TestExecute_CacheWriteFailure verifies write failures only fail the run
// when configured to.
func TestExecute_CacheWriteFailure(t *testing.T) {
	for _, fatal := range []bool{false, true} {
		store, err := cache.NewStore(context.Background(), failingBackend{cache.NewMemoryBackend()}, cache.WithLogger(quietLogger()))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })

		o := newOrchestrator(t, remote.NewMockCaller(component),
			compflow.WithCache(store),
			compflow.WithCacheWriteFatal(fatal),
		)
		report, err := o.Execute(testCtx(t), button(), nil)

		if fatal {
			require.Error(t, err)
			assert.Equal(t, string(compflow.StateStoring), report.Err.Phase)
			assert.Equal(t, compflow.StateFailed, report.Final.State)
		} else {
			require.NoError(t, err)
			assert.Equal(t, compflow.StateCompleted, report.Final.State)
		}
	}
}

// TestExecute_ProgressNeverDecreases verifies progress across a run that
// retries and falls back.
func TestExecute_ProgressNeverDecreases(t *testing.T) {
	caller := remote.NewMockCaller("").
		Script("primary", remote.Fail(&cferrors.RateLimitError{Target: "primary"})).
		Script("b", remote.Fail(&cferrors.StatusError{StatusCode: 502})).
		Script("c", remote.Succeed(component))
	o := newOrchestrator(t, caller, compflow.WithFallbacks("b", "c"))

	report, err := o.Execute(testCtx(t), button(), nil)
	require.NoError(t, err)

	last := -1
	for _, md := range report.History {
		assert.GreaterOrEqual(t, md.Progress, last, "progress dropped at %s", md.State)
		last = md.Progress
	}
	assert.Equal(t, "c", report.Result.Target)
	assert.Equal(t, 2, report.Final.RetryCount)
	assert.Equal(t, 1, report.Final.FallbackIndex)
}

// TestExecute_Concurrent verifies flows sharing an orchestrator and cache
// run independently.
func TestExecute_Concurrent(t *testing.T) {
	caller := remote.NewMockCaller(component)
	o := newOrchestrator(t, caller, compflow.WithCache(newStore(t)))

	g, ctx := errgroup.WithContext(testCtx(t))
	for i := range 8 {
		in := button()
		in.Markup = strings.Repeat("<i></i>", i+1)
		g.Go(func() error {
			_, err := o.Execute(ctx, in, nil)
			return err
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, 8, caller.CallCount())
	assert.Equal(t, 8, o.Cache().Size())
}

// TestExecute_Telemetry verifies metrics and spans are recorded.
func TestExecute_Telemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	caller := remote.NewMockCaller("").
		Script("primary", remote.Fail(&cferrors.StatusError{StatusCode: 500}), remote.Succeed(component))
	o := newOrchestrator(t, caller,
		compflow.WithMetrics(observability.NewMetricsRecorder(mp)),
		compflow.WithSpans(observability.NewSpanManager(tp)),
	)

	_, err := o.Execute(testCtx(t), button(), nil)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	for _, want := range []string{"compflow.flow.runs", "compflow.remote.attempts", "compflow.remote.retries", "compflow.phase.latency_ms"} {
		assert.True(t, names[want], "missing metric %s", want)
	}

	spans := exporter.GetSpans()
	var flows, attempts int
	for _, s := range spans {
		switch s.Name {
		case "compflow.flow":
			flows++
		case "compflow.remote":
			attempts++
		}
	}
	assert.Equal(t, 1, flows)
	assert.Equal(t, 2, attempts)
}

// TestNew verifies constructor validation.
func TestNew(t *testing.T) {
	_, err := compflow.New(nil)
	assert.ErrorIs(t, err, compflow.ErrNilCaller)

	_, err = compflow.New(remote.NewMockCaller(""), compflow.WithRetryConfig(retry.Config{MaxAttempts: 0}))
	assert.Error(t, err)

	o, err := compflow.New(remote.NewMockCaller(""), compflow.WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Nil(t, o.Cache())
	assert.NoError(t, o.Close())
}

// TestOrchestrator_Key verifies the key matches the one a flow stores under.
func TestOrchestrator_Key(t *testing.T) {
	o := newOrchestrator(t, remote.NewMockCaller(component), compflow.WithCache(newStore(t)))

	key, err := o.Key(button())
	require.NoError(t, err)

	report, err := o.Execute(testCtx(t), button(), nil)
	require.NoError(t, err)
	assert.Equal(t, key.Key, report.Result.CacheKey.Key)
	assert.Equal(t, []string{key.Key}, o.Cache().Keys())
}

// TestNewFromSettings verifies an orchestrator built from a document owns
// its cache.
func TestNewFromSettings(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.FromYAML([]byte(`
primary_target: model-a
fallbacks: [model-b]
remote:
  kind: mock
  response: "plain code"
cache:
  backend: sqlite
  path: ` + filepath.Join(dir, "cache.db") + `
retry:
  max_attempts: 2
  initial_delay: 1ms
  max_delay: 2ms
`))
	require.NoError(t, err)
	s, err := config.SettingsFrom(cfg)
	require.NoError(t, err)

	o, err := compflow.NewFromSettings(testCtx(t), s, compflow.WithLogger(quietLogger()))
	require.NoError(t, err)

	report, err := o.Execute(testCtx(t), button(), nil)
	require.NoError(t, err)
	assert.Equal(t, "plain code", report.Result.Code)
	assert.Equal(t, "model-a", report.Result.Target)
	assert.Equal(t, []string{"model-b"}, o.Fallbacks())
	assert.Equal(t, 1, o.Cache().Size())

	require.NoError(t, o.Close())
	_, _, err = o.Cache().Get(context.Background(), report.Result.CacheKey.Key)
	assert.ErrorIs(t, err, cache.ErrClosed)
}

// TestNewCaller verifies caller selection.
func TestNewCaller(t *testing.T) {
	c, err := compflow.NewCaller(config.RemoteSettings{Kind: config.RemoteHTTP, Endpoint: "http://localhost:1"})
	require.NoError(t, err)
	assert.IsType(t, &remote.HTTPCaller{}, c)

	c, err = compflow.NewCaller(config.RemoteSettings{Kind: config.RemoteCLI, Path: "gen"})
	require.NoError(t, err)
	assert.IsType(t, &remote.CLICaller{}, c)

	_, err = compflow.NewCaller(config.RemoteSettings{Kind: "grpc"})
	assert.Error(t, err)
}
