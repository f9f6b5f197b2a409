package compflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/compflow/pkg/compflow/cache"
	"github.com/randalmurphal/compflow/pkg/compflow/cachekey"
	"github.com/randalmurphal/compflow/pkg/compflow/config"
	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
	"github.com/randalmurphal/compflow/pkg/compflow/fallback"
	"github.com/randalmurphal/compflow/pkg/compflow/observability"
	"github.com/randalmurphal/compflow/pkg/compflow/prompt"
	"github.com/randalmurphal/compflow/pkg/compflow/remote"
	"github.com/randalmurphal/compflow/pkg/compflow/retry"
)

// Orchestrator holds the collaborators shared by every flow it starts.
// It is safe for concurrent use; each Flow runs on its caller's goroutine.
type Orchestrator struct {
	caller  remote.Caller
	cache   *cache.Store
	keys    *cachekey.Generator
	keyOpts []cachekey.Option
	stages  Stages
	prompts *prompt.Builder

	retryCfg   retry.Config
	policy     *retry.Policy
	classifier cferrors.Classifier
	fallbacks  []string
	primary    string
	chain      fallback.Chain
	manager    *fallback.Manager

	remoteTimeout   time.Duration
	extractTimeout  time.Duration
	cacheTTL        time.Duration
	cacheWriteFatal bool

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	// ownsCache is set when the store was opened by NewFromSettings.
	ownsCache bool
}

// New creates an Orchestrator that calls caller for generation.
func New(caller remote.Caller, opts ...Option) (*Orchestrator, error) {
	if caller == nil {
		return nil, ErrNilCaller
	}

	o := &Orchestrator{
		caller:        caller,
		prompts:       prompt.NewBuilder(),
		retryCfg:      retry.DefaultConfig,
		policy:        retry.NewPolicy(),
		primary:       DefaultPrimaryTarget,
		remoteTimeout: config.DefaultRemoteTimeout,
		logger:        slog.Default(),
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := o.retryCfg.Validate(); err != nil {
		return nil, fmt.Errorf("retry config: %w", err)
	}
	if o.keys == nil {
		g, err := cachekey.NewGenerator(o.keyOpts...)
		if err != nil {
			return nil, fmt.Errorf("cache key generator: %w", err)
		}
		o.keys = g
	}

	o.classifier = o.retryCfg.Classifier()
	o.chain = fallback.NewChain(o.fallbacks...).Without(o.primary)
	o.manager = fallback.NewManager(
		fallback.WithClassifier(o.classifier),
		fallback.WithPhase(string(StateFallback)),
		fallback.WithLogger(o.logger),
	)
	return o, nil
}

// NewFromSettings builds the remote caller and cache store described by s
// and returns an Orchestrator that owns them. Close releases the store.
func NewFromSettings(ctx context.Context, s config.Settings, opts ...Option) (*Orchestrator, error) {
	caller, err := NewCaller(s.Remote)
	if err != nil {
		return nil, err
	}

	// Options may carry a logger; resolve it before opening the cache.
	probe := &Orchestrator{logger: slog.Default()}
	for _, opt := range opts {
		opt(probe)
	}

	store, err := cache.Open(ctx, s.Cache, probe.logger)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	all := append([]Option{WithSettings(s), WithCache(store)}, opts...)
	o, err := New(caller, all...)
	if err != nil {
		store.Close()
		return nil, err
	}
	o.ownsCache = true
	return o, nil
}

// NewCaller builds the remote caller selected by s.
func NewCaller(s config.RemoteSettings) (remote.Caller, error) {
	switch s.Kind {
	case config.RemoteHTTP:
		var opts []remote.HTTPOption
		if s.APIKey != "" {
			opts = append(opts, remote.WithAPIKey(s.APIKey))
		}
		return remote.NewHTTPCaller(s.Endpoint, opts...), nil
	case config.RemoteCLI:
		return remote.NewCLICaller(s.Path), nil
	case config.RemoteMock:
		return remote.NewMockCaller(s.Response), nil
	default:
		return nil, &cferrors.ValidationError{Field: "remote.kind", Message: fmt.Sprintf("unknown kind %q", s.Kind)}
	}
}

// Cache returns the shared store, or nil when caching is off.
func (o *Orchestrator) Cache() *cache.Store {
	return o.cache
}

// KeyGenerator returns the generator used for cache keys.
func (o *Orchestrator) KeyGenerator() *cachekey.Generator {
	return o.keys
}

// Key derives the cache key a flow would use for in, without running it.
// Stages are not applied.
func (o *Orchestrator) Key(in Input) (cachekey.Key, error) {
	return in.Key(o.keys)
}

// Fallbacks returns the effective fallback chain.
func (o *Orchestrator) Fallbacks() []string {
	return o.chain.Targets()
}

// NewFlow creates a flow ready to execute once.
func (o *Orchestrator) NewFlow() *Flow {
	return newFlow(o)
}

// Execute runs in on a new flow.
func (o *Orchestrator) Execute(ctx context.Context, in Input, observer Observer) (*Report, error) {
	return o.NewFlow().Execute(ctx, in, observer)
}

// Close releases a cache store opened by NewFromSettings. Stores passed
// in with WithCache are left to their owner.
func (o *Orchestrator) Close() error {
	if o.ownsCache && o.cache != nil {
		return o.cache.Close()
	}
	return nil
}
