package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/compflow/pkg/compflow/cache"
	"github.com/randalmurphal/compflow/pkg/compflow/cachekey"
	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
	"github.com/randalmurphal/compflow/pkg/compflow/retry"
)

// Remote caller kinds.
const (
	RemoteHTTP = "http"
	RemoteCLI  = "cli"
	RemoteMock = "mock"
)

// DefaultRemoteTimeout bounds each remote attempt when a document does not.
const DefaultRemoteTimeout = 60 * time.Second

// RemoteSettings selects the remote caller.
type RemoteSettings struct {
	Kind     string
	Endpoint string
	APIKey   string
	Path     string
	Timeout  time.Duration

	// Response is the canned content used by the mock caller.
	Response string
}

// KeySettings configures cache-key generation.
type KeySettings struct {
	Algorithm cachekey.Algorithm
	Prefix    string
	Version   int
}

// Options converts k into generator options. An empty algorithm keeps the
// generator's default.
func (k KeySettings) Options() []cachekey.Option {
	opts := []cachekey.Option{
		cachekey.WithPrefix(k.Prefix),
		cachekey.WithVersion(k.Version),
	}
	if k.Algorithm != "" {
		opts = append(opts, cachekey.WithAlgorithm(k.Algorithm))
	}
	return opts
}

// Settings is a resolved flow configuration.
type Settings struct {
	PrimaryTarget  string
	Fallbacks      []string
	ExtractTimeout time.Duration
	Remote         RemoteSettings
	Retry          retry.Config
	Cache          cache.Settings
	Key            KeySettings

	// CacheTTL is the lifetime given to generated results. Zero defers to
	// the store's default TTL.
	CacheTTL time.Duration

	// CacheWriteFatal fails a run whose result could not be stored.
	CacheWriteFatal bool

	LogLevel string
}

// SettingsFrom resolves a document into Settings, filling defaults for
// anything missing, and validates the result.
func SettingsFrom(cfg Config) (Settings, error) {
	def := retry.DefaultConfig

	s := Settings{
		PrimaryTarget:   cfg.String("primary_target", ""),
		Fallbacks:       cfg.StringSlice("fallbacks", nil),
		ExtractTimeout:  cfg.Duration("extract_timeout", 0),
		CacheTTL:        cfg.Duration("cache.ttl", 0),
		CacheWriteFatal: cfg.Bool("cache.write_fatal", false),
		LogLevel:        cfg.String("log_level", "info"),
		Remote: RemoteSettings{
			Kind:     strings.ToLower(cfg.String("remote.kind", RemoteHTTP)),
			Endpoint: cfg.String("remote.endpoint", ""),
			APIKey:   cfg.String("remote.api_key", ""),
			Path:     cfg.String("remote.path", ""),
			Timeout:  cfg.Duration("remote.timeout", DefaultRemoteTimeout),
			Response: cfg.String("remote.response", ""),
		},
		Retry: retry.Config{
			MaxAttempts:       cfg.Int("retry.max_attempts", def.MaxAttempts),
			InitialDelay:      cfg.Duration("retry.initial_delay", def.InitialDelay),
			MaxDelay:          cfg.Duration("retry.max_delay", def.MaxDelay),
			BackoffMultiplier: cfg.Float("retry.backoff_multiplier", def.BackoffMultiplier),
			JitterFactor:      cfg.Float("retry.jitter_factor", def.JitterFactor),
			RetryOn4xx:        cfg.Bool("retry.retry_on_4xx", def.RetryOn4xx),
			RetryOn5xx:        cfg.Bool("retry.retry_on_5xx", def.RetryOn5xx),
		},
		Cache: cache.Settings{
			Backend:       strings.ToLower(cfg.String("cache.backend", cache.BackendMemory)),
			Path:          cfg.String("cache.path", ""),
			URL:           cfg.String("cache.url", ""),
			Password:      cfg.String("cache.password", ""),
			Prefix:        cfg.String("cache.prefix", ""),
			MaxSize:       cfg.Int("cache.max_size", cache.DefaultMaxSize),
			DefaultTTL:    cfg.Duration("cache.default_ttl", cache.DefaultTTL),
			SweepInterval: cfg.Duration("cache.sweep_interval", 0),
		},
		Key: KeySettings{
			Prefix:  cfg.String("cache.key_prefix", ""),
			Version: cfg.Int("cache.key_version", 0),
		},
	}

	alg, err := cachekey.ParseAlgorithm(cfg.String("cache.hash_algorithm", ""))
	if err != nil {
		return Settings{}, err
	}
	s.Key.Algorithm = alg

	kinds := def.RetryableKinds
	if cfg.Has("retry.retryable_kinds") {
		kinds = nil
		for _, name := range cfg.StringSlice("retry.retryable_kinds", nil) {
			k, err := cferrors.ParseKind(strings.ToUpper(strings.TrimSpace(name)))
			if err != nil {
				return Settings{}, &cferrors.ValidationError{Field: "retry.retryable_kinds", Message: err.Error()}
			}
			kinds = append(kinds, k)
		}
	}
	s.Retry.RetryableKinds = append([]cferrors.Kind(nil), kinds...)

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks cross-field constraints.
func (s Settings) Validate() error {
	if err := s.Retry.Validate(); err != nil {
		return err
	}
	switch s.Remote.Kind {
	case RemoteHTTP:
		if s.Remote.Endpoint == "" {
			return &cferrors.ValidationError{Field: "remote.endpoint", Message: "required for http remote"}
		}
	case RemoteCLI:
		if s.Remote.Path == "" {
			return &cferrors.ValidationError{Field: "remote.path", Message: "required for cli remote"}
		}
	case RemoteMock:
	default:
		return &cferrors.ValidationError{Field: "remote.kind", Message: fmt.Sprintf("unknown kind %q", s.Remote.Kind)}
	}
	switch s.Cache.Backend {
	case cache.BackendMemory, cache.BackendSQLite, cache.BackendRedis, cache.BackendPostgres:
	default:
		return &cferrors.ValidationError{Field: "cache.backend", Message: fmt.Sprintf("unknown backend %q", s.Cache.Backend)}
	}
	if s.Remote.Timeout < 0 || s.ExtractTimeout < 0 {
		return &cferrors.ValidationError{Field: "timeout", Message: "must not be negative"}
	}
	if s.Key.Version < 0 {
		return &cferrors.ValidationError{Field: "cache.key_version", Message: "must not be negative"}
	}
	return nil
}
