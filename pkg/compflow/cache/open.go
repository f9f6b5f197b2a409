package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backend kinds accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Settings selects and sizes a cache.
type Settings struct {
	Backend       string        `json:"backend" yaml:"backend"`
	Path          string        `json:"path,omitempty" yaml:"path,omitempty"`
	URL           string        `json:"url,omitempty" yaml:"url,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Prefix        string        `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	MaxSize       int           `json:"max_size,omitempty" yaml:"max_size,omitempty"`
	DefaultTTL    time.Duration `json:"default_ttl,omitempty" yaml:"default_ttl,omitempty"`
	SweepInterval time.Duration `json:"sweep_interval,omitempty" yaml:"sweep_interval,omitempty"`
}

// NewBackend builds the backend named by s.Backend. An empty kind selects
// the in-memory backend.
func NewBackend(ctx context.Context, s Settings) (Backend, error) {
	switch s.Backend {
	case "", BackendMemory:
		return NewMemoryBackend(), nil
	case BackendSQLite:
		path := s.Path
		if path == "" {
			path = "compflow-cache.db"
		}
		return NewSQLiteBackend(path)
	case BackendRedis:
		if s.URL == "" {
			return nil, fmt.Errorf("cache: redis backend requires a url")
		}
		return OpenRedis(ctx, s.URL, s.Password, s.Prefix)
	case BackendPostgres:
		if s.URL == "" {
			return nil, fmt.Errorf("cache: postgres backend requires a url")
		}
		return NewPostgresBackend(ctx, s.URL)
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", s.Backend)
	}
}

// Open builds a Store from settings. When SweepInterval is positive a
// sweeper runs until ctx is done or the store is closed.
func Open(ctx context.Context, s Settings, logger *slog.Logger) (*Store, error) {
	backend, err := NewBackend(ctx, s)
	if err != nil {
		return nil, err
	}

	opts := []Option{WithLogger(logger)}
	if s.MaxSize > 0 {
		opts = append(opts, WithMaxSize(s.MaxSize))
	}
	if s.DefaultTTL > 0 {
		opts = append(opts, WithDefaultTTL(s.DefaultTTL))
	}

	store, err := NewStore(ctx, backend, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}

	if s.SweepInterval > 0 {
		store.StartSweeper(ctx, s.SweepInterval)
	}
	return store, nil
}
