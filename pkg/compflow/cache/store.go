package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	// DefaultMaxSize is the entry bound used when WithMaxSize is not given.
	DefaultMaxSize = 1000

	// DefaultTTL is the lifetime applied to entries stored without a TTL.
	DefaultTTL = time.Hour

	stripes = 64
)

// Stats is an advisory snapshot of store activity.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Size        int   `json:"size"`
	MaxSize     int   `json:"max_size"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSize bounds the number of entries. Values below 1 are ignored.
func WithMaxSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithDefaultTTL sets the TTL used when Set is called with ttl <= 0.
// A zero default stores such entries without expiry.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl >= 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for degraded reads and failed evictions.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store is a size-bounded TTL cache over a Backend.
//
// Recency lives in an in-process LRU index; values live in the backend.
// Operations on the same key are serialised by a striped lock, and the
// index lock is never held across backend I/O.
//
// The index is per process. Over a shared backend (Redis, Postgres) each
// Store bounds and evicts by its own view of recency, so one host's
// eviction deletes an entry other hosts may still be reading; they see a
// miss and regenerate. Give shared deployments a MaxSize no smaller than
// the combined working set, or rely on TTLs alone.
type Store struct {
	backend    Backend
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.Mutex
	index   *simplelru.LRU[string, struct{}]
	adding  bool
	evicted []string

	locks [stripes]sync.Mutex

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	sweepers  sync.WaitGroup
}

// NewStore creates a Store over backend. Keys already present in the
// backend are adopted oldest first; any beyond the size bound are evicted.
func NewStore(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("cache: nil backend")
	}

	s := &Store{
		backend:    backend,
		maxSize:    DefaultMaxSize,
		defaultTTL: DefaultTTL,
		now:        time.Now,
		logger:     slog.Default(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	index, err := simplelru.NewLRU[string, struct{}](s.maxSize, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create lru index: %w", err)
	}
	s.index = index

	keys, err := backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed cache index: %w", err)
	}
	s.mu.Lock()
	for _, k := range keys {
		s.add(k)
	}
	pending := s.takeEvicted()
	s.mu.Unlock()
	s.purge(ctx, pending)

	return s, nil
}

// onEvict runs under s.mu. simplelru also calls it for Remove and Purge,
// so only capacity evictions during add are recorded. Backend deletion
// happens after the lock is released.
func (s *Store) onEvict(key string, _ struct{}) {
	if !s.adding {
		return
	}
	s.evicted = append(s.evicted, key)
	s.evictions.Add(1)
}

// add must be called with s.mu held.
func (s *Store) add(key string) {
	s.adding = true
	s.index.Add(key, struct{}{})
	s.adding = false
}

// takeEvicted must be called with s.mu held.
func (s *Store) takeEvicted() []string {
	if len(s.evicted) == 0 {
		return nil
	}
	out := s.evicted
	s.evicted = nil
	return out
}

// purge deletes evicted keys from the backend unless they were re-added in
// the meantime.
func (s *Store) purge(ctx context.Context, keys []string) {
	for _, k := range keys {
		l := s.lock(k)
		l.Lock()
		s.mu.Lock()
		back := s.index.Contains(k)
		s.mu.Unlock()
		if !back {
			if err := s.backend.Delete(ctx, k); err != nil {
				s.logger.Warn("cache eviction delete failed", "cache_key", k, "error", err)
			}
		}
		l.Unlock()
	}
}

func (s *Store) lock(key string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(key)%stripes]
}

// track marks key as most recently used, adding it to the index if needed.
// Returns keys evicted to make room.
func (s *Store) track(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index.Get(key); !ok {
		s.add(key)
	}
	return s.takeEvicted()
}

func (s *Store) forget(key string) {
	s.mu.Lock()
	s.index.Remove(key)
	s.mu.Unlock()
}

// Get returns the entry stored at key. The boolean is false on a miss,
// including when the entry has expired. The returned entry is a copy.
func (s *Store) Get(ctx context.Context, key string) (Entry, bool, error) {
	if s.closed.Load() {
		return Entry{}, false, ErrClosed
	}

	l := s.lock(key)
	l.Lock()

	data, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		s.forget(key)
		l.Unlock()
		s.misses.Add(1)
		return Entry{}, false, nil
	}
	if err != nil {
		l.Unlock()
		s.misses.Add(1)
		return Entry{}, false, fmt.Errorf("cache get %q: %w", key, err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		s.logger.Warn("discarding unreadable cache entry", "cache_key", key, "error", err)
		s.drop(ctx, key)
		l.Unlock()
		s.misses.Add(1)
		return Entry{}, false, nil
	}

	if entry.Expired(s.now()) {
		s.drop(ctx, key)
		l.Unlock()
		s.expirations.Add(1)
		s.misses.Add(1)
		return Entry{}, false, nil
	}

	pending := s.track(key)
	l.Unlock()
	s.purge(ctx, pending)

	s.hits.Add(1)
	entry.Key = key
	return entry.clone(), true, nil
}

// drop removes key from backend and index. Caller holds the key's stripe.
func (s *Store) drop(ctx context.Context, key string) {
	s.forget(key)
	if err := s.backend.Delete(ctx, key); err != nil {
		s.logger.Warn("cache delete failed", "cache_key", key, "error", err)
	}
}

// Set stores value at key, replacing any existing entry. A ttl <= 0 uses
// the store's default TTL. Storing may evict the least recently used entry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration, meta map[string]string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return errors.New("cache: empty key")
	}

	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := s.now()
	entry := Entry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		Metadata:  meta,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	data, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	l := s.lock(key)
	l.Lock()
	if err := s.backend.Set(ctx, key, data, ttl); err != nil {
		l.Unlock()
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	pending := s.track(key)
	l.Unlock()

	s.purge(ctx, pending)
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	s.forget(key)
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}

	for i := range s.locks {
		s.locks[i].Lock()
	}
	defer func() {
		for i := range s.locks {
			s.locks[i].Unlock()
		}
	}()

	s.mu.Lock()
	s.index.Purge()
	s.evicted = nil
	s.mu.Unlock()

	if err := s.backend.Clear(ctx); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Size returns the number of indexed entries. It never exceeds MaxSize.
// Expired entries count until a read or sweep removes them.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Len()
}

// MaxSize returns the configured entry bound.
func (s *Store) MaxSize() int { return s.maxSize }

// Keys returns indexed keys from least to most recently used.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Keys()
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
		Size:        s.Size(),
		MaxSize:     s.maxSize,
	}
}

// Close stops any sweepers and closes the backend.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.sweepers.Wait()
		err = s.backend.Close()
	})
	return err
}
