package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend.
// Data is lost when the process exits.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   map[string]memoryItem
	seq    uint64
	now    func() time.Time
	closed bool
}

type memoryItem struct {
	data      []byte
	seq       uint64
	expiresAt time.Time
}

func (it memoryItem) live(now time.Time) bool {
	return it.expiresAt.IsZero() || now.Before(it.expiresAt)
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string]memoryItem),
		now:  time.Now,
	}
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	it, ok := m.data[key]
	if !ok || !it.live(m.now()) {
		return nil, ErrNotFound
	}

	// Return a copy to prevent modification
	out := make([]byte, len(it.data))
	copy(out, it.data)
	return out, nil
}

// Set implements Backend.
func (m *MemoryBackend) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	// Copy data to avoid retaining caller's slice
	stored := make([]byte, len(data))
	copy(stored, data)

	m.seq++
	it := memoryItem{data: stored, seq: m.seq}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = it
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.data, key)
	return nil
}

// Clear implements Backend.
func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.data = make(map[string]memoryItem)
	return nil
}

// Keys implements Backend.
func (m *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	now := m.now()
	type keyed struct {
		key string
		seq uint64
	}
	live := make([]keyed, 0, len(m.data))
	for k, it := range m.data {
		if it.live(now) {
			live = append(live, keyed{k, it.seq})
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].seq < live[j].seq
	})

	keys := make([]string, len(live))
	for i, k := range live {
		keys[i] = k.key
	}
	return keys, nil
}

// Len implements Backend.
func (m *MemoryBackend) Len(ctx context.Context) (int, error) {
	keys, err := m.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}
