package cache

import (
	"context"
	"errors"
	"time"
)

// purger is implemented by backends that can drop expired rows in bulk.
type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweep removes every expired entry and returns how many were removed.
// It applies the same expiry rule as Get, so an entry Get would refuse is
// exactly an entry Sweep deletes.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	removed := 0
	now := s.now()
	for _, key := range s.Keys() {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		l := s.lock(key)
		l.Lock()
		data, err := s.backend.Get(ctx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			// Backend TTL got there first.
			s.forget(key)
			removed++
			s.expirations.Add(1)
		case err != nil:
			l.Unlock()
			return removed, err
		default:
			entry, derr := decodeEntry(data)
			if derr != nil || entry.Expired(now) {
				s.drop(ctx, key)
				removed++
				if derr == nil {
					s.expirations.Add(1)
				}
			}
		}
		l.Unlock()
	}

	if p, ok := s.backend.(purger); ok {
		if _, err := p.PurgeExpired(ctx); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// StartSweeper runs Sweep every interval until ctx is done or the store is
// closed. Non-positive intervals are ignored.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.closed.Load() {
		return
	}

	s.sweepers.Add(1)
	go func() {
		defer s.sweepers.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				n, err := s.Sweep(ctx)
				if err != nil && !errors.Is(err, ErrClosed) && ctx.Err() == nil {
					s.logger.Warn("cache sweep failed", "error", err)
					continue
				}
				if n > 0 {
					s.logger.Debug("cache sweep removed expired entries", "count", n)
				}
			}
		}
	}()
}
