package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Use pgx via database/sql
)

// PostgresBackend stores entries in a shared PostgreSQL table so that
// several processes can reuse each other's results.
//
// Size bounds are enforced per process by Store. An entry evicted by one
// host's Store is deleted from the table for every host.
type PostgresBackend struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewPostgresBackend connects to dsn, verifies the connection and creates
// the cache table if needed.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS compflow_cache (
			key TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			expires_at BIGINT NOT NULL DEFAULT 0,
			written_at BIGINT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_compflow_cache_expires_at
		ON compflow_cache(expires_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &PostgresBackend{db: db}, nil
}

// Get implements Backend.
func (p *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	var data []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT data FROM compflow_cache
		WHERE key = $1 AND (expires_at = 0 OR expires_at > $2)
	`, key, time.Now().UnixNano()).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load cache entry: %w", err)
	}
	return data, nil
}

// Set implements Backend.
func (p *PostgresBackend) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if p.closed.Load() {
		return ErrClosed
	}

	now := time.Now()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixNano()
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO compflow_cache (key, data, expires_at, written_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			data = EXCLUDED.data,
			expires_at = EXCLUDED.expires_at,
			written_at = EXCLUDED.written_at
	`, key, data, expiresAt, now.UnixNano())
	if err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM compflow_cache WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Clear implements Backend.
func (p *PostgresBackend) Clear(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM compflow_cache`); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}
	return nil
}

// Keys implements Backend.
func (p *PostgresBackend) Keys(ctx context.Context) ([]string, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT key FROM compflow_cache
		WHERE expires_at = 0 OR expires_at > $1
		ORDER BY written_at
	`, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan cache key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache keys: %w", err)
	}
	return keys, nil
}

// Len implements Backend.
func (p *PostgresBackend) Len(ctx context.Context) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}

	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM compflow_cache
		WHERE expires_at = 0 OR expires_at > $1
	`, time.Now().UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}

// PurgeExpired removes rows whose TTL elapsed and reports how many went.
func (p *PostgresBackend) PurgeExpired(ctx context.Context) (int64, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}

	res, err := p.db.ExecContext(ctx, `
		DELETE FROM compflow_cache WHERE expires_at != 0 AND expires_at <= $1
	`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge expired entries: %w", err)
	}
	return res.RowsAffected()
}

// Close implements Backend.
func (p *PostgresBackend) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}
