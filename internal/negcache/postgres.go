package negcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig controls the Postgres-backed store.
type PostgresConfig struct {
	DSN      string
	TTL      time.Duration
	MaxConns int32
}

// pgxPool is the pool subset the store uses; tests substitute a mock here.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore keeps one row per cached URL. Reads follow the same lenient
// contract as the file store: expired or undecodable rows are deleted and
// reported as absent.
type PostgresStore struct {
	pool pgxPool
	ttl  time.Duration
	now  func() time.Time
}

const (
	selectEntrySQL = `SELECT record FROM negative_cache WHERE key = $1`
	upsertEntrySQL = `INSERT INTO negative_cache (key, record, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET record = EXCLUDED.record, expires_at = EXCLUDED.expires_at`
	deleteEntrySQL = `DELETE FROM negative_cache WHERE key = $1`
)

// NewPostgresStore connects a pool from the config.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache dsn is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be > 0")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse cache dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect cache postgres: %w", err)
	}
	return &PostgresStore{pool: pool, ttl: cfg.TTL, now: time.Now}, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool,
// primarily for testing.
func NewPostgresStoreWithPool(pool pgxPool, ttl time.Duration) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be > 0")
	}
	return &PostgresStore{pool: pool, ttl: ttl, now: time.Now}, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Get returns the live entry for a URL, or nil when there is no verdict.
func (s *PostgresStore) Get(ctx context.Context, url string) (*Entry, error) {
	key := Key(url)
	var record []byte
	err := s.pool.QueryRow(ctx, selectEntrySQL, key).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache row: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(record, &entry); err != nil {
		s.delete(ctx, key)
		return nil, nil
	}
	if !s.now().Before(entry.ExpiresAt) {
		s.delete(ctx, key)
		return nil, nil
	}
	return &entry, nil
}

// Put upserts the record for a URL with a fresh expiry.
func (s *PostgresStore) Put(ctx context.Context, url string, statusCode int, reason string) error {
	now := s.now()
	entry := Entry{
		URL:        url,
		StatusCode: statusCode,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	record, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if _, err := s.pool.Exec(ctx, upsertEntrySQL, Key(url), record, entry.ExpiresAt); err != nil {
		return fmt.Errorf("upsert cache row: %w", err)
	}
	return nil
}

func (s *PostgresStore) delete(ctx context.Context, key string) {
	// Best effort self-healing; the row will also age out via expires_at.
	_, _ = s.pool.Exec(ctx, deleteEntrySQL, key)
}
