package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/relink/internal/swr"
)

// CacheBackend persists swr entries. The value row and the metadata row are
// written and deleted in one transaction, and a key missing either row is a
// miss.
type CacheBackend struct {
	db *DB
}

// NewCacheBackend returns a swr.Backend stored in db.
func NewCacheBackend(db *DB) *CacheBackend {
	return &CacheBackend{db: db}
}

var _ swr.Backend = (*CacheBackend)(nil)

func (c *CacheBackend) Load(ctx context.Context, key string) ([]byte, swr.Meta, bool, error) {
	var (
		value       []byte
		cachedAt    int64
		expiresAt   int64
		placeholder bool
	)
	err := c.db.conn.QueryRowContext(ctx, `
		SELECT v.value, m.cached_at, m.expires_at, m.placeholder
		FROM cache_values v
		JOIN cache_meta m ON m.key = v.key
		WHERE v.key = ?
	`, key).Scan(&value, &cachedAt, &expiresAt, &placeholder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swr.Meta{}, false, nil
	}
	if err != nil {
		return nil, swr.Meta{}, false, fmt.Errorf("index: cache load: %w", err)
	}
	meta := swr.Meta{CachedAt: time.Unix(0, cachedAt), Placeholder: placeholder}
	if expiresAt > 0 {
		meta.ExpiresAt = time.Unix(0, expiresAt)
	}
	return value, meta, true, nil
}

func (c *CacheBackend) Store(ctx context.Context, key string, value []byte, meta swr.Meta) error {
	tx, err := c.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if value == nil {
		value = []byte{}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_values (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value); err != nil {
		return fmt.Errorf("index: cache store value: %w", err)
	}

	var expires int64
	if !meta.ExpiresAt.IsZero() {
		expires = meta.ExpiresAt.UnixNano()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_meta (key, cached_at, expires_at, placeholder) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			cached_at   = excluded.cached_at,
			expires_at  = excluded.expires_at,
			placeholder = excluded.placeholder
	`, key, meta.CachedAt.UnixNano(), expires, meta.Placeholder); err != nil {
		return fmt.Errorf("index: cache store meta: %w", err)
	}
	return tx.Commit()
}

func (c *CacheBackend) Delete(ctx context.Context, key string) error {
	tx, err := c.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_values WHERE key = ?`, key); err != nil {
		return fmt.Errorf("index: cache delete value: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_meta WHERE key = ?`, key); err != nil {
		return fmt.Errorf("index: cache delete meta: %w", err)
	}
	return tx.Commit()
}

// PruneCache drops entries whose expiry is before now.
func (c *CacheBackend) PruneCache(ctx context.Context, now time.Time) (int64, error) {
	tx, err := c.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cutoff := now.UnixNano()
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM cache_values WHERE key IN (
			SELECT key FROM cache_meta WHERE expires_at > 0 AND expires_at <= ?
		)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("index: prune values: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cache_meta WHERE expires_at > 0 AND expires_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("index: prune meta: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}
