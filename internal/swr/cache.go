// Package swr implements a stale-while-revalidate cache over a pluggable
// backend. Values are served fresh, served stale while a background refresh
// runs, or refreshed synchronously; a failed first fetch stores a short-lived
// placeholder that is retried on every access.
package swr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Defaults.
const (
	DefaultPlaceholderTTL = 30 * time.Second
	DefaultRetention      = 24 * time.Hour
)

// Meta is stored beside every value. A value without its Meta (or the
// reverse) is a miss.
type Meta struct {
	CachedAt    time.Time
	ExpiresAt   time.Time // zero means never
	Placeholder bool
}

// Backend persists value and Meta as a single unit.
type Backend interface {
	Load(ctx context.Context, key string) (value []byte, meta Meta, ok bool, err error)
	Store(ctx context.Context, key string, value []byte, meta Meta) error
	Delete(ctx context.Context, key string) error
}

// Policy holds the freshness tiers for one family of keys.
type Policy struct {
	Fresh time.Duration
	Stale time.Duration
}

// Fetcher produces a new value for a key.
type Fetcher[T any] func(ctx context.Context) (T, error)

// State describes how a Get was served.
type State int

const (
	StateFresh State = iota
	StateStale
	StateRefreshed
	StateFallback
	StatePlaceholder
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateRefreshed:
		return "refreshed"
	case StateFallback:
		return "fallback"
	case StatePlaceholder:
		return "placeholder"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome of Get.
type Result[T any] struct {
	Value       T
	State       State
	CachedAt    time.Time
	Placeholder bool
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now            func() time.Time
	placeholderTTL time.Duration
	retention      time.Duration
	logger         *slog.Logger
	onRefresh      func(key string)
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPlaceholderTTL sets how long a failure placeholder is kept.
func WithPlaceholderTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.placeholderTTL = d
		}
	}
}

// WithRetention sets how long past the stale tier a value is kept as a
// fallback for failed refreshes.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithLogger sets the logger used for refresh failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRefreshHook registers fn to run after every successful refresh.
func WithRefreshHook(fn func(key string)) Option {
	return func(o *options) { o.onRefresh = fn }
}

// Cache is a typed view over a Backend. Several caches may share one Backend
// and one Pool as long as their keys do not collide.
type Cache[T any] struct {
	backend Backend
	pool    *Pool
	group   singleflight.Group
	opts    options
}

// New creates a cache. pool may be nil, in which case stale hits do not
// trigger a refresh.
func New[T any](backend Backend, pool *Pool, opts ...Option) *Cache[T] {
	o := options{
		now:            time.Now,
		placeholderTTL: DefaultPlaceholderTTL,
		retention:      DefaultRetention,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{backend: backend, pool: pool, opts: o}
}

// Get is the only read path.
func (c *Cache[T]) Get(ctx context.Context, key string, fetch Fetcher[T], policy Policy, def T) Result[T] {
	now := c.opts.now()
	cached, meta, ok := c.load(ctx, key, now)

	if ok && !meta.Placeholder {
		age := now.Sub(meta.CachedAt)
		switch {
		case age < policy.Fresh:
			return Result[T]{Value: cached, State: StateFresh, CachedAt: meta.CachedAt}
		case age < policy.Stale:
			c.refreshInBackground(ctx, key, fetch, policy)
			return Result[T]{Value: cached, State: StateStale, CachedAt: meta.CachedAt}
		}
	}

	// Placeholder, expired or miss: refresh synchronously.
	v, err := c.refresh(ctx, key, fetch, policy)
	if err == nil {
		return Result[T]{Value: v, State: StateRefreshed, CachedAt: c.opts.now()}
	}
	c.opts.logger.Warn("swr: refresh failed",
		slog.String("key", key),
		slog.String("error", err.Error()))

	if ok {
		state := StateFallback
		if meta.Placeholder {
			state = StatePlaceholder
		}
		return Result[T]{Value: cached, State: state, CachedAt: meta.CachedAt, Placeholder: meta.Placeholder}
	}

	if err := c.store(ctx, key, def, Meta{
		CachedAt:    now,
		ExpiresAt:   now.Add(c.opts.placeholderTTL),
		Placeholder: true,
	}); err != nil {
		c.opts.logger.Warn("swr: store placeholder failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
	return Result[T]{Value: def, State: StatePlaceholder, CachedAt: now, Placeholder: true}
}

// Warm refreshes key unconditionally.
func (c *Cache[T]) Warm(ctx context.Context, key string, fetch Fetcher[T], policy Policy) error {
	_, err := c.refresh(ctx, key, fetch, policy)
	return err
}

// Invalidate removes key's value and metadata together.
func (c *Cache[T]) Invalidate(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("swr: invalidate %s: %w", key, err)
	}
	return nil
}

func (c *Cache[T]) load(ctx context.Context, key string, now time.Time) (T, Meta, bool) {
	var zero T
	raw, meta, ok, err := c.backend.Load(ctx, key)
	if err != nil {
		c.opts.logger.Warn("swr: load failed", slog.String("key", key), slog.String("error", err.Error()))
		return zero, Meta{}, false
	}
	if !ok {
		return zero, Meta{}, false
	}
	if !meta.ExpiresAt.IsZero() && !now.Before(meta.ExpiresAt) {
		return zero, Meta{}, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		c.opts.logger.Warn("swr: decode failed", slog.String("key", key), slog.String("error", err.Error()))
		return zero, Meta{}, false
	}
	return v, meta, true
}

func (c *Cache[T]) store(ctx context.Context, key string, v T, meta Meta) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("swr: encode %s: %w", key, err)
	}
	return c.backend.Store(ctx, key, raw, meta)
}

// refresh fetches and stores key; concurrent refreshes of one key share a
// single fetch.
func (c *Cache[T]) refresh(ctx context.Context, key string, fetch Fetcher[T], policy Policy) (T, error) {
	res, err, _ := c.group.Do(key, func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		now := c.opts.now()
		if err := c.store(ctx, key, v, Meta{
			CachedAt:  now,
			ExpiresAt: now.Add(policy.Stale + c.opts.retention),
		}); err != nil {
			c.opts.logger.Warn("swr: store failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		if c.opts.onRefresh != nil {
			c.opts.onRefresh(key)
		}
		return v, nil
	})
	v, _ := res.(T)
	return v, err
}

func (c *Cache[T]) refreshInBackground(ctx context.Context, key string, fetch Fetcher[T], policy Policy) {
	if c.pool == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	submitted := c.pool.Submit(key, func() {
		if _, err := c.refresh(bg, key, fetch, policy); err != nil {
			c.opts.logger.Warn("swr: background refresh failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	})
	if !submitted {
		c.opts.logger.Debug("swr: refresh pool busy", slog.String("key", key))
	}
}
