package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/starford/relink/internal/eventservice"
	"github.com/starford/relink/internal/index"
	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/pipeline"
	"github.com/starford/relink/internal/relay"
	"github.com/starford/relink/internal/render"
	"github.com/starford/relink/internal/resolver"
	"github.com/starford/relink/internal/siteconfig"
	"github.com/starford/relink/internal/storage"
	"github.com/starford/relink/internal/store"
	"github.com/starford/relink/internal/swr"
)

// cachePruner is implemented by both swr backends.
type cachePruner interface {
	swr.Backend
	PruneCache(ctx context.Context, now time.Time) (int64, error)
}

// runtime holds the components shared by every command.
type runtime struct {
	cfg      *Config
	logger   *slog.Logger
	archive  *storage.FS
	db       *index.DB
	pool     *swr.Pool
	backend  cachePruner
	sites    *siteconfig.Resolver
	pipeline *pipeline.Pipeline
	service  *eventservice.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// newRuntime opens the archive and index, syncs them and wires the
// resolution pipeline.
func newRuntime(cfg *Config, logger *slog.Logger) (*runtime, error) {
	if err := os.MkdirAll(cfg.Archive.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	archive, err := storage.NewFS(cfg.Archive.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	if _, err := index.Sync(db, archive, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	rt := &runtime{cfg: cfg, logger: logger, archive: archive, db: db}

	switch cfg.Cache.Backend {
	case CacheBackendSQLite:
		rt.backend = index.NewCacheBackend(db)
	default:
		rt.backend = swr.NewMemory()
	}
	rt.pool = swr.NewPool(cfg.Cache.Workers, logger)
	cacheOpts := []swr.Option{
		swr.WithPlaceholderTTL(cfg.Cache.PlaceholderTTL),
		swr.WithRetention(cfg.Cache.Retention),
		swr.WithLogger(logger),
	}
	docCache := swr.New[*models.Event](rt.backend, rt.pool, cacheOpts...)
	siteCache := swr.New[models.SiteConfig](rt.backend, rt.pool, cacheOpts...)

	// A nil *relay.Pool must not reach the store as a non-nil interface.
	var upstream store.Upstream
	if len(cfg.Relays.URLs) > 0 {
		upstream = relay.NewPool(relay.Options{
			Defaults:     cfg.Relays.URLs,
			QueryTimeout: cfg.Relays.QueryTimeout,
			MaxEvents:    cfg.Relays.MaxEvents,
			Logger:       logger,
		})
	}
	st := store.New(db, upstream,
		store.WithDocumentCache(docCache, cfg.Cache.Documents.Policy()),
		store.WithLogger(logger))

	renderer, err := render.New(cfg.Render.Paths(), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	rt.sites = siteconfig.New(st, siteCache, cfg.Cache.Sites.Policy(), logger)
	rt.pipeline = pipeline.New(resolver.New(st, logger), renderer, rt.sites, logger)
	rt.service = eventservice.NewService(archive, db, st, rt.pipeline,
		eventservice.Site{Coordinate: cfg.Site.Coordinate, Theme: cfg.Site.Theme}, logger)

	logger.Info("Resolution pipeline ready",
		slog.Int("relays", len(cfg.Relays.URLs)),
		slog.String("cache_backend", cfg.Cache.Backend),
		slog.String("site", cfg.Site.Coordinate))
	return rt, nil
}

// warmSite pre-populates the configured site. Failures only leave the
// placeholder in place.
func (rt *runtime) warmSite(ctx context.Context) {
	if rt.cfg.Site.Coordinate == "" {
		return
	}
	if err := rt.sites.Warm(ctx, rt.cfg.Site.Coordinate); err != nil {
		rt.logger.Warn("site warm-up failed",
			slog.String("site", rt.cfg.Site.Coordinate),
			slog.String("error", err.Error()))
		return
	}
	rt.logger.Info("site warmed", slog.String("site", rt.cfg.Site.Coordinate))
}

// pruneLoop drops expired cache entries until ctx is done.
func (rt *runtime) pruneLoop(ctx context.Context) {
	interval := rt.cfg.Cache.PruneInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := rt.backend.PruneCache(ctx, now)
			if err != nil {
				rt.logger.Warn("cache prune failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				rt.logger.Debug("cache pruned", slog.Int64("entries", n))
			}
		}
	}
}

// Close drains background refreshes and closes the index.
func (rt *runtime) Close() {
	rt.pool.Close()
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("index close failed", slog.String("error", err.Error()))
	}
}
