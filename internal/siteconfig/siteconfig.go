// Package siteconfig builds a site configuration from its publication index
// document, served stale-while-revalidate.
package siteconfig

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/relink/internal/apperr"
	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
	"github.com/starford/relink/internal/swr"
)

// Documents is the uncached document lookup.
type Documents interface {
	LookupDocument(ctx context.Context, c nostrid.Coordinate, hints []string) (*models.Event, error)
}

// Key is the cache key of the site at coordinate.
func Key(coordinate string) string { return "site:" + coordinate }

// Resolver resolves site configurations.
type Resolver struct {
	docs   Documents
	cache  *swr.Cache[models.SiteConfig]
	policy swr.Policy
	logger *slog.Logger
}

// New creates a resolver.
func New(docs Documents, cache *swr.Cache[models.SiteConfig], policy swr.Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{docs: docs, cache: cache, policy: policy, logger: logger}
}

// Parse accepts a plain kind:author:slug coordinate or a legacy naddr address
// (with or without the scheme) and returns the coordinate and relay hints.
func Parse(input string) (nostrid.Coordinate, []string, error) {
	ref, err := nostrid.Decode(input)
	if err != nil {
		return nostrid.Coordinate{}, nil, err
	}
	if !ref.Kind.IsAddressable() {
		return nostrid.Coordinate{}, nil, fmt.Errorf("siteconfig: %s is a %s reference: %w", input, ref.Kind, apperr.ErrUnsupportedKind)
	}
	c, err := ref.Coordinate()
	if err != nil {
		return nostrid.Coordinate{}, nil, err
	}
	if c.Kind != models.KindPublicationIndex {
		return nostrid.Coordinate{}, nil, fmt.Errorf("siteconfig: kind %d is not a publication index: %w", c.Kind, apperr.ErrUnsupportedKind)
	}
	return c, ref.LocationHints, nil
}

// Resolve returns the configuration of the site at input with theme applied.
// Only an unparseable input is an error; lookup failures degrade to the last
// known configuration or a placeholder.
func (r *Resolver) Resolve(ctx context.Context, input, theme string) (models.SiteConfig, error) {
	c, hints, err := Parse(input)
	if err != nil {
		return models.SiteConfig{}, err
	}
	coord := c.String()

	res := r.cache.Get(ctx, Key(coord), r.fetcher(c, hints), r.policy, models.PlaceholderSite(coord, ""))
	cfg := res.Value
	cfg.IsPlaceholder = res.Placeholder
	if cfg.CategoryCoordinates == nil {
		cfg.CategoryCoordinates = []string{}
	}
	cfg.Theme = theme
	return cfg, nil
}

// Warm refreshes the cached configuration of input unconditionally.
func (r *Resolver) Warm(ctx context.Context, input string) error {
	c, hints, err := Parse(input)
	if err != nil {
		return err
	}
	return r.cache.Warm(ctx, Key(c.String()), r.fetcher(c, hints), r.policy)
}

// Invalidate drops the cached configuration of coordinate.
func (r *Resolver) Invalidate(ctx context.Context, coordinate string) error {
	return r.cache.Invalidate(ctx, Key(coordinate))
}

func (r *Resolver) fetcher(c nostrid.Coordinate, hints []string) swr.Fetcher[models.SiteConfig] {
	return func(ctx context.Context) (models.SiteConfig, error) {
		ev, err := r.docs.LookupDocument(ctx, c, hints)
		if err != nil {
			return models.SiteConfig{}, fmt.Errorf("siteconfig: fetch %s: %w", c, err)
		}
		return FromEvent(ev), nil
	}
}

// FromEvent builds a configuration from a publication index document.
func FromEvent(ev *models.Event) models.SiteConfig {
	cfg := models.SiteConfig{
		Coordinate:          ev.Coordinate(),
		Title:               firstNonEmpty(ev.TagValue("title"), ev.TagValue("name"), ev.Slug()),
		Description:         firstNonEmpty(ev.TagValue("summary"), ev.TagValue("description")),
		LogoURL:             firstNonEmpty(ev.TagValue("image"), ev.TagValue("logo")),
		CategoryCoordinates: []string{},
		OwnerID:             ev.PubKey,
		UpdatedAt:           ev.CreatedAt,
	}
	seen := make(map[string]struct{})
	for _, a := range ev.TagValues("a") {
		c, err := nostrid.ParseCoordinate(a)
		if err != nil {
			continue
		}
		key := c.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cfg.CategoryCoordinates = append(cfg.CategoryCoordinates, key)
	}
	return cfg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
