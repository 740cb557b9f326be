// Package store looks entities up in the local index first and falls back to
// the relay network on a miss.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/relink/internal/apperr"
	"github.com/starford/relink/internal/index"
	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
	"github.com/starford/relink/internal/swr"
)

// Upstream is the network lookup capability.
type Upstream interface {
	FetchEvents(ctx context.Context, ids, hints []string) ([]models.Event, error)
	FetchProfiles(ctx context.Context, pubkeys, hints []string) ([]models.Event, error)
	FetchAddressable(ctx context.Context, c nostrid.Coordinate, hints []string) (*models.Event, error)
}

// DocumentKey is the cache key of the document at coordinate.
func DocumentKey(coordinate string) string { return "addr:" + coordinate }

// Option configures a TwoTier store.
type Option func(*TwoTier)

// WithDocumentCache serves FetchDocument through cache with policy.
func WithDocumentCache(cache *swr.Cache[*models.Event], policy swr.Policy) Option {
	return func(s *TwoTier) {
		s.docs = cache
		s.docPolicy = policy
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *TwoTier) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithoutWriteThrough disables persisting network results locally.
func WithoutWriteThrough() Option {
	return func(s *TwoTier) { s.writeThrough = false }
}

// TwoTier combines the local index and the upstream network.
type TwoTier struct {
	local        index.EventIndex
	upstream     Upstream
	docs         *swr.Cache[*models.Event]
	docPolicy    swr.Policy
	writeThrough bool
	logger       *slog.Logger
}

// New creates a two-tier store. upstream may be nil for local-only lookups.
func New(local index.EventIndex, upstream Upstream, opts ...Option) *TwoTier {
	s := &TwoTier{
		local:        local,
		upstream:     upstream,
		writeThrough: true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchMessages resolves message ids. Ids that are neither local nor
// upstream are absent from the result. On an upstream failure the local hits
// are returned together with the error.
func (s *TwoTier) FetchMessages(ctx context.Context, ids, hints []string) (map[string]models.Entity, error) {
	out := make(map[string]models.Entity, len(ids))
	var misses []string
	for _, id := range dedupe(ids) {
		ev, err := s.local.FindEvent(ctx, id)
		if err == nil {
			out[id] = ev
			continue
		}
		s.logLocalMiss("message", id, err)
		misses = append(misses, id)
	}
	if len(misses) == 0 || s.upstream == nil {
		return out, nil
	}

	events, err := s.upstream.FetchEvents(ctx, misses, hints)
	if err != nil {
		return out, fmt.Errorf("store: fetch messages: %w", err)
	}
	wanted := toSet(misses)
	for i := range events {
		ev := &events[i]
		if _, ok := wanted[ev.ID]; !ok {
			continue
		}
		out[ev.ID] = ev
		s.persist(ctx, *ev)
	}
	return out, nil
}

// FetchProfiles resolves author ids to their newest profile metadata.
func (s *TwoTier) FetchProfiles(ctx context.Context, pubkeys, hints []string) (map[string]models.Entity, error) {
	out := make(map[string]models.Entity, len(pubkeys))
	var misses []string
	for _, pk := range dedupe(pubkeys) {
		ev, err := s.local.FindProfile(ctx, pk)
		if err == nil {
			p := models.ProfileFromEvent(ev)
			out[pk] = &p
			continue
		}
		s.logLocalMiss("profile", pk, err)
		misses = append(misses, pk)
	}
	if len(misses) == 0 || s.upstream == nil {
		return out, nil
	}

	events, err := s.upstream.FetchProfiles(ctx, misses, hints)
	if err != nil {
		return out, fmt.Errorf("store: fetch profiles: %w", err)
	}
	wanted := toSet(misses)
	newest := make(map[string]*models.Event, len(events))
	for i := range events {
		ev := &events[i]
		if ev.Kind != models.KindProfileMetadata {
			continue
		}
		if _, ok := wanted[ev.PubKey]; !ok {
			continue
		}
		if cur, ok := newest[ev.PubKey]; !ok || models.Newer(ev, cur) {
			newest[ev.PubKey] = ev
		}
	}
	for pk, ev := range newest {
		p := models.ProfileFromEvent(ev)
		out[pk] = &p
		s.persist(ctx, *ev)
	}
	return out, nil
}

// FetchDocument resolves an addressable document. It never fails: errors are
// logged and yield models.NotFound. When a document cache is configured the
// lookup is served stale-while-revalidate.
func (s *TwoTier) FetchDocument(ctx context.Context, c nostrid.Coordinate, hints []string) models.Entity {
	if s.docs == nil {
		ev, err := s.LookupDocument(ctx, c, hints)
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				s.logger.Warn("store: document lookup failed",
					slog.String("coordinate", c.String()),
					slog.String("error", err.Error()))
			}
			return models.NotFound{}
		}
		return ev
	}

	res := s.docs.Get(ctx, DocumentKey(c.String()), func(ctx context.Context) (*models.Event, error) {
		ev, err := s.LookupDocument(ctx, c, hints)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil
		}
		return ev, err
	}, s.docPolicy, nil)
	if res.Value == nil {
		return models.NotFound{}
	}
	return res.Value
}

// LookupDocument resolves an addressable document without caching. A
// document found nowhere yields apperr.ErrNotFound.
func (s *TwoTier) LookupDocument(ctx context.Context, c nostrid.Coordinate, hints []string) (*models.Event, error) {
	ev, err := s.local.FindAddressable(ctx, c.Kind, c.Author, c.Slug)
	if err == nil {
		return ev, nil
	}
	s.logLocalMiss("document", c.String(), err)
	if s.upstream == nil {
		return nil, fmt.Errorf("store: lookup document %s: %w", c, apperr.ErrNotFound)
	}

	ev, err = s.upstream.FetchAddressable(ctx, c, hints)
	if err != nil {
		return nil, fmt.Errorf("store: lookup document %s: %w", c, err)
	}
	if ev == nil || ev.Kind != c.Kind || ev.PubKey != c.Author || ev.Slug() != c.Slug {
		return nil, fmt.Errorf("store: lookup document %s: %w", c, apperr.ErrNotFound)
	}
	s.persist(ctx, *ev)
	return ev, nil
}

// InvalidateDocument drops the cached lookup of coordinate.
func (s *TwoTier) InvalidateDocument(ctx context.Context, coordinate string) error {
	if s.docs == nil {
		return nil
	}
	return s.docs.Invalidate(ctx, DocumentKey(coordinate))
}

func (s *TwoTier) persist(ctx context.Context, ev models.Event) {
	if !s.writeThrough {
		return
	}
	if err := s.local.SaveEvent(ctx, ev); err != nil {
		s.logger.Warn("store: write-through failed",
			slog.String("id", ev.ID),
			slog.String("error", err.Error()))
	}
}

func (s *TwoTier) logLocalMiss(class, id string, err error) {
	if errors.Is(err, apperr.ErrNotFound) {
		return
	}
	s.logger.Warn("store: local lookup failed",
		slog.String("class", class),
		slog.String("id", id),
		slog.String("error", err.Error()))
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
