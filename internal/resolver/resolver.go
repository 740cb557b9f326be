// Package resolver resolves a set of decoded references with one store batch
// per lookup class.
package resolver

import (
	"context"
	"log/slog"

	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
)

// Store is the two-tier lookup the resolver batches against.
type Store interface {
	FetchMessages(ctx context.Context, ids, hints []string) (map[string]models.Entity, error)
	FetchProfiles(ctx context.Context, pubkeys, hints []string) (map[string]models.Entity, error)
	FetchDocument(ctx context.Context, c nostrid.Coordinate, hints []string) models.Entity
}

// Results holds the lookup maps of one run, keyed by canonical id.
type Results struct {
	Messages  map[string]models.Entity
	Profiles  map[string]models.Entity
	Documents map[string]models.Entity
}

func newResults() *Results {
	return &Results{
		Messages:  make(map[string]models.Entity),
		Profiles:  make(map[string]models.Entity),
		Documents: make(map[string]models.Entity),
	}
}

// Lookup returns the entity resolved for ref, or models.NotFound.
func (r *Results) Lookup(ref nostrid.Reference) models.Entity {
	var m map[string]models.Entity
	switch {
	case ref.Kind.IsProfile():
		m = r.Profiles
	case ref.Kind.IsMessage():
		m = r.Messages
	case ref.Kind.IsAddressable():
		m = r.Documents
	}
	if e, ok := m[ref.CanonicalID]; ok && e != nil {
		return e
	}
	return models.NotFound{}
}

// Author returns the profile of pubkey, or nil.
func (r *Results) Author(pubkey string) *models.Profile {
	if p, ok := r.Profiles[pubkey].(*models.Profile); ok {
		return p
	}
	return nil
}

// Resolver batches lookups.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// New creates a resolver.
func New(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// batch collects the ids and hints of one lookup class.
type batch struct {
	ids   []string
	seen  map[string]struct{}
	hints []string
	hseen map[string]struct{}
}

func newBatch() *batch {
	return &batch{seen: make(map[string]struct{}), hseen: make(map[string]struct{})}
}

func (b *batch) add(id string, hints []string) bool {
	for _, h := range hints {
		if _, ok := b.hseen[h]; !ok {
			b.hseen[h] = struct{}{}
			b.hints = append(b.hints, h)
		}
	}
	if _, ok := b.seen[id]; ok {
		return false
	}
	b.seen[id] = struct{}{}
	b.ids = append(b.ids, id)
	return true
}

// Resolve looks every reference up. It issues at most one message batch, one
// profile batch, one follow-up profile batch for the authors of resolved
// messages and documents, and one lookup per distinct coordinate. A failing
// class is logged and left empty; Resolve itself never fails.
func (r *Resolver) Resolve(ctx context.Context, refs []nostrid.Reference) *Results {
	out := newResults()

	messages, profiles := newBatch(), newBatch()
	type docRef struct {
		coord nostrid.Coordinate
		hints []string
	}
	var docs []docRef
	docSeen := make(map[string]int)

	for _, ref := range refs {
		switch {
		case ref.Kind.IsProfile():
			profiles.add(ref.CanonicalID, ref.LocationHints)
		case ref.Kind.IsMessage():
			messages.add(ref.CanonicalID, ref.LocationHints)
		case ref.Kind.IsAddressable():
			if i, ok := docSeen[ref.CanonicalID]; ok {
				docs[i].hints = append(docs[i].hints, ref.LocationHints...)
				continue
			}
			c, err := ref.Coordinate()
			if err != nil {
				r.logger.Warn("resolver: bad coordinate",
					slog.String("coordinate", ref.CanonicalID),
					slog.String("error", err.Error()))
				continue
			}
			docSeen[ref.CanonicalID] = len(docs)
			docs = append(docs, docRef{coord: c, hints: ref.LocationHints})
		}
	}

	if len(messages.ids) > 0 {
		found, err := r.store.FetchMessages(ctx, messages.ids, messages.hints)
		if err != nil {
			r.logger.Warn("resolver: message batch failed", slog.String("error", err.Error()))
		}
		for id, e := range found {
			out.Messages[id] = e
		}
	}

	if len(profiles.ids) > 0 {
		r.fetchProfiles(ctx, out, profiles.ids, profiles.hints)
	}

	for _, d := range docs {
		out.Documents[d.coord.String()] = r.store.FetchDocument(ctx, d.coord, d.hints)
	}

	// One extra round for the authors of what was found.
	authors := newBatch()
	for _, id := range profiles.ids {
		authors.seen[id] = struct{}{}
	}
	for _, m := range []map[string]models.Entity{out.Messages, out.Documents} {
		for _, e := range m {
			if ev, ok := e.(*models.Event); ok {
				authors.add(ev.PubKey, nil)
			}
		}
	}
	if len(authors.ids) > 0 {
		r.fetchProfiles(ctx, out, authors.ids, profiles.hints)
	}

	return out
}

func (r *Resolver) fetchProfiles(ctx context.Context, out *Results, ids, hints []string) {
	found, err := r.store.FetchProfiles(ctx, ids, hints)
	if err != nil {
		r.logger.Warn("resolver: profile batch failed", slog.String("error", err.Error()))
	}
	for id, e := range found {
		out.Profiles[id] = e
	}
}
