package siteconfig

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/relink/internal/apperr"
	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
	"github.com/starford/relink/internal/swr"
	"github.com/starford/relink/internal/testutil"
)

const pkOwner = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

var policy = swr.Policy{Fresh: 120 * time.Second, Stale: 3600 * time.Second}

type fakeDocs struct {
	doc   *models.Event
	err   error
	calls atomic.Int32
}

func (f *fakeDocs) LookupDocument(context.Context, nostrid.Coordinate, []string) (*models.Event, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

func indexDoc() *models.Event {
	ev := testutil.Event('1', pkOwner, models.KindPublicationIndex, 1_700_000_000, "",
		models.Tag{"d", "blog"},
		models.Tag{"title", "My Blog"},
		models.Tag{"summary", "Notes"},
		models.Tag{"image", "https://img.example/logo.png"},
		models.Tag{"a", "30040:" + pkOwner + ":go"},
		models.Tag{"a", "30040:" + pkOwner + ":go"},
		models.Tag{"a", "not-a-coordinate"},
		models.Tag{"a", "30040:" + pkOwner + ":rust"},
	)
	return &ev
}

var coord = nostrid.Coordinate{Kind: models.KindPublicationIndex, Author: pkOwner, Slug: "blog"}

func newResolver(docs Documents) *Resolver {
	return New(docs, swr.New[models.SiteConfig](swr.NewMemory(), nil), policy, nil)
}

func TestFromEvent(t *testing.T) {
	cfg := FromEvent(indexDoc())
	assert.Equal(t, coord.String(), cfg.Coordinate)
	assert.Equal(t, "My Blog", cfg.Title)
	assert.Equal(t, "Notes", cfg.Description)
	assert.Equal(t, "https://img.example/logo.png", cfg.LogoURL)
	assert.Equal(t, pkOwner, cfg.OwnerID)
	assert.Equal(t, []string{"30040:" + pkOwner + ":go", "30040:" + pkOwner + ":rust"}, cfg.CategoryCoordinates)
	assert.False(t, cfg.IsPlaceholder)
}

func TestResolve_CoordinateAndLegacyShareCache(t *testing.T) {
	docs := &fakeDocs{doc: indexDoc()}
	r := newResolver(docs)
	ctx := context.Background()

	cfg, err := r.Resolve(ctx, coord.String(), "dark")
	require.NoError(t, err)
	assert.Equal(t, "My Blog", cfg.Title)
	assert.Equal(t, "dark", cfg.Theme)

	naddr, err := nostrid.EncodeAddress(coord, []string{"wss://relay.example"})
	require.NoError(t, err)
	cfg, err = r.Resolve(ctx, "nostr:"+naddr, "light")
	require.NoError(t, err)
	assert.Equal(t, "light", cfg.Theme)
	assert.EqualValues(t, 1, docs.calls.Load())
}

func TestResolve_PlaceholderOnFirstFailure(t *testing.T) {
	docs := &fakeDocs{err: apperr.ErrUpstreamUnavailable}
	r := newResolver(docs)
	ctx := context.Background()

	cfg, err := r.Resolve(ctx, coord.String(), "dark")
	require.NoError(t, err)
	assert.True(t, cfg.IsPlaceholder)
	assert.Equal(t, models.PlaceholderTitle, cfg.Title)
	assert.Empty(t, cfg.OwnerID)
	assert.Equal(t, "dark", cfg.Theme)

	// The placeholder is retried on the next access.
	docs.err = nil
	docs.doc = indexDoc()
	cfg, err = r.Resolve(ctx, coord.String(), "dark")
	require.NoError(t, err)
	assert.False(t, cfg.IsPlaceholder)
	assert.Equal(t, "My Blog", cfg.Title)
	assert.EqualValues(t, 2, docs.calls.Load())
}

func TestResolve_RejectsBadInput(t *testing.T) {
	r := newResolver(&fakeDocs{})
	ctx := context.Background()

	_, err := r.Resolve(ctx, "30040:short:blog", "")
	assert.True(t, errors.Is(err, apperr.ErrMalformedIdentifier))

	_, err = r.Resolve(ctx, "30023:"+pkOwner+":post", "")
	assert.True(t, errors.Is(err, apperr.ErrUnsupportedKind))

	npub, _ := nostrid.EncodePubkey(pkOwner)
	_, err = r.Resolve(ctx, npub, "")
	assert.True(t, errors.Is(err, apperr.ErrUnsupportedKind))
}

func TestWarmAndInvalidate(t *testing.T) {
	docs := &fakeDocs{doc: indexDoc()}
	r := newResolver(docs)
	ctx := context.Background()

	require.NoError(t, r.Warm(ctx, coord.String()))
	_, _ = r.Resolve(ctx, coord.String(), "")
	assert.EqualValues(t, 1, docs.calls.Load())

	require.NoError(t, r.Invalidate(ctx, coord.String()))
	_, _ = r.Resolve(ctx, coord.String(), "")
	assert.EqualValues(t, 2, docs.calls.Load())
}
