package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/relink/internal/apperr"
	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
	"github.com/starford/relink/internal/relay"
	"github.com/starford/relink/internal/swr"
	"github.com/starford/relink/internal/testutil"
)

const (
	pkAlice = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	pkBob   = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type fakeUpstream struct {
	mu        sync.Mutex
	events    []models.Event
	err       error
	calls     map[string]int
	lastHints []string
}

func (f *fakeUpstream) record(op string, hints []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
	f.lastHints = hints
}

func (f *fakeUpstream) FetchEvents(_ context.Context, ids, hints []string) ([]models.Event, error) {
	f.record("events", hints)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Event
	for _, ev := range f.events {
		for _, id := range ids {
			if ev.ID == id {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func (f *fakeUpstream) FetchProfiles(_ context.Context, pubkeys, hints []string) ([]models.Event, error) {
	f.record("profiles", hints)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Event
	for _, ev := range f.events {
		for _, pk := range pubkeys {
			if ev.PubKey == pk && ev.Kind == models.KindProfileMetadata {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func (f *fakeUpstream) FetchAddressable(_ context.Context, c nostrid.Coordinate, hints []string) (*models.Event, error) {
	f.record("addressable", hints)
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.events {
		ev := &f.events[i]
		if ev.Kind == c.Kind && ev.PubKey == c.Author && ev.Slug() == c.Slug {
			return ev, nil
		}
	}
	return nil, nil
}

func (f *fakeUpstream) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func TestFetchMessages_LocalThenUpstream(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	local := testutil.Event('1', pkAlice, 1, 10, "local")
	remote := testutil.Event('2', pkBob, 1, 20, "remote")
	require.NoError(t, db.SaveEvent(ctx, local))

	up := &fakeUpstream{events: []models.Event{remote}}
	s := New(db, up)

	got, err := s.FetchMessages(ctx, []string{local.ID, remote.ID, remote.ID, testutil.HexID('9')}, []string{"wss://hint"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "local", got[local.ID].(*models.Event).Content)
	assert.Equal(t, "remote", got[remote.ID].(*models.Event).Content)
	assert.Equal(t, 1, up.count("events"))
	assert.Equal(t, []string{"wss://hint"}, up.lastHints)

	// Written through: the next lookup is local only.
	_, err = s.FetchMessages(ctx, []string{remote.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, up.count("events"))
}

func TestFetchMessages_RelayForgeriesNotStored(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	genuine := testutil.SignedEvent('b', 1, 20, "genuine")
	forged := testutil.Event('1', pkAlice, 1, 10, "forged by relay")
	forged.Sig = "00"
	fake := testutil.NewFakeRelay(t, forged, genuine)

	s := New(db, relay.NewPool(relay.Options{Defaults: []string{fake.URL}, QueryTimeout: 2 * time.Second}))
	got, err := s.FetchMessages(ctx, []string{forged.ID, genuine.ID}, nil)
	require.NoError(t, err)
	assert.NotContains(t, got, forged.ID)
	assert.Contains(t, got, genuine.ID)

	_, err = db.FindEvent(ctx, forged.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	stored, err := db.FindEvent(ctx, genuine.ID)
	require.NoError(t, err)
	assert.Equal(t, "genuine", stored.Content)
}

func TestFetchMessages_AllLocalSkipsUpstream(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	ev := testutil.Event('1', pkAlice, 1, 10, "x")
	require.NoError(t, db.SaveEvent(ctx, ev))

	up := &fakeUpstream{}
	_, err := New(db, up).FetchMessages(ctx, []string{ev.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, up.count("events"))
}

func TestFetchMessages_UpstreamFailureKeepsLocalHits(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	ev := testutil.Event('1', pkAlice, 1, 10, "x")
	require.NoError(t, db.SaveEvent(ctx, ev))

	up := &fakeUpstream{err: apperr.ErrUpstreamUnavailable}
	got, err := New(db, up).FetchMessages(ctx, []string{ev.ID, testutil.HexID('2')}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUpstreamUnavailable))
	assert.Len(t, got, 1)
	assert.Contains(t, got, ev.ID)
}

func TestFetchProfiles_NewestUpstreamWins(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	require.NoError(t, db.SaveEvent(ctx, testutil.Profile('1', pkAlice, "Alice", 10)))

	up := &fakeUpstream{events: []models.Event{
		testutil.Profile('2', pkBob, "Bobby", 10),
		testutil.Profile('3', pkBob, "Bob", 20),
	}}
	got, err := New(db, up).FetchProfiles(ctx, []string{pkAlice, pkBob}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got[pkAlice].(*models.Profile).Name)
	assert.Equal(t, "Bob", got[pkBob].(*models.Profile).Name)
}

func TestLookupDocument(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	doc := testutil.Event('1', pkAlice, models.KindLongFormArticle, 10, "body", models.Tag{"d", "post"})
	up := &fakeUpstream{events: []models.Event{doc}}
	s := New(db, up)

	c := nostrid.Coordinate{Kind: models.KindLongFormArticle, Author: pkAlice, Slug: "post"}
	got, err := s.LookupDocument(ctx, c, nil)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	// Persisted locally.
	_, err = db.FindAddressable(ctx, c.Kind, c.Author, c.Slug)
	require.NoError(t, err)

	_, err = s.LookupDocument(ctx, nostrid.Coordinate{Kind: 30023, Author: pkBob, Slug: "x"}, nil)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestFetchDocument_Cached(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	doc := testutil.Event('1', pkAlice, models.KindLongFormArticle, 10, "body", models.Tag{"d", "post"})
	up := &fakeUpstream{events: []models.Event{doc}}

	cache := swr.New[*models.Event](swr.NewMemory(), nil)
	s := New(db, up, WithDocumentCache(cache, swr.Policy{Fresh: time.Minute, Stale: time.Hour}), WithoutWriteThrough())

	c := nostrid.Coordinate{Kind: models.KindLongFormArticle, Author: pkAlice, Slug: "post"}
	first := s.FetchDocument(ctx, c, nil)
	second := s.FetchDocument(ctx, c, nil)
	require.IsType(t, &models.Event{}, first)
	assert.Equal(t, doc.ID, second.(*models.Event).ID)
	assert.Equal(t, 1, up.count("addressable"))

	require.NoError(t, s.InvalidateDocument(ctx, c.String()))
	s.FetchDocument(ctx, c, nil)
	assert.Equal(t, 2, up.count("addressable"))
}

func TestFetchDocument_FailureIsNotFound(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{err: apperr.ErrUpstreamUnavailable}
	s := New(testutil.TestDB(t), up)

	got := s.FetchDocument(ctx, nostrid.Coordinate{Kind: 30023, Author: pkAlice, Slug: "x"}, nil)
	assert.Equal(t, models.NotFound{}, got)
}
