package eventservice

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/relink/internal/apperr"
	"github.com/starford/relink/internal/index"
	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
	"github.com/starford/relink/internal/pipeline"
	"github.com/starford/relink/internal/render"
	"github.com/starford/relink/internal/resolver"
	"github.com/starford/relink/internal/siteconfig"
	"github.com/starford/relink/internal/storage"
	"github.com/starford/relink/internal/store"
	"github.com/starford/relink/internal/swr"
	"github.com/starford/relink/internal/testutil"
)

const (
	pkAlice = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	pkBob   = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

var homeSite = "30040:" + pkAlice + ":home"

func setupService(t *testing.T) (*Service, *store.TwoTier, storage.Provider) {
	t.Helper()
	db := testutil.TestDB(t)
	_, archive := testutil.TestArchive(t)

	policy := swr.Policy{Fresh: time.Hour, Stale: 2 * time.Hour}
	st := store.New(db, nil, store.WithDocumentCache(swr.New[*models.Event](swr.NewMemory(), nil), policy))
	renderer, err := render.New(render.DefaultPaths(), nil)
	require.NoError(t, err)
	sites := siteconfig.New(st, swr.New[models.SiteConfig](swr.NewMemory(), nil), policy, nil)
	p := pipeline.New(resolver.New(st, nil), renderer, sites, nil)

	return NewService(archive, db, st, p, Site{Coordinate: homeSite, Theme: "dark"}, nil), st, archive
}

func siteEvent(id byte, createdAt int64, title string) models.Event {
	return testutil.Event(id, pkAlice, models.KindPublicationIndex, createdAt, "",
		models.Tag{"d", "home"}, models.Tag{"title", title})
}

func TestImportEvent(t *testing.T) {
	svc, _, archive := setupService(t)
	ctx := context.Background()

	ev := testutil.Event('1', pkBob, 1, 100, "hello")
	res, err := svc.ImportEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "events/"+ev.ID+".json", res.Path)
	assert.Equal(t, res.Path, res.Detail.Source)
	assert.True(t, strings.HasPrefix(res.Detail.Token, "note1"))

	data, err := archive.Read(res.Path)
	require.NoError(t, err)
	assert.Equal(t, storage.Checksum(data), res.Checksum)

	got, err := svc.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Event.Content)

	_, err = svc.ImportEvent(ctx, ev)
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestImportEvent_Invalid(t *testing.T) {
	svc, _, _ := setupService(t)

	ev := testutil.Event('1', "not-hex", 1, 100, "hello")
	_, err := svc.ImportEvent(context.Background(), ev)
	assert.ErrorIs(t, err, apperr.ErrInvalidEvent)

	doc := testutil.Event('2', pkBob, models.KindLongFormArticle, 100, "no slug")
	_, err = svc.ImportEvent(context.Background(), doc)
	assert.ErrorIs(t, err, apperr.ErrInvalidEvent)
}

func TestDeleteEvent(t *testing.T) {
	svc, _, archive := setupService(t)
	ctx := context.Background()

	ev := testutil.Event('1', pkBob, 1, 100, "bye")
	res, err := svc.ImportEvent(ctx, ev)
	require.NoError(t, err)

	removed, err := svc.DeleteEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, ev.ID, removed[0].ID)

	_, err = archive.Read(res.Path)
	assert.Error(t, err)
	_, err = svc.GetEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.DeleteEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestOnChange_ImportAndDelete(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	var changes []Change
	svc.OnChange(func(c Change) { changes = append(changes, c) })

	article := testutil.Event('4', pkBob, models.KindLongFormArticle, 100, "body",
		models.Tag{"d", "post"})
	res, err := svc.ImportEvent(ctx, article)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, index.ChangeCreated, changes[0].Kind)
	assert.Equal(t, res.Path, changes[0].Path)
	assert.Equal(t, []string{article.Coordinate()}, changes[0].Coordinates)

	_, err = svc.DeleteEvent(ctx, article.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, index.ChangeDeleted, changes[1].Kind)
	assert.Equal(t, res.Path, changes[1].Path)
	require.Len(t, changes[1].Events, 1)
	assert.Equal(t, article.ID, changes[1].Events[0].ID)

	// Events cached from the network have no archive file.
	cached := testutil.Event('5', pkBob, 1, 100, "from a relay")
	require.NoError(t, svc.db.SaveEvent(ctx, cached))
	_, err = svc.DeleteEvent(ctx, cached.ID)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, index.ChangeDeleted, changes[2].Kind)
	assert.Empty(t, changes[2].Path)
	assert.Equal(t, cached.ID, changes[2].Events[0].ID)

	// Nothing left to delete, nothing published.
	_, err = svc.DeleteEvent(ctx, cached.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Len(t, changes, 3)
}

func TestGetDocument(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	article := testutil.Event('3', pkBob, models.KindLongFormArticle, 100, "body",
		models.Tag{"d", "post"}, models.Tag{"title", "Post"})
	_, err := svc.ImportEvent(ctx, article)
	require.NoError(t, err)

	got, err := svc.GetDocument(ctx, article.Coordinate())
	require.NoError(t, err)
	assert.Equal(t, article.ID, got.Event.ID)
	assert.Equal(t, article.Coordinate(), got.Coordinate)

	// The naddr form resolves to the same document.
	got, err = svc.GetDocument(ctx, got.Token)
	require.NoError(t, err)
	assert.Equal(t, article.ID, got.Event.ID)

	note, err := nostrid.EncodeNote(article.ID)
	require.NoError(t, err)
	_, err = svc.GetDocument(ctx, note)
	assert.ErrorIs(t, err, apperr.ErrUnsupportedKind)

	_, err = svc.GetDocument(ctx, "30023:"+pkBob+":missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApplyChange_InvalidatesCachedDocument(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()

	v1 := testutil.Event('4', pkBob, models.KindLongFormArticle, 100, "v1", models.Tag{"d", "post"})
	_, err := svc.ImportEvent(ctx, v1)
	require.NoError(t, err)

	c, err := nostrid.ParseCoordinate(v1.Coordinate())
	require.NoError(t, err)
	first := st.FetchDocument(ctx, c, nil).(*models.Event)
	assert.Equal(t, "v1", first.Content)

	v2 := testutil.Event('5', pkBob, models.KindLongFormArticle, 200, "v2", models.Tag{"d", "post"})
	_, err = svc.ImportEvent(ctx, v2)
	require.NoError(t, err)

	second := st.FetchDocument(ctx, c, nil).(*models.Event)
	assert.Equal(t, "v2", second.Content)
}

func TestSite_DefaultsAndInvalidation(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	cfg, err := svc.Site(ctx, "", "")
	require.NoError(t, err)
	assert.True(t, cfg.IsPlaceholder)
	assert.Equal(t, "dark", cfg.Theme)

	_, err = svc.ImportEvent(ctx, siteEvent('6', 100, "Home v1"))
	require.NoError(t, err)
	cfg, err = svc.Site(ctx, "", "light")
	require.NoError(t, err)
	assert.False(t, cfg.IsPlaceholder)
	assert.Equal(t, "Home v1", cfg.Title)
	assert.Equal(t, "light", cfg.Theme)

	_, err = svc.ImportEvent(ctx, siteEvent('7', 200, "Home v2"))
	require.NoError(t, err)
	cfg, err = svc.Site(ctx, homeSite, "")
	require.NoError(t, err)
	assert.Equal(t, "Home v2", cfg.Title)

	require.NoError(t, svc.InvalidateSite(ctx, ""))
	cfg, err = svc.RefreshSite(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "Home v2", cfg.Title)

	assert.Error(t, svc.InvalidateSite(ctx, "not-a-site"))
}

func TestRender(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.ImportEvent(ctx, testutil.Profile('8', pkAlice, "Alice", 10))
	require.NoError(t, err)

	npub, err := nostrid.EncodePubkey(pkAlice)
	require.NoError(t, err)
	res := svc.Render(ctx, "hi nostr:"+npub)
	assert.Contains(t, res.HTML, ">@Alice</a>")
	assert.Equal(t, 1, res.Resolved)

	refs := svc.References("hi nostr:" + npub + " and nostr:" + npub)
	assert.Len(t, refs.References, 1)
	assert.Len(t, refs.Occurrences, 2)
}

func TestImportFile(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	a := testutil.Event('a', pkBob, 1, 100, "first")
	b := testutil.Event('b', pkBob, 1, 101, "second")
	lineA, err := json.Marshal(a)
	require.NoError(t, err)
	lineB, err := json.Marshal(b)
	require.NoError(t, err)
	data := []byte(string(lineA) + "\n{\"id\":\"bad\"}\n" + string(lineB) + "\n")

	res, err := svc.ImportFile(ctx, "batch.jsonl", data)
	require.NoError(t, err)
	assert.Equal(t, "uploads/batch.jsonl", res.Path)
	assert.Equal(t, []string{a.ID, b.ID}, res.IDs)
	assert.Equal(t, 1, res.Skipped)

	got, err := svc.GetEvent(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Event.Content)

	files, err := svc.ListArchive("")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "uploads/batch.jsonl", files[0].Path)

	raw, err := svc.ReadArchive(res.Path)
	require.NoError(t, err)
	assert.Equal(t, data, raw)

	_, err = svc.ImportFile(ctx, "batch.jsonl", data)
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
	_, err = svc.ReadArchive("uploads/missing.json")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestImportFile_Rejected(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	for _, name := range []string{"", "../x.json", "dir/x.json", "notes.md", ".hidden.json"} {
		_, err := svc.ImportFile(ctx, name, []byte(`{}`))
		assert.ErrorIs(t, err, apperr.ErrInvalidEvent, name)
	}
	_, err := svc.ImportFile(ctx, "empty.json", []byte(`[]`))
	assert.ErrorIs(t, err, apperr.ErrInvalidEvent)
	_, err = svc.ImportFile(ctx, "junk.json", []byte(`not json`))
	assert.ErrorIs(t, err, apperr.ErrInvalidEvent)
}
