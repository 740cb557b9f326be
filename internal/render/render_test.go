package render

import (
	"html/template"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
	"github.com/starford/relink/internal/testutil"
)

const (
	pkAlice = "deadbeefaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	pkBob   = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type authorMap map[string]*models.Profile

func (m authorMap) Author(pk string) *models.Profile { return m[pk] }

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New(DefaultPaths(), nil)
	require.NoError(t, err)
	return r
}

func decode(t *testing.T, token string) nostrid.Reference {
	t.Helper()
	ref, err := nostrid.Decode(token)
	require.NoError(t, err)
	return ref
}

func TestRender_MentionUsesProfileName(t *testing.T) {
	r := newRenderer(t)
	npub, err := nostrid.EncodePubkey(pkAlice)
	require.NoError(t, err)

	ref := decode(t, npub)
	got := r.Render(ref, &models.Profile{PubKey: pkAlice, Name: "Alice"}, nil)
	assert.Equal(t, `<a href="/p/`+npub+`" class="nostr-mention">@Alice</a>`, got)
}

func TestRender_MentionLabelOrder(t *testing.T) {
	r := newRenderer(t)
	npub, _ := nostrid.EncodePubkey(pkAlice)
	ref := decode(t, npub)

	withText := r.Render(ref.WithOccurrence("@ally", true), &models.Profile{Name: "Alice"}, nil)
	assert.Contains(t, withText, ">@ally</a>")

	notFound := r.Render(ref, models.NotFound{}, nil)
	assert.Contains(t, notFound, ">@deadbeef...</a>")

	both := r.Render(ref, &models.Profile{Name: "alice", DisplayName: "Alice Liddell"}, nil)
	assert.Contains(t, both, ">@alice</a>")

	displayOnly := r.Render(ref, &models.Profile{DisplayName: "Alice Liddell"}, nil)
	assert.Contains(t, displayOnly, ">@Alice Liddell</a>")

	escaped := r.Render(ref, &models.Profile{Name: "<b>x</b>"}, nil)
	assert.Contains(t, escaped, "@&lt;b&gt;x&lt;/b&gt;")
}

func TestRender_MessageLinkAndPictureCard(t *testing.T) {
	r := newRenderer(t)
	pic := testutil.Event('1', pkBob, models.KindPicture, 1_700_000_000, "sunset",
		models.Tag{"imeta", "url https://img.example/a.jpg", "m image/jpeg"},
		models.Tag{"title", "Evening"})
	note, _ := nostrid.EncodeNote(pic.ID)
	ref := decode(t, note)

	card := r.Render(ref, &pic, authorMap{pkBob: {Name: "Bob"}})
	assert.Contains(t, card, `class="nostr-card nostr-picture"`)
	assert.Contains(t, card, `src="https://img.example/a.jpg"`)
	assert.Contains(t, card, "@Bob")

	inline := r.Render(ref.WithOccurrence("look", true), &pic, nil)
	assert.Equal(t, `<a href="/e/`+note+`">look</a>`, inline)

	missing := r.Render(ref, models.NotFound{}, nil)
	assert.Equal(t, `<a href="/e/`+note+`">`+note+`</a>`, missing)

	text := testutil.Event('2', pkBob, 1, 1, "plain")
	assert.True(t, strings.HasPrefix(r.Render(ref, &text, nil), `<a href="/e/`))
}

func TestRender_ArticleCardAndLinks(t *testing.T) {
	r := newRenderer(t)
	c := nostrid.Coordinate{Kind: models.KindLongFormArticle, Author: pkBob, Slug: "post"}
	naddr, err := nostrid.EncodeAddress(c, nil)
	require.NoError(t, err)
	ref := decode(t, naddr)
	doc := testutil.Event('3', pkBob, c.Kind, 1_700_000_000, "long body", models.Tag{"d", "post"},
		models.Tag{"title", "My Post"}, models.Tag{"summary", "short"}, models.Tag{"published_at", "1700000000"})

	card := r.Render(ref, &doc, nil)
	assert.Contains(t, card, `class="nostr-card nostr-article"`)
	assert.Contains(t, card, `href="/article/`+naddr+`"`)
	assert.Contains(t, card, "My Post")
	assert.Contains(t, card, "2023-11-14")
	// No author metadata: byline falls back to the truncated id.
	assert.Contains(t, card, "bbbbbbbb...")

	inline := r.Render(ref.WithOccurrence("my article", true), &doc, nil)
	assert.Equal(t, `<a href="/article/`+naddr+`">my article</a>`, inline)
}

func TestRender_GenericDocument(t *testing.T) {
	r := newRenderer(t)
	c := nostrid.Coordinate{Kind: models.KindPublicationIndex, Author: pkBob, Slug: "site"}
	naddr, _ := nostrid.EncodeAddress(c, nil)
	ref := decode(t, naddr)
	doc := testutil.Event('4', pkBob, c.Kind, 1, "", models.Tag{"d", "site"}, models.Tag{"title", "Site"})

	card := r.Render(ref, &doc, nil)
	assert.Contains(t, card, `data-kind="30040"`)
	assert.Contains(t, card, `href="/d/`+naddr+`"`)

	assert.Equal(t, `<a href="/d/`+naddr+`">`+naddr+`</a>`, r.Render(ref, nil, nil))
}

func TestRender_PlainCoordinateLinksByNaddr(t *testing.T) {
	r := newRenderer(t)
	c := nostrid.Coordinate{Kind: models.KindLongFormArticle, Author: pkBob, Slug: "post"}
	naddr, _ := nostrid.EncodeAddress(c, nil)
	got := r.Render(decode(t, c.String()), models.NotFound{}, nil)
	assert.Contains(t, got, `href="/article/`+naddr+`"`)
}

func TestRender_UnencodableCoordinateKeepsRawToken(t *testing.T) {
	r := newRenderer(t)
	c := nostrid.Coordinate{Kind: models.KindLongFormArticle, Author: pkBob, Slug: strings.Repeat("s", 300)}
	got := r.Render(decode(t, c.String()), models.NotFound{}, nil)
	assert.Contains(t, got, `href="/article/`+c.String()+`"`)
}

func TestRender_TemplateFailureFallsBack(t *testing.T) {
	tmpl := template.Must(template.New("x").Parse(`{{define "article-card"}}{{.Missing}}{{end}}`))
	r := NewWithTemplates(tmpl, Paths{}, nil)
	c := nostrid.Coordinate{Kind: models.KindLongFormArticle, Author: pkBob, Slug: "post"}
	naddr, _ := nostrid.EncodeAddress(c, nil)
	doc := testutil.Event('3', pkBob, c.Kind, 1, "", models.Tag{"d", "post"})

	got := r.Render(decode(t, naddr), &doc, nil)
	assert.Equal(t, `<a href="/article/`+naddr+`">`+naddr+`</a>`, got)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "deadbeef...", Truncate(pkAlice))
	assert.Equal(t, "abc", Truncate("abc"))
}
