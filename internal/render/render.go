// Package render turns a resolved reference into an HTML fragment: a mention,
// a plain link or a kind-specific card.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
)

//go:embed templates/*.html
var templateFS embed.FS

// Template names.
const (
	PictureCard  = "picture-card"
	ArticleCard  = "article-card"
	DocumentCard = "document-card"
)

const excerptRunes = 200

// Paths holds the URL prefixes links point at. Each ends with "/".
type Paths struct {
	Profile  string
	Message  string
	Article  string
	Document string
}

// DefaultPaths returns the built-in link prefixes.
func DefaultPaths() Paths {
	return Paths{Profile: "/p/", Message: "/e/", Article: "/article/", Document: "/d/"}
}

// Authors resolves profile metadata for card bylines.
type Authors interface {
	Author(pubkey string) *models.Profile
}

// Renderer renders references. It is safe for concurrent use.
type Renderer struct {
	tmpl   *template.Template
	paths  Paths
	logger *slog.Logger
}

// New parses the embedded card templates.
func New(paths Paths, logger *slog.Logger) (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("render: parse templates: %w", err)
	}
	return NewWithTemplates(tmpl, paths, logger), nil
}

// NewWithTemplates uses tmpl, which must define the three card templates.
func NewWithTemplates(tmpl *template.Template, paths Paths, logger *slog.Logger) *Renderer {
	def := DefaultPaths()
	if paths.Profile == "" {
		paths.Profile = def.Profile
	}
	if paths.Message == "" {
		paths.Message = def.Message
	}
	if paths.Article == "" {
		paths.Article = def.Article
	}
	if paths.Document == "" {
		paths.Document = def.Document
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{tmpl: tmpl, paths: paths, logger: logger}
}

// Render produces the fragment for ref. entity is the lookup result (nil is
// treated as not found). Render never fails: a card that cannot be rendered
// degrades to a plain link.
func (r *Renderer) Render(ref nostrid.Reference, entity models.Entity, authors Authors) string {
	if entity == nil {
		entity = models.NotFound{}
	}

	switch {
	case ref.Kind.IsProfile():
		profile, _ := entity.(*models.Profile)
		return r.mention(ref, profile)

	case ref.Kind.IsMessage():
		ev, found := entity.(*models.Event)
		if found && ev.Kind == models.KindPicture && !ref.PreferInline {
			return r.card(ref, PictureCard, r.pictureData(ref, ev, authors))
		}
		return r.link(ref, r.paths.Message)

	case ref.Kind.IsAddressable():
		ev, found := entity.(*models.Event)
		if found && !ref.PreferInline {
			if ev.Kind == models.KindLongFormArticle {
				return r.card(ref, ArticleCard, r.articleData(ref, ev, authors))
			}
			return r.card(ref, DocumentCard, r.documentData(ref, ev, authors))
		}
		return r.link(ref, r.documentPath(ref))

	default:
		r.logger.Warn("render: unknown reference kind", slog.String("kind", ref.Kind.String()))
		return html.EscapeString(ref.RawToken)
	}
}

// Fallback renders the plain-link form of ref.
func (r *Renderer) Fallback(ref nostrid.Reference) string {
	switch {
	case ref.Kind.IsProfile():
		return r.mention(ref, nil)
	case ref.Kind.IsMessage():
		return r.link(ref, r.paths.Message)
	default:
		return r.link(ref, r.documentPath(ref))
	}
}

func (r *Renderer) documentPath(ref nostrid.Reference) string {
	if ref.EventKind == models.KindLongFormArticle {
		return r.paths.Article
	}
	return r.paths.Document
}

func (r *Renderer) mention(ref nostrid.Reference, profile *models.Profile) string {
	label := strings.TrimPrefix(strings.TrimSpace(ref.DisplayText), "@")
	if label == "" && profile != nil {
		label = profile.Label()
	}
	if label == "" {
		label = Truncate(ref.CanonicalID)
	}
	return fmt.Sprintf(`<a href="%s" class="nostr-mention">@%s</a>`,
		html.EscapeString(r.paths.Profile+linkToken(ref)), html.EscapeString(label))
}

func (r *Renderer) link(ref nostrid.Reference, prefix string) string {
	text := ref.DisplayText
	if strings.TrimSpace(text) == "" {
		text = ref.RawToken
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`,
		html.EscapeString(prefix+linkToken(ref)), html.EscapeString(text))
}

func (r *Renderer) card(ref nostrid.Reference, name string, data any) string {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		r.logger.Warn("render: card failed",
			slog.String("template", name),
			slog.String("token", ref.RawToken),
			slog.String("error", err.Error()))
		return r.Fallback(ref)
	}
	return buf.String()
}

// Truncate shortens a hex id to its first eight characters plus "...".
func Truncate(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

// linkToken is the path segment of ref. Plain coordinates are linked by
// their naddr form.
func linkToken(ref nostrid.Reference) string {
	if !strings.Contains(ref.RawToken, ":") {
		return ref.RawToken
	}
	if c, err := ref.Coordinate(); err == nil {
		if token, err := nostrid.EncodeAddress(c, ref.LocationHints); err == nil {
			return token
		}
	}
	return ref.RawToken
}

func authorLabel(authors Authors, pubkey string) (label, picture string) {
	if authors != nil {
		if p := authors.Author(pubkey); p != nil {
			if l := p.Label(); l != "" {
				return l, p.Picture
			}
			picture = p.Picture
		}
	}
	return Truncate(pubkey), picture
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= excerptRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:excerptRunes])) + "..."
}

func formatUnix(raw string) string {
	sec, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || sec <= 0 {
		return ""
	}
	return time.Unix(sec, 0).UTC().Format("2006-01-02")
}
