package render

import (
	"strconv"
	"strings"

	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
)

// PictureData feeds the picture card.
type PictureData struct {
	Href    string
	Title   string
	Caption string
	Images  []string
	Author  string
}

// ArticleData feeds the long-form article card.
type ArticleData struct {
	Href          string
	Title         string
	Summary       string
	Image         string
	PublishedAt   string
	Author        string
	AuthorPicture string
}

// DocumentData feeds the generic document card.
type DocumentData struct {
	Href    string
	Title   string
	Excerpt string
	Kind    int
	Author  string
}

func (r *Renderer) pictureData(ref nostrid.Reference, ev *models.Event, authors Authors) PictureData {
	author, _ := authorLabel(authors, ev.PubKey)
	return PictureData{
		Href:    r.paths.Message + linkToken(ref),
		Title:   ev.TagValue("title"),
		Caption: excerpt(ev.Content),
		Images:  pictureURLs(ev),
		Author:  author,
	}
}

func (r *Renderer) articleData(ref nostrid.Reference, ev *models.Event, authors Authors) ArticleData {
	author, picture := authorLabel(authors, ev.PubKey)
	title := ev.TagValue("title")
	if title == "" {
		title = ev.Slug()
	}
	summary := ev.TagValue("summary")
	if summary == "" {
		summary = excerpt(ev.Content)
	}
	published := formatUnix(ev.TagValue("published_at"))
	if published == "" {
		published = formatUnix(strconv.FormatInt(ev.CreatedAt, 10))
	}
	return ArticleData{
		Href:          r.paths.Article + linkToken(ref),
		Title:         title,
		Summary:       summary,
		Image:         ev.TagValue("image"),
		PublishedAt:   published,
		Author:        author,
		AuthorPicture: picture,
	}
}

func (r *Renderer) documentData(ref nostrid.Reference, ev *models.Event, authors Authors) DocumentData {
	author, _ := authorLabel(authors, ev.PubKey)
	title := ev.TagValue("title")
	if title == "" {
		title = ev.TagValue("name")
	}
	if title == "" {
		title = ev.Slug()
	}
	return DocumentData{
		Href:    r.paths.Document + linkToken(ref),
		Title:   title,
		Excerpt: excerpt(ev.Content),
		Kind:    ev.Kind,
		Author:  author,
	}
}

// pictureURLs collects image URLs from imeta tags ("url <u>" entries), then
// plain url and image tags.
func pictureURLs(ev *models.Event) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, tag := range ev.Tags {
		if tag.Key() != "imeta" {
			continue
		}
		for _, entry := range tag[1:] {
			if u, ok := strings.CutPrefix(entry, "url "); ok {
				add(u)
			}
		}
	}
	for _, u := range ev.TagValues("url") {
		add(u)
	}
	for _, u := range ev.TagValues("image") {
		add(u)
	}
	return out
}
