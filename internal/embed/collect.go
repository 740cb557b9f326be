// Package embed finds identifier tokens in text and markup and substitutes
// rendered fragments for them.
package embed

import (
	"html"
	"regexp"
	"strings"

	"github.com/starford/relink/internal/nostrid"
)

var (
	// tokenRe finds identifier bodies anywhere, for batching only.
	tokenRe = regexp.MustCompile(`\b` + nostrid.TokenExpr)

	// anchorRe matches an anchor whose href is exactly a token, optionally
	// carrying the scheme. Groups: 1 attrs before href, 2/3 token (double or
	// single quoted), 4 attrs after href, 5 inner HTML.
	anchorRe = regexp.MustCompile(`(?is)<a\b([^>]*?)\shref\s*=\s*(?:"(?i:nostr:)?(` + nostrid.TokenExpr +
		`)"|'(?i:nostr:)?(` + nostrid.TokenExpr + `)')([^>]*)>(.*?)</a\s*>`)

	// bareRe matches a scheme-prefixed token in a text segment.
	bareRe = regexp.MustCompile(`(?i:nostr:)(` + nostrid.TokenExpr + `)`)

	tagRe       = regexp.MustCompile(`<[^>]*>`)
	openAnchor  = regexp.MustCompile(`(?i)^<a[\s>]`)
	closeAnchor = regexp.MustCompile(`(?i)^</a\s*>`)
	classAttr   = regexp.MustCompile(`(?i)\bclass\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	embedAttr   = regexp.MustCompile(`(?i)(?:^|\s)data-embed(?:\s|=|$)`)
)

// CardClass is the class token that opts an anchor into card rendering.
const CardClass = "nostr-card"

// Occurrence is one substitutable appearance of a token.
type Occurrence struct {
	Reference nostrid.Reference `json:"reference"`
	InAnchor  bool              `json:"in_anchor"`
}

// Collection is the result of scanning a text.
type Collection struct {
	// References holds every distinct decodable token found anywhere,
	// in order of first appearance, deduplicated by token body.
	References []nostrid.Reference `json:"references"`
	// Occurrences holds every anchor-wrapped and bare occurrence that
	// substitution will replace, each with its own rendering context.
	Occurrences []Occurrence `json:"occurrences"`
	// Undecodable lists token bodies that failed to decode. They are left
	// untouched in the text.
	Undecodable []string `json:"undecodable,omitempty"`
}

// Collect scans text. It never fails; undecodable tokens are skipped.
func Collect(text string) *Collection {
	c := &Collection{}
	seen := make(map[string]struct{})
	bad := make(map[string]struct{})

	for _, body := range tokenRe.FindAllString(text, -1) {
		if _, ok := seen[body]; ok {
			continue
		}
		if _, ok := bad[body]; ok {
			continue
		}
		ref, err := nostrid.Decode(body)
		if err != nil {
			bad[body] = struct{}{}
			c.Undecodable = append(c.Undecodable, body)
			continue
		}
		seen[body] = struct{}{}
		c.References = append(c.References, ref)
	}

	for _, m := range anchorRe.FindAllStringSubmatch(text, -1) {
		a := parseAnchor(m)
		ref, err := nostrid.Decode(a.token)
		if err != nil {
			continue
		}
		c.Occurrences = append(c.Occurrences, Occurrence{
			Reference: ref.WithOccurrence(a.text, a.inline),
			InAnchor:  true,
		})
	}

	forEachBare(text, func(body string) {
		if ref, err := nostrid.Decode(body); err == nil {
			c.Occurrences = append(c.Occurrences, Occurrence{Reference: ref.WithOccurrence("", false)})
		}
	})
	return c
}

// anchor is a parsed anchorRe match.
type anchor struct {
	token  string
	text   string
	inline bool
}

func parseAnchor(m []string) anchor {
	token := m[2]
	if token == "" {
		token = m[3]
	}
	attrs := m[1] + " " + m[4]
	return anchor{
		token:  token,
		text:   innerText(m[5]),
		inline: !optsIntoCard(attrs),
	}
}

// optsIntoCard reports whether anchor attributes request a card.
func optsIntoCard(attrs string) bool {
	if embedAttr.MatchString(attrs) {
		return true
	}
	for _, m := range classAttr.FindAllStringSubmatch(attrs, -1) {
		classes := m[1] + m[2]
		for _, cls := range strings.Fields(classes) {
			if strings.EqualFold(cls, CardClass) {
				return true
			}
		}
	}
	return false
}

// innerText strips markup from an anchor body and decodes entities.
func innerText(inner string) string {
	return strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(inner, "")))
}

// forEachBare calls fn for every scheme-prefixed token in text segments that
// are outside tags and outside anchor elements.
func forEachBare(text string, fn func(body string)) {
	walkSegments(text, func(seg string, inAnchor bool) string {
		if !inAnchor {
			for _, m := range bareRe.FindAllStringSubmatch(seg, -1) {
				fn(m[1])
			}
		}
		return seg
	})
}

// walkSegments splits text on tag boundaries and calls fn for each text
// segment with whether it lies inside an <a>...</a> element. An opening tag
// counts only when the next anchor tag after it closes it, so a stray
// opening tag hides nothing. Tags are copied verbatim; text segments are
// replaced by fn's result.
func walkSegments(text string, fn func(seg string, inAnchor bool) string) string {
	var b strings.Builder
	b.Grow(len(text))
	tags := tagRe.FindAllStringIndex(text, -1)
	inside := anchorSpans(text, tags)
	last := 0
	for i, loc := range tags {
		if loc[0] > last {
			b.WriteString(fn(text[last:loc[0]], i > 0 && inside[i-1]))
		}
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	if last < len(text) {
		b.WriteString(fn(text[last:], len(tags) > 0 && inside[len(tags)-1]))
	}
	return b.String()
}

// anchorSpans reports for each tag whether the text right after it lies
// inside a well-formed anchor element.
func anchorSpans(text string, tags [][]int) []bool {
	inside := make([]bool, len(tags))
	open := -1
	for i, loc := range tags {
		tag := text[loc[0]:loc[1]]
		switch {
		case openAnchor.MatchString(tag):
			open = i
		case closeAnchor.MatchString(tag) && open >= 0:
			for j := open; j < i; j++ {
				inside[j] = true
			}
			open = -1
		}
	}
	return inside
}
