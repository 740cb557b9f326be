package embed

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/relink/internal/nostrid"
)

// RenderFunc produces the fragment for one occurrence. ref carries the
// occurrence's display text and inline preference.
type RenderFunc func(ref nostrid.Reference) string

// Substitute replaces tokens in text with rendered fragments in two passes.
// Pass 1 replaces anchors whose href is a token. Pass 2 replaces
// scheme-prefixed tokens in text segments outside tags and anchors. Pass 1
// output is parked behind comment placeholders until pass 2 is done, so
// nothing rendered is scanned again. Undecodable tokens are left as-is.
func Substitute(text string, render RenderFunc) string {
	s := newSubstitution()
	out := s.anchors(text, render)
	out = s.bare(out, render)
	return s.expand(out)
}

type substitution struct {
	prefix    string
	re        *regexp.Regexp
	fragments []string
}

func newSubstitution() *substitution {
	prefix := "<!--relink:" + uuid.NewString() + ":"
	return &substitution{
		prefix: prefix,
		re:     regexp.MustCompile(regexp.QuoteMeta(prefix) + `(\d+)-->`),
	}
}

func (s *substitution) park(fragment string) string {
	s.fragments = append(s.fragments, fragment)
	return s.prefix + strconv.Itoa(len(s.fragments)-1) + "-->"
}

func (s *substitution) anchors(text string, render RenderFunc) string {
	return anchorRe.ReplaceAllStringFunc(text, func(match string) string {
		a := parseAnchor(anchorRe.FindStringSubmatch(match))
		ref, err := nostrid.Decode(a.token)
		if err != nil {
			return match
		}
		return s.park(render(ref.WithOccurrence(a.text, a.inline)))
	})
}

func (s *substitution) bare(text string, render RenderFunc) string {
	return walkSegments(text, func(seg string, inAnchor bool) string {
		if inAnchor || !strings.Contains(strings.ToLower(seg), nostrid.Scheme) {
			return seg
		}
		return bareRe.ReplaceAllStringFunc(seg, func(match string) string {
			ref, err := nostrid.Decode(match)
			if err != nil {
				return match
			}
			return s.park(render(ref.WithOccurrence("", false)))
		})
	})
}

func (s *substitution) expand(text string) string {
	if len(s.fragments) == 0 {
		return text
	}
	return s.re.ReplaceAllStringFunc(text, func(match string) string {
		i, err := strconv.Atoi(s.re.FindStringSubmatch(match)[1])
		if err != nil || i >= len(s.fragments) {
			return match
		}
		return s.fragments[i]
	})
}
