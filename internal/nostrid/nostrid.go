// Package nostrid decodes and encodes the compact content identifiers
// (npub, nprofile, note, nevent, naddr) and plain kind:author:slug coordinates
// that reference profiles, messages and addressable documents.
package nostrid

import (
	"fmt"
	"strings"

	"github.com/starford/relink/internal/apperr"
)

// Scheme is the optional URI prefix carried by identifier tokens in text.
const Scheme = "nostr:"

// TokenExpr matches the bech32 body of every resolvable identifier kind.
// It is meant to be embedded in larger expressions.
const TokenExpr = `(?:npub|nprofile|note|nevent|naddr)1[02-9ac-hj-np-z]+`

// Kind classifies a decoded Reference.
type Kind int

const (
	KindProfile Kind = iota + 1
	KindProfileWithHints
	KindSingleMessage
	KindSingleMessageWithHints
	KindAddressableDocument
)

func (k Kind) String() string {
	switch k {
	case KindProfile:
		return "profile"
	case KindProfileWithHints:
		return "profile_with_hints"
	case KindSingleMessage:
		return "message"
	case KindSingleMessageWithHints:
		return "message_with_hints"
	case KindAddressableDocument:
		return "addressable_document"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// IsProfile reports whether k references an author.
func (k Kind) IsProfile() bool { return k == KindProfile || k == KindProfileWithHints }

// IsMessage reports whether k references a single message by id.
func (k Kind) IsMessage() bool { return k == KindSingleMessage || k == KindSingleMessageWithHints }

// IsAddressable reports whether k references a (kind, author, slug) document.
func (k Kind) IsAddressable() bool { return k == KindAddressableDocument }

// Reference is a decoded identifier. It is a value type; CanonicalID is fixed
// at decode time and is the lookup key for every later stage.
type Reference struct {
	Kind          Kind     `json:"kind"`
	RawToken      string   `json:"raw_token"`
	CanonicalID   string   `json:"canonical_id"`
	LocationHints []string `json:"location_hints,omitempty"`
	DisplayText   string   `json:"display_text,omitempty"`
	PreferInline  bool     `json:"prefer_inline"`

	// Author and EventKind are carried by nevent and naddr tokens.
	Author    string `json:"author,omitempty"`
	EventKind int    `json:"event_kind,omitempty"`
}

// WithOccurrence returns a copy of r carrying per-occurrence rendering hints.
func (r Reference) WithOccurrence(displayText string, preferInline bool) Reference {
	r.LocationHints = append([]string(nil), r.LocationHints...)
	r.DisplayText = displayText
	r.PreferInline = preferInline
	return r
}

// Coordinate returns the addressable coordinate of r. It is only meaningful
// for KindAddressableDocument.
func (r Reference) Coordinate() (Coordinate, error) {
	return ParseCoordinate(r.CanonicalID)
}

// DecodeError reports why a token could not be turned into a Reference.
// It unwraps to apperr.ErrMalformedIdentifier or apperr.ErrUnsupportedKind.
type DecodeError struct {
	Token  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("nostrid: %s %q: %s", e.Err, e.Token, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func malformed(token, format string, args ...any) error {
	return &DecodeError{Token: token, Reason: fmt.Sprintf(format, args...), Err: apperr.ErrMalformedIdentifier}
}

func unsupported(token, format string, args ...any) error {
	return &DecodeError{Token: token, Reason: fmt.Sprintf(format, args...), Err: apperr.ErrUnsupportedKind}
}

// StripScheme removes a leading "nostr:" prefix, case-insensitively.
func StripScheme(token string) string {
	if len(token) >= len(Scheme) && strings.EqualFold(token[:len(Scheme)], Scheme) {
		return token[len(Scheme):]
	}
	return token
}

// Decode turns a token into a Reference. Accepted shapes are a bech32
// identifier with or without the "nostr:" scheme, and a kind:author:slug
// coordinate. Decode is pure.
func Decode(token string) (Reference, error) {
	body := strings.TrimSpace(StripScheme(token))
	if body == "" {
		return Reference{}, malformed(token, "empty token")
	}
	if strings.Contains(body, ":") {
		c, err := ParseCoordinate(body)
		if err != nil {
			return Reference{}, err
		}
		return Reference{
			Kind:        KindAddressableDocument,
			RawToken:    body,
			CanonicalID: c.String(),
			Author:      c.Author,
			EventKind:   c.Kind,
		}, nil
	}
	return decodeBech32(body)
}
