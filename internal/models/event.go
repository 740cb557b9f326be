// Package models defines the domain types shared by the resolution pipeline.
package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Event kinds the pipeline treats specially.
const (
	KindProfileMetadata  = 0
	KindPicture          = 20
	KindLongFormArticle  = 30023
	KindPublicationIndex = 30040
)

// Tag is a single event tag, e.g. ["d", "slug"] or ["a", "30023:<pk>:slug"].
type Tag []string

// Key returns the tag name or "".
func (t Tag) Key() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first tag value or "".
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Event is a signed message as exchanged with relays and stored locally.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig,omitempty"`
}

// TagValue returns the value of the first tag named key.
func (e *Event) TagValue(key string) string {
	for _, t := range e.Tags {
		if t.Key() == key {
			return t.Value()
		}
	}
	return ""
}

// TagValues returns the values of every tag named key.
func (e *Event) TagValues(key string) []string {
	var out []string
	for _, t := range e.Tags {
		if t.Key() == key && t.Value() != "" {
			out = append(out, t.Value())
		}
	}
	return out
}

// Slug returns the "d" tag of an addressable event.
func (e *Event) Slug() string { return e.TagValue("d") }

// Coordinate returns kind:pubkey:slug for addressable kinds, else "".
func (e *Event) Coordinate() string {
	if !IsAddressable(e.Kind) {
		return ""
	}
	return strconv.Itoa(e.Kind) + ":" + e.PubKey + ":" + e.Slug()
}

// Created returns CreatedAt as a time.
func (e *Event) Created() time.Time { return time.Unix(e.CreatedAt, 0).UTC() }

// IsReplaceable reports whether only the newest event per (kind, author) counts.
func IsReplaceable(kind int) bool {
	return kind == 0 || kind == 3 || (kind >= 10000 && kind < 20000)
}

// IsAddressable reports whether only the newest event per (kind, author, d) counts.
func IsAddressable(kind int) bool {
	return kind >= 30000 && kind < 40000
}

// Newer reports whether a supersedes b for replaceable and addressable kinds.
// Ties are broken by the lexically lower id.
func Newer(a, b *Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID < b.ID
}

// Profile is the decoded content of a kind-0 metadata event.
type Profile struct {
	PubKey      string `json:"pubkey"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	About       string `json:"about,omitempty"`
	NIP05       string `json:"nip05,omitempty"`
	Website     string `json:"website,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
}

// Label returns the profile name, or the display name when name is unset.
func (p *Profile) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.DisplayName
}

// ProfileFromEvent decodes a kind-0 event. Malformed content yields a
// profile carrying only the pubkey.
func ProfileFromEvent(ev *Event) Profile {
	p := Profile{PubKey: ev.PubKey, CreatedAt: ev.CreatedAt}
	var raw struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		DisplayAlt  string `json:"displayName"`
		Picture     string `json:"picture"`
		About       string `json:"about"`
		NIP05       string `json:"nip05"`
		Website     string `json:"website"`
	}
	if err := json.Unmarshal([]byte(ev.Content), &raw); err != nil {
		return p
	}
	p.Name = raw.Name
	p.DisplayName = raw.DisplayName
	if p.DisplayName == "" {
		p.DisplayName = raw.DisplayAlt
	}
	p.Picture = raw.Picture
	p.About = raw.About
	p.NIP05 = raw.NIP05
	p.Website = raw.Website
	return p
}
