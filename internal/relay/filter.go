// Package relay queries content relays over websockets and merges their
// answers into one deduplicated event set.
package relay

import (
	"encoding/json"
	"slices"
	"strconv"

	"github.com/starford/relink/internal/models"
)

// Filter is a subscription filter as sent in a REQ message.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	// Tags maps a single-letter tag name to accepted values, e.g. "d".
	Tags  map[string][]string
	Limit int
}

// MarshalJSON renders tag conditions as "#<name>" keys.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 4+len(f.Tags))
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}

// Matches reports whether ev satisfies f. Relays are not trusted to filter.
func (f Filter) Matches(ev *models.Event) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, ev.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	for name, values := range f.Tags {
		if !slices.ContainsFunc(ev.TagValues(name), func(v string) bool { return slices.Contains(values, v) }) {
			return false
		}
	}
	return true
}

// replaceKey identifies the slot a replaceable or addressable event occupies.
// Regular events return "".
func replaceKey(ev *models.Event) string {
	switch {
	case models.IsAddressable(ev.Kind):
		return ev.Coordinate()
	case models.IsReplaceable(ev.Kind):
		return strconv.Itoa(ev.Kind) + ":" + ev.PubKey
	default:
		return ""
	}
}

// merge dedupes events by id (first wins) and keeps only the newest event per
// replaceable slot.
func merge(batches [][]models.Event) []models.Event {
	seen := make(map[string]struct{})
	slots := make(map[string]int)
	var out []models.Event
	for _, batch := range batches {
		for _, ev := range batch {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}

			key := replaceKey(&ev)
			if key == "" {
				out = append(out, ev)
				continue
			}
			if i, ok := slots[key]; ok {
				if models.Newer(&ev, &out[i]) {
					out[i] = ev
				}
				continue
			}
			slots[key] = len(out)
			out = append(out, ev)
		}
	}
	return out
}
