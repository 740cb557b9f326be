package nostrid

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// Coordinate addresses a replaceable document by (kind, author, slug).
type Coordinate struct {
	Kind   int    `json:"kind"`
	Author string `json:"author"`
	Slug   string `json:"slug"`
}

// String renders the canonical kind:author:slug form.
func (c Coordinate) String() string {
	return strconv.Itoa(c.Kind) + ":" + c.Author + ":" + c.Slug
}

// ParseCoordinate parses kind:authorHex:slug. The slug is everything after
// the second colon, so slugs may themselves contain colons.
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Coordinate{}, malformed(s, "coordinate needs kind:author:slug")
	}
	for i, p := range parts {
		if p == "" {
			return Coordinate{}, malformed(s, "coordinate part %d is empty", i+1)
		}
	}
	kind, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Coordinate{}, malformed(s, "coordinate kind %q is not a 32-bit unsigned integer", parts[0])
	}
	author := strings.ToLower(parts[1])
	if !isHexID(author) {
		return Coordinate{}, malformed(s, "coordinate author is not a 32-byte hex id")
	}
	return Coordinate{Kind: int(kind), Author: author, Slug: parts[2]}, nil
}

func isHexID(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
