// Package parser reads archived events from JSON, JSON array, or JSON Lines files.
package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/starford/relink/internal/models"
)

var hexIDRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Result holds the events found in one archive file.
type Result struct {
	Events  []models.Event
	Skipped int
}

// ParseEvents decodes data as a single event object, an array of events, or
// one event per line. Events that fail validation are counted in Skipped.
func ParseEvents(data []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &Result{}, nil
	}

	var raw []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("parser: decode array: %w", err)
		}
	case '{':
		lines, err := splitLines(trimmed)
		if err != nil {
			return nil, err
		}
		raw = lines
	default:
		return nil, errors.New("parser: not a JSON document")
	}

	res := &Result{}
	for _, msg := range raw {
		var ev models.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			res.Skipped++
			continue
		}
		if err := ValidateEvent(ev); err != nil {
			res.Skipped++
			continue
		}
		res.Events = append(res.Events, ev)
	}
	return res, nil
}

// splitLines handles both a lone (possibly multi-line) object and JSON Lines.
func splitLines(data []byte) ([]json.RawMessage, error) {
	if json.Valid(data) {
		return []json.RawMessage{data}, nil
	}
	var out []json.RawMessage
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		out = append(out, append(json.RawMessage(nil), line...))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parser: scan lines: %w", err)
	}
	return out, nil
}

// ValidateEvent checks the fields every stored event must carry.
func ValidateEvent(ev models.Event) error {
	switch {
	case !hexIDRe.MatchString(ev.ID):
		return errors.New("parser: id must be 64 lowercase hex characters")
	case !hexIDRe.MatchString(ev.PubKey):
		return errors.New("parser: pubkey must be 64 lowercase hex characters")
	case ev.Kind < 0:
		return errors.New("parser: kind must be non-negative")
	case ev.CreatedAt <= 0:
		return errors.New("parser: created_at must be positive")
	}
	for i, tag := range ev.Tags {
		if len(tag) == 0 {
			return fmt.Errorf("parser: tag %d is empty", i)
		}
	}
	if models.IsAddressable(ev.Kind) && ev.Slug() == "" {
		return errors.New("parser: addressable event without d tag")
	}
	return nil
}
