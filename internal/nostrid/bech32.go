package nostrid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// TLV record types.
const (
	tlvSpecial = 0
	tlvRelay   = 1
	tlvAuthor  = 2
	tlvKind    = 3
)

func decodeBech32(token string) (Reference, error) {
	hrp, data5, err := bech32.DecodeNoLimit(token)
	if err != nil {
		return Reference{}, malformed(token, "bech32: %v", err)
	}
	data, err := bech32.ConvertBits(data5, 5, 8, false)
	if err != nil {
		return Reference{}, malformed(token, "bech32 payload: %v", err)
	}

	switch hrp {
	case "npub":
		id, err := rawID(token, data)
		if err != nil {
			return Reference{}, err
		}
		return Reference{Kind: KindProfile, RawToken: token, CanonicalID: id}, nil

	case "note":
		id, err := rawID(token, data)
		if err != nil {
			return Reference{}, err
		}
		return Reference{Kind: KindSingleMessage, RawToken: token, CanonicalID: id}, nil

	case "nprofile":
		t, err := parseTLV(token, data)
		if err != nil {
			return Reference{}, err
		}
		id, err := t.hexSpecial(token)
		if err != nil {
			return Reference{}, err
		}
		return Reference{Kind: KindProfileWithHints, RawToken: token, CanonicalID: id, LocationHints: t.relays}, nil

	case "nevent":
		t, err := parseTLV(token, data)
		if err != nil {
			return Reference{}, err
		}
		id, err := t.hexSpecial(token)
		if err != nil {
			return Reference{}, err
		}
		return Reference{
			Kind:          KindSingleMessageWithHints,
			RawToken:      token,
			CanonicalID:   id,
			LocationHints: t.relays,
			Author:        t.author,
			EventKind:     t.kind,
		}, nil

	case "naddr":
		t, err := parseTLV(token, data)
		if err != nil {
			return Reference{}, err
		}
		if len(t.special) == 0 {
			return Reference{}, malformed(token, "naddr without identifier")
		}
		if t.author == "" {
			return Reference{}, malformed(token, "naddr without author")
		}
		if !t.hasKind {
			return Reference{}, malformed(token, "naddr without kind")
		}
		c := Coordinate{Kind: t.kind, Author: t.author, Slug: string(t.special)}
		return Reference{
			Kind:          KindAddressableDocument,
			RawToken:      token,
			CanonicalID:   c.String(),
			LocationHints: t.relays,
			Author:        c.Author,
			EventKind:     c.Kind,
		}, nil

	case "nsec":
		return Reference{}, unsupported(token, "secret keys are never resolved")
	default:
		return Reference{}, unsupported(token, "prefix %q", hrp)
	}
}

func rawID(token string, data []byte) (string, error) {
	if len(data) != 32 {
		return "", malformed(token, "expected 32 bytes, got %d", len(data))
	}
	return hex.EncodeToString(data), nil
}

type tlv struct {
	special []byte
	relays  []string
	author  string
	kind    int
	hasKind bool
}

func (t tlv) hexSpecial(token string) (string, error) {
	if t.special == nil {
		return "", malformed(token, "missing identifier record")
	}
	return rawID(token, t.special)
}

// parseTLV walks type-length-value records. Unknown types are skipped.
func parseTLV(token string, data []byte) (tlv, error) {
	var out tlv
	for len(data) > 0 {
		if len(data) < 2 {
			return tlv{}, malformed(token, "truncated TLV header")
		}
		typ, length := data[0], int(data[1])
		data = data[2:]
		if len(data) < length {
			return tlv{}, malformed(token, "TLV record %d overruns payload", typ)
		}
		value := data[:length]
		data = data[length:]

		switch typ {
		case tlvSpecial:
			if out.special == nil {
				out.special = append([]byte{}, value...)
			}
		case tlvRelay:
			if relay := strings.TrimSpace(string(value)); relay != "" {
				out.relays = append(out.relays, relay)
			}
		case tlvAuthor:
			if length != 32 {
				return tlv{}, malformed(token, "author record is %d bytes", length)
			}
			out.author = hex.EncodeToString(value)
		case tlvKind:
			if length != 4 {
				return tlv{}, malformed(token, "kind record is %d bytes", length)
			}
			out.kind = int(binary.BigEndian.Uint32(value))
			out.hasKind = true
		}
	}
	return out, nil
}

// EncodePubkey returns the npub form of a hex public key.
func EncodePubkey(pubkey string) (string, error) {
	return encodeRaw("npub", pubkey)
}

// EncodeNote returns the note form of a hex event id.
func EncodeNote(id string) (string, error) {
	return encodeRaw("note", id)
}

// EncodeProfile returns an nprofile carrying relay hints.
func EncodeProfile(pubkey string, relays []string) (string, error) {
	raw, err := decodeHexID(pubkey)
	if err != nil {
		return "", err
	}
	buf := appendTLV(nil, tlvSpecial, raw)
	buf = appendRelays(buf, relays)
	return encodeTLV("nprofile", buf)
}

// EncodeEvent returns an nevent. author may be empty and kind may be zero.
func EncodeEvent(id string, relays []string, author string, kind int) (string, error) {
	raw, err := decodeHexID(id)
	if err != nil {
		return "", err
	}
	buf := appendTLV(nil, tlvSpecial, raw)
	buf = appendRelays(buf, relays)
	if author != "" {
		a, err := decodeHexID(author)
		if err != nil {
			return "", err
		}
		buf = appendTLV(buf, tlvAuthor, a)
	}
	if kind > 0 {
		if kind > math.MaxUint32 {
			return "", malformed(id, "kind %d does not fit in 32 bits", kind)
		}
		buf = appendTLV(buf, tlvKind, kindBytes(kind))
	}
	return encodeTLV("nevent", buf)
}

// EncodeAddress returns the naddr form of a coordinate. Slugs longer than
// one TLV record and kinds outside uint32 cannot be encoded.
func EncodeAddress(c Coordinate, relays []string) (string, error) {
	if c.Kind < 0 || c.Kind > math.MaxUint32 {
		return "", malformed(c.String(), "kind %d does not fit in 32 bits", c.Kind)
	}
	if len(c.Slug) > maxTLVValue {
		return "", malformed(c.String(), "slug is %d bytes, at most %d fit in an naddr", len(c.Slug), maxTLVValue)
	}
	a, err := decodeHexID(c.Author)
	if err != nil {
		return "", err
	}
	buf := appendTLV(nil, tlvSpecial, []byte(c.Slug))
	buf = appendRelays(buf, relays)
	buf = appendTLV(buf, tlvAuthor, a)
	buf = appendTLV(buf, tlvKind, kindBytes(c.Kind))
	return encodeTLV("naddr", buf)
}

func encodeRaw(hrp, hexID string) (string, error) {
	raw, err := decodeHexID(hexID)
	if err != nil {
		return "", err
	}
	return encodeTLV(hrp, raw)
}

func encodeTLV(hrp string, payload []byte) (string, error) {
	data5, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("nostrid: convert bits: %w", err)
	}
	out, err := bech32.Encode(hrp, data5)
	if err != nil {
		return "", fmt.Errorf("nostrid: encode %s: %w", hrp, err)
	}
	return out, nil
}

func decodeHexID(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return nil, malformed(s, "not a 32-byte hex id")
	}
	return raw, nil
}

// maxTLVValue is the longest value a one-byte TLV length can describe.
const maxTLVValue = 255

func appendTLV(buf []byte, typ byte, value []byte) []byte {
	buf = append(buf, typ, byte(len(value)))
	return append(buf, value...)
}

func appendRelays(buf []byte, relays []string) []byte {
	for _, r := range relays {
		if r == "" || len(r) > maxTLVValue {
			continue
		}
		buf = appendTLV(buf, tlvRelay, []byte(r))
	}
	return buf
}

func kindBytes(kind int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(kind))
	return b
}
