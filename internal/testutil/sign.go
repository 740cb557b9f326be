package testutil

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/starford/relink/internal/models"
)

func key(seed byte) *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	return priv
}

// PubKey returns the hex x-only public key of the test key made of seed.
func PubKey(seed byte) string {
	return hex.EncodeToString(schnorr.SerializePubKey(key(seed).PubKey()))
}

// Sign returns ev authored by the test key made of seed, with its real id
// and signature.
func Sign(seed byte, ev models.Event) models.Event {
	ev.PubKey = PubKey(seed)
	hash := ev.Hash()
	ev.ID = hex.EncodeToString(hash[:])
	sig, err := schnorr.Sign(key(seed), hash[:])
	if err != nil {
		panic(err)
	}
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return ev
}

// SignedEvent builds an event like Event, signed by the test key made of seed.
func SignedEvent(seed byte, kind int, createdAt int64, content string, tags ...models.Tag) models.Event {
	return Sign(seed, Event('0', "", kind, createdAt, content, tags...))
}

// SignedProfile builds a kind-0 event carrying name, signed by seed.
func SignedProfile(seed byte, name string, createdAt int64) models.Event {
	return SignedEvent(seed, models.KindProfileMetadata, createdAt, `{"name":"`+name+`"}`)
}
