package relay

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/parser"
)

// Verify reports why a relay event cannot be trusted: missing fields, an id
// that does not match its content, or a signature that does not match its
// author.
func Verify(ev *models.Event) error {
	if err := parser.ValidateEvent(*ev); err != nil {
		return err
	}
	hash := ev.Hash()
	if hex.EncodeToString(hash[:]) != ev.ID {
		return errors.New("relay: id does not match event hash")
	}

	pkBytes, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return fmt.Errorf("relay: pubkey: %w", err)
	}
	pk, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return fmt.Errorf("relay: pubkey: %w", err)
	}
	sigBytes, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return fmt.Errorf("relay: sig: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("relay: sig: %w", err)
	}
	if !sig.Verify(hash[:], pk) {
		return errors.New("relay: bad signature")
	}
	return nil
}
