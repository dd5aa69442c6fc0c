// Package sigmsg verifies Bitcoin "signed message" signatures, the
// convention used to authorize registry deletions with the issuer key.
package sigmsg

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/liquidnet/asset-registry/internal/registry"
)

// messageMagic prefixes every signed message. The wire varint encoding of
// its length is the 0x18 byte of the classic prefix.
const messageMagic = "Bitcoin Signed Message:\n"

// compactSigLen is the recoverable compact signature length: one header
// byte carrying the recovery flag, then r and s.
const compactSigLen = 65

// MessageHash returns the double SHA-256 of the signed-message envelope:
// varint-prefixed magic followed by the varint-prefixed message.
func MessageHash(msg string) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, messageMagic)
	_ = wire.WriteVarString(&buf, 0, msg)
	return chainhash.DoubleHashB(buf.Bytes())
}

// Verify checks a base64 compact signature over msg against a compressed
// secp256k1 public key given as hex.
func Verify(pubkeyHex string, msg string, sigB64 string) error {
	pubkey, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return registry.Wrap(registry.KindMalformedSignature, err, "invalid public key hex")
	}

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return registry.Wrap(registry.KindMalformedSignature, err, "invalid signature base64")
	}
	if len(sig) != compactSigLen {
		return registry.Newf(registry.KindMalformedSignature,
			"signature must be %d bytes, got %d", compactSigLen, len(sig))
	}

	recovered, _, err := ecdsa.RecoverCompact(sig, MessageHash(msg))
	if err != nil {
		return registry.Wrap(registry.KindMalformedSignature, err, "signature recovery failed")
	}
	if !bytes.Equal(recovered.SerializeCompressed(), pubkey) {
		return registry.New(registry.KindSignatureDoesNotVerify,
			"signature was not produced by the issuer key")
	}
	return nil
}

// Sign produces a base64 compact signature over msg, in the form Verify
// accepts. The tests use it to produce deletion signatures.
func Sign(priv *btcec.PrivateKey, msg string) string {
	sig := ecdsa.SignCompact(priv, MessageHash(msg), true)
	return base64.StdEncoding.EncodeToString(sig)
}

// DeletionMessage is the canonical message an issuer signs to remove an
// asset from the registry.
func DeletionMessage(id registry.AssetID) string {
	return fmt.Sprintf("remove %s from registry", id)
}
