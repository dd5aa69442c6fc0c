package chain

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/liquidnet/asset-registry/internal/registry"
)

// IssuanceEntropy computes the Liquid issuance entropy for a prevout and
// a contract hash: the fast merkle node over the double-SHA-256 of the
// serialized prevout and the byte-reversed contract hash.
func IssuanceEntropy(prevout registry.OutPoint, contractHash [32]byte) (chainhash.Hash, error) {
	txid, err := chainhash.NewHashFromStr(prevout.Txid)
	if err != nil {
		return chainhash.Hash{}, registry.Wrap(registry.KindMalformedJSON, err, "invalid prevout txid")
	}

	var buf bytes.Buffer
	buf.Write(txid[:])
	var vout [4]byte
	binary.LittleEndian.PutUint32(vout[:], prevout.Vout)
	buf.Write(vout[:])

	prevoutHash := chainhash.DoubleHashH(buf.Bytes())
	return fastMerkleNode(prevoutHash, chainhash.Hash(reverse(contractHash))), nil
}

// AssetTag derives the asset tag from the issuance entropy: the fast
// merkle node over the entropy and a zero hash.
func AssetTag(entropy chainhash.Hash) chainhash.Hash {
	return fastMerkleNode(entropy, chainhash.Hash{})
}

// ComputeAssetID reconstructs the displayed asset id committed to by an
// issuance input.
func ComputeAssetID(prevout registry.OutPoint, contractHash [32]byte) (registry.AssetID, error) {
	entropy, err := IssuanceEntropy(prevout, contractHash)
	if err != nil {
		return "", err
	}
	tag := AssetTag(entropy)
	return registry.AssetID(tag.String()), nil
}

func reverse(h [32]byte) [32]byte {
	var out [32]byte
	for i := range h {
		out[i] = h[len(h)-1-i]
	}
	return out
}
