package registry

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// AssetID is the 32-byte Liquid asset identifier rendered as 64 lowercase
// hex characters. It is assigned by the chain at issuance and never changes.
type AssetID string

// Valid reports whether the asset id is a well-formed 64-character
// lowercase hex string.
func (id AssetID) Valid() bool {
	if len(id) != 64 {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Prefix returns the first two hex characters of the asset id, used for
// directory partitioning of the record files.
func (id AssetID) Prefix() string {
	return string(id[:2])
}

func (id AssetID) String() string {
	return string(id)
}

// TxInput identifies the issuance input of a transaction.
type TxInput struct {
	Txid string `json:"txid"`
	Vin  uint32 `json:"vin"`
}

// OutPoint identifies the output spent to produce the issuance.
type OutPoint struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// IssuanceWitness is the on-chain evidence returned by a successful
// issuance verification and persisted inside the asset record.
type IssuanceWitness struct {
	Txin    TxInput
	Prevout OutPoint
}

// AssetRecord is the persisted unit of the registry: one JSON file per
// asset. The contract is stored in its canonical serialization so that
// re-hashing the stored bytes reproduces the contract hash committed
// on-chain.
type AssetRecord struct {
	AssetID         AssetID         `json:"asset_id"`
	Contract        json.RawMessage `json:"contract"`
	IssuanceTxin    TxInput         `json:"issuance_txin"`
	IssuancePrevout OutPoint        `json:"issuance_prevout"`
}

// Canonical returns the canonical JSON serialization of the record, the
// exact bytes written to disk.
func (r *AssetRecord) Canonical() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	out, err := jcs.Transform(b)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize record: %w", err)
	}
	return out, nil
}

// ParseRecord decodes a persisted asset record.
func ParseRecord(data []byte) (*AssetRecord, error) {
	var r AssetRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, Wrap(KindMalformedJSON, err, "invalid asset record")
	}
	if !r.AssetID.Valid() {
		return nil, New(KindMalformedJSON, "invalid asset id in record")
	}
	return &r, nil
}
