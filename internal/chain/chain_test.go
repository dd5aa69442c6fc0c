package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liquidnet/asset-registry/internal/registry"
)

var testPrevout = registry.OutPoint{
	Txid: "0a93069bba360df60d77ecfff99304a9de123fecb8217348bb9d35f4a96d2fca",
	Vout: 0,
}

func TestIssuanceEntropyVector(t *testing.T) {
	entropy, err := IssuanceEntropy(testPrevout, [32]byte{})
	require.NoError(t, err)
	assert.Equal(t,
		"b8c4a6b3bb81c57e08b3c3b42d682ed287f492da6575fffd81d98893d74418b6",
		entropy.String())

	tag := AssetTag(entropy)
	assert.Equal(t,
		"ff6fa9c92fd6086523e11607f6ee8ba90406ccaf738c49bf667ae5ec93733276",
		tag.String())
}

func TestComputeAssetIDVector(t *testing.T) {
	id, err := ComputeAssetID(testPrevout, [32]byte{})
	require.NoError(t, err)
	assert.Equal(t,
		registry.AssetID("ff6fa9c92fd6086523e11607f6ee8ba90406ccaf738c49bf667ae5ec93733276"),
		id)
}

// testContractHash is an arbitrary but fixed contract hash.
func testContractHash(t *testing.T) [32]byte {
	t.Helper()
	b, err := hex.DecodeString("37a9fc49e9b2e24b99b307c03a54b6a01425ab864e6d4e22bbb768871e6a1aab")
	require.NoError(t, err)
	var h [32]byte
	copy(h[:], b)
	return h
}

func esploraHandler(t *testing.T, contractHash string, confirmed bool) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/asset/", func(w http.ResponseWriter, r *http.Request) {
		status := `{"confirmed":true,"block_height":999}`
		if !confirmed {
			status = `{"confirmed":false}`
		}
		fmt.Fprintf(w, `{
			"issuance_txin": {"txid":"0a93069bba360df60d77ecfff99304a9de123fecb8217348bb9d35f4a96d2fca","vin":0},
			"issuance_prevout": {"txid":"%s","vout":%d},
			"status": %s,
			"contract_hash": "%s"
		}`, testPrevout.Txid, testPrevout.Vout, status, contractHash)
	})
	return mux
}

func TestVerifyIssuance(t *testing.T) {
	hash := testContractHash(t)
	id, err := ComputeAssetID(testPrevout, hash)
	require.NoError(t, err)

	srv := httptest.NewServer(esploraHandler(t, hex.EncodeToString(hash[:]), true))
	defer srv.Close()

	witness, err := NewClient(srv.URL, time.Second).VerifyIssuance(context.Background(), id, hash)
	require.NoError(t, err)
	assert.Equal(t, testPrevout, witness.Prevout)
	assert.Equal(t, uint32(0), witness.Txin.Vin)
	assert.Equal(t, testPrevout.Txid, witness.Txin.Txid)
}

func TestVerifyIssuanceContractHashMismatch(t *testing.T) {
	hash := testContractHash(t)
	id, err := ComputeAssetID(testPrevout, hash)
	require.NoError(t, err)

	// chain reports a different committed hash
	srv := httptest.NewServer(esploraHandler(t,
		"00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff", true))
	defer srv.Close()

	_, err = NewClient(srv.URL, time.Second).VerifyIssuance(context.Background(), id, hash)
	require.Error(t, err)
	assert.Equal(t, registry.KindContractHashMismatch, registry.KindOf(err))
}

func TestVerifyIssuanceWrongAssetID(t *testing.T) {
	hash := testContractHash(t)

	srv := httptest.NewServer(esploraHandler(t, hex.EncodeToString(hash[:]), true))
	defer srv.Close()

	// the served issuance does not reconstruct to this id
	other := registry.AssetID("ff6fa9c92fd6086523e11607f6ee8ba90406ccaf738c49bf667ae5ec93733276")
	_, err := NewClient(srv.URL, time.Second).VerifyIssuance(context.Background(), other, hash)
	require.Error(t, err)
	assert.Equal(t, registry.KindContractHashMismatch, registry.KindOf(err))
}

func TestVerifyIssuanceUnconfirmed(t *testing.T) {
	hash := testContractHash(t)
	id, err := ComputeAssetID(testPrevout, hash)
	require.NoError(t, err)

	srv := httptest.NewServer(esploraHandler(t, hex.EncodeToString(hash[:]), false))
	defer srv.Close()

	_, err = NewClient(srv.URL, time.Second).VerifyIssuance(context.Background(), id, hash)
	require.Error(t, err)
	assert.Equal(t, registry.KindUnconfirmed, registry.KindOf(err))
}

func TestVerifyIssuanceAssetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).VerifyIssuance(context.Background(),
		"ff6fa9c92fd6086523e11607f6ee8ba90406ccaf738c49bf667ae5ec93733276", [32]byte{})
	require.Error(t, err)
	assert.Equal(t, registry.KindAssetNotFound, registry.KindOf(err))
}

func TestVerifyIssuanceChainUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing is listening anymore

	_, err := NewClient(srv.URL, 500*time.Millisecond).VerifyIssuance(context.Background(),
		"ff6fa9c92fd6086523e11607f6ee8ba90406ccaf738c49bf667ae5ec93733276", [32]byte{})
	require.Error(t, err)
	assert.Equal(t, registry.KindChainUnavailable, registry.KindOf(err))
}
