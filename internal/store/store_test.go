package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liquidnet/asset-registry/internal/contract"
	"github.com/liquidnet/asset-registry/internal/registry"
	"github.com/liquidnet/asset-registry/internal/sigmsg"
)

const (
	testAssetID  = registry.AssetID("9a51761132b7399d34819c2c5d03af71794ff3aa0f78a434ddf20605545c86f2")
	otherAssetID = registry.AssetID("ff6fa9c92fd6086523e11607f6ee8ba90406ccaf738c49bf667ae5ec93733276")
)

var testWitness = &registry.IssuanceWitness{
	Txin: registry.TxInput{
		Txid: "0a93069bba360df60d77ecfff99304a9de123fecb8217348bb9d35f4a96d2fca",
		Vin:  0,
	},
	Prevout: registry.OutPoint{
		Txid: "8e818b4561de8c731db7cd7a3b67784d525f96ecc7b564b82d8a01cab390b2d4",
		Vout: 1,
	},
}

type fakeChain struct {
	err   error
	calls int
}

func (f *fakeChain) VerifyIssuance(ctx context.Context, id registry.AssetID, contractHash [32]byte) (*registry.IssuanceWitness, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return testWitness, nil
}

type fakeProof struct {
	err   error
	calls int
}

func (f *fakeProof) Verify(ctx context.Context, domain string, id registry.AssetID) error {
	f.calls++
	return f.err
}

// testKey returns a deterministic issuer key pair.
func testKey(t *testing.T) (*btcec.PrivateKey, string) {
	t.Helper()
	priv, pub := btcec.PrivKeyFromBytes([]byte("0123456789abcdef0123456789abcdef"))
	return priv, hex.EncodeToString(pub.SerializeCompressed())
}

func testContract(t *testing.T, pubHex, ticker string) []byte {
	t.Helper()
	doc := fmt.Sprintf(`{"version":0,"issuer_pubkey":"%s","name":"Foo Coin","entity":{"domain":"test.dev"}`, pubHex)
	if ticker != "" {
		doc += fmt.Sprintf(`,"ticker":%q`, ticker)
	}
	return []byte(doc + "}")
}

// captureHook writes a hook script that records its invocation.
func captureHook(t *testing.T, dir string) (cmd string, argsFile string) {
	t.Helper()
	argsFile = filepath.Join(dir, "hook-args")
	cmd = filepath.Join(dir, "hook.sh")
	script := fmt.Sprintf("#!/bin/sh\necho \"$1 $2 $3 $AUTHORIZING_SIG\" >> %s\n", argsFile)
	require.NoError(t, os.WriteFile(cmd, []byte(script), 0o755))
	return cmd, argsFile
}

func failingHook(t *testing.T, dir string) string {
	t.Helper()
	cmd := filepath.Join(dir, "hook-fail.sh")
	require.NoError(t, os.WriteFile(cmd, []byte("#!/bin/sh\nexit 1\n"), 0o755))
	return cmd
}

func openStore(t *testing.T, dbPath, hookCmd string, chain ChainVerifier, proof ProofVerifier) *Store {
	t.Helper()
	if chain == nil {
		chain = &fakeChain{}
	}
	if proof == nil {
		proof = &fakeProof{}
	}
	s, err := Open(Config{Path: dbPath, HookCmd: hookCmd, Chain: chain, Proof: proof})
	require.NoError(t, err)
	return s
}

// snapshot collects every file under the database root with its content.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestSubmitHappyPath(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db")
	hookCmd, argsFile := captureHook(t, dir)

	chain := &fakeChain{}
	proof := &fakeProof{}
	s := openStore(t, dbPath, hookCmd, chain, proof)

	_, pubHex := testKey(t)
	rec, err := s.Submit(context.Background(), testAssetID, testContract(t, pubHex, "FOO"), "")
	require.NoError(t, err)
	require.Equal(t, testAssetID, rec.AssetID)
	assert.Equal(t, *testWitness, registry.IssuanceWitness{Txin: rec.IssuanceTxin, Prevout: rec.IssuancePrevout})
	assert.Equal(t, 1, chain.calls)
	assert.Equal(t, 1, proof.calls)

	// the record file holds the canonical serialization
	recPath := filepath.Join(dbPath, "9a", string(testAssetID)+".json")
	data, err := os.ReadFile(recPath)
	require.NoError(t, err)
	canonical, err := rec.Canonical()
	require.NoError(t, err)
	assert.Equal(t, string(canonical), string(data))

	// the ticker map entry points back at the asset
	mapData, err := os.ReadFile(filepath.Join(dbPath, "_map", "test.dev", "FOO"))
	require.NoError(t, err)
	assert.Equal(t, string(testAssetID), string(mapData))

	// the hook saw the add
	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t,
		fmt.Sprintf("%s 9a/%s.json add \n", testAssetID, testAssetID),
		string(args))

	// and the read map serves it
	got, ok := s.Get(testAssetID)
	require.True(t, ok)
	assert.Equal(t, rec.AssetID, got.AssetID)
}

func TestSubmitHashMismatch(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "db"), "", nil, nil)
	_, pubHex := testKey(t)

	_, err := s.Submit(context.Background(), testAssetID, testContract(t, pubHex, ""),
		strings.Repeat("00", 32))
	require.Error(t, err)
	assert.Equal(t, registry.KindHashMismatch, registry.KindOf(err))
}

func TestSubmitAlreadyExists(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "db"), "", nil, nil)
	_, pubHex := testKey(t)

	_, err := s.Submit(context.Background(), testAssetID, testContract(t, pubHex, ""), "")
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), testAssetID, testContract(t, pubHex, ""), "")
	require.Error(t, err)
	assert.Equal(t, registry.KindAlreadyExists, registry.KindOf(err))
}

func TestSubmitTickerTaken(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	s := openStore(t, dbPath, "", nil, nil)
	_, pubHex := testKey(t)

	_, err := s.Submit(context.Background(), testAssetID, testContract(t, pubHex, "FOO"), "")
	require.NoError(t, err)
	before := snapshot(t, dbPath)

	_, err = s.Submit(context.Background(), otherAssetID, testContract(t, pubHex, "FOO"), "")
	require.Error(t, err)
	assert.Equal(t, registry.KindTickerTaken, registry.KindOf(err))

	// the failure left no trace on disk
	assert.Equal(t, before, snapshot(t, dbPath))
}

func TestSubmitChainFailureWritesNothing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	chain := &fakeChain{err: registry.New(registry.KindUnconfirmed, "issuance not confirmed")}
	s := openStore(t, dbPath, "", chain, nil)
	_, pubHex := testKey(t)

	before := snapshot(t, dbPath)
	_, err := s.Submit(context.Background(), testAssetID, testContract(t, pubHex, "FOO"), "")
	require.Error(t, err)
	assert.Equal(t, registry.KindUnconfirmed, registry.KindOf(err))
	assert.Equal(t, before, snapshot(t, dbPath))

	_, ok := s.Get(testAssetID)
	assert.False(t, ok)
}

func TestSubmitProofFailureWritesNothing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	proof := &fakeProof{err: registry.New(registry.KindProofMismatch, "page contents mismatch")}
	s := openStore(t, dbPath, "", nil, proof)
	_, pubHex := testKey(t)

	before := snapshot(t, dbPath)
	_, err := s.Submit(context.Background(), testAssetID, testContract(t, pubHex, "FOO"), "")
	require.Error(t, err)
	assert.Equal(t, registry.KindProofMismatch, registry.KindOf(err))
	assert.Equal(t, before, snapshot(t, dbPath))
}

func TestSubmitHookFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db")
	s := openStore(t, dbPath, failingHook(t, dir), nil, nil)
	_, pubHex := testKey(t)

	before := snapshot(t, dbPath)
	_, err := s.Submit(context.Background(), testAssetID, testContract(t, pubHex, "FOO"), "")
	require.Error(t, err)
	assert.Equal(t, registry.KindHookFailed, registry.KindOf(err))

	// on-disk state is identical to the pre-submit state
	assert.Equal(t, before, snapshot(t, dbPath))
	_, ok := s.Get(testAssetID)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db")
	hookCmd, argsFile := captureHook(t, dir)
	s := openStore(t, dbPath, hookCmd, nil, nil)

	priv, pubHex := testKey(t)
	_, err := s.Submit(context.Background(), testAssetID, testContract(t, pubHex, "FOO"), "")
	require.NoError(t, err)

	sig := sigmsg.Sign(priv, sigmsg.DeletionMessage(testAssetID))
	require.NoError(t, s.Delete(context.Background(), testAssetID, sig))

	_, err = os.Stat(filepath.Join(dbPath, "9a", string(testAssetID)+".json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dbPath, "_map", "test.dev", "FOO"))
	assert.True(t, os.IsNotExist(err))
	_, ok := s.Get(testAssetID)
	assert.False(t, ok)

	// the ticker is free again
	_, err = s.Submit(context.Background(), otherAssetID, testContract(t, pubHex, "FOO"), "")
	require.NoError(t, err)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(args)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, fmt.Sprintf("%s 9a/%s.json delete %s", testAssetID, testAssetID, sig), lines[1])
}

func TestDeleteWrongKey(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	s := openStore(t, dbPath, "", nil, nil)

	_, pubHex := testKey(t)
	_, err := s.Submit(context.Background(), testAssetID, testContract(t, pubHex, "FOO"), "")
	require.NoError(t, err)

	other, _ := btcec.PrivKeyFromBytes([]byte("fedcba9876543210fedcba9876543210"))
	sig := sigmsg.Sign(other, sigmsg.DeletionMessage(testAssetID))

	err = s.Delete(context.Background(), testAssetID, sig)
	require.Error(t, err)
	assert.Equal(t, registry.KindSignatureDoesNotVerify, registry.KindOf(err))

	// the record is untouched
	_, statErr := os.Stat(filepath.Join(dbPath, "9a", string(testAssetID)+".json"))
	assert.NoError(t, statErr)
	_, ok := s.Get(testAssetID)
	assert.True(t, ok)
}

func TestDeleteNotFound(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "db"), "", nil, nil)
	err := s.Delete(context.Background(), testAssetID, "c2ln")
	require.Error(t, err)
	assert.Equal(t, registry.KindNotFound, registry.KindOf(err))
}

func TestDeleteHookFailureRestores(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db")
	s := openStore(t, dbPath, "", nil, nil)

	priv, pubHex := testKey(t)
	_, err := s.Submit(context.Background(), testAssetID, testContract(t, pubHex, "FOO"), "")
	require.NoError(t, err)
	before := snapshot(t, dbPath)

	s.hookCmd = failingHook(t, dir)
	sig := sigmsg.Sign(priv, sigmsg.DeletionMessage(testAssetID))
	err = s.Delete(context.Background(), testAssetID, sig)
	require.Error(t, err)
	assert.Equal(t, registry.KindHookFailed, registry.KindOf(err))

	assert.Equal(t, before, snapshot(t, dbPath))
	_, ok := s.Get(testAssetID)
	assert.True(t, ok)
}

func TestOpenScansAndSweeps(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	s := openStore(t, dbPath, "", nil, nil)
	_, pubHex := testKey(t)
	_, err := s.Submit(context.Background(), testAssetID, testContract(t, pubHex, "FOO"), "")
	require.NoError(t, err)

	// simulate crash leftovers: a staged record and an orphaned map entry
	stale := filepath.Join(dbPath, "9a", "deadbeef.json.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o644))
	orphanDir := filepath.Join(dbPath, "_map", "test.dev")
	require.NoError(t, os.MkdirAll(orphanDir, 0o755))
	orphan := filepath.Join(orphanDir, "BAR")
	require.NoError(t, os.WriteFile(orphan, []byte(otherAssetID), 0o644))

	reopened := openStore(t, dbPath, "", nil, nil)

	_, ok := reopened.Get(testAssetID)
	assert.True(t, ok, "existing record survives a reopen")
	assert.Len(t, reopened.List(), 1)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale staging file is swept")
	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err), "orphaned map entry is swept")

	// the swept ticker is usable
	_, err = reopened.Submit(context.Background(), otherAssetID, testContract(t, pubHex, "BAR"), "")
	require.NoError(t, err)
}

func TestStoredRecordReparses(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	s := openStore(t, dbPath, "", nil, nil)
	_, pubHex := testKey(t)
	rec, err := s.Submit(context.Background(), testAssetID, testContract(t, pubHex, "FOO"), "")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dbPath, "9a", string(testAssetID)+".json"))
	require.NoError(t, err)
	parsed, err := registry.ParseRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec.AssetID, parsed.AssetID)

	// the stored contract re-hashes to the same value it was verified with
	c, err := contract.Parse(parsed.Contract)
	require.NoError(t, err)
	sub, err := contract.Parse(testContract(t, pubHex, "FOO"))
	require.NoError(t, err)
	assert.Equal(t, sub.Hash(), c.Hash())
}
