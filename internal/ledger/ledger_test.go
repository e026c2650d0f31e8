package ledger_test

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pos-ledger/node/internal/blockstore"
	"github.com/pos-ledger/node/internal/crypto"
	"github.com/pos-ledger/node/internal/kvstore"
	"github.com/pos-ledger/node/internal/ledger"
	"github.com/pos-ledger/node/internal/noncestore"
	"github.com/pos-ledger/node/internal/txstore"
	"github.com/pos-ledger/node/pkg/helpers"
)

// genesisTx builds a genesis-marked Tx for use in fixtures.
func genesisTx(to, amount string, nonce, ts uint64) ledger.Tx {
	tx := ledger.Tx{
		From:      ledger.GenesisMarker,
		To:        to,
		Amount:    helpers.MustParseDecimal(amount),
		Nonce:     nonce,
		Timestamp: ts,
		Signature: ledger.GenesisMarker,
	}
	tx.Hash = tx.ComputeHash()
	return tx
}

func signedTx(t *testing.T, key *crypto.PrivateKey, to, amount string, nonce, ts uint64) ledger.Tx {
	t.Helper()
	tx := ledger.Tx{
		From:      key.Address(),
		To:        to,
		Amount:    helpers.MustParseDecimal(amount),
		Nonce:     nonce,
		Timestamp: ts,
	}
	tx.Hash = tx.ComputeHash()
	hashBytes, err := decodeHex(tx.Hash)
	if err != nil {
		t.Fatalf("decode hash: %v", err)
	}
	sig, err := key.Sign(hashBytes)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx.Signature = encodeHex(sig)
	return tx
}

func newTestLedger(t *testing.T, key *crypto.PrivateKey, genesisTxs []ledger.Tx) *ledger.Ledger {
	t.Helper()
	kv, err := kvstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	genesisPath := filepath.Join(t.TempDir(), "genesis.json")
	blob, err := json.Marshal(genesisTxs)
	if err != nil {
		t.Fatalf("marshal genesis: %v", err)
	}
	if err := os.WriteFile(genesisPath, blob, 0600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}

	l, err := ledger.New(key, genesisPath, txstore.New(kv), blockstore.New(kv), noncestore.New(kv))
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	return l
}

func TestBootstrapFromGenesis(t *testing.T) {
	validator, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	w, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	wallet := w.Address()

	genesisTxs := []ledger.Tx{
		genesisTx(wallet, "1000000", 1, 1000),
	}
	fund := ledger.Tx{
		From:      wallet,
		To:        ledger.AddressStake,
		Amount:    helpers.MustParseDecimal("500000"),
		Nonce:     1,
		Timestamp: 1000,
	}
	fund.Hash = fund.ComputeHash()
	hashBytes, _ := decodeHex(fund.Hash)
	sig, err := w.Sign(hashBytes)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	fund.Signature = encodeHex(sig)
	genesisTxs = append(genesisTxs, fund)

	l := newTestLedger(t, validator, genesisTxs)

	balance, err := l.Balance(wallet)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.Cmp(helpers.MustParseDecimal("500000")) != 0 {
		t.Errorf("expected balance 500000, got %s", balance.String())
	}

	nonce, err := l.Nonce(wallet)
	if err != nil {
		t.Fatalf("Nonce: %v", err)
	}
	if nonce != 1 {
		t.Errorf("expected nonce 1, got %d", nonce)
	}

	stakes, err := l.Stakes()
	if err != nil {
		t.Fatalf("Stakes: %v", err)
	}
	if len(stakes) != 1 || stakes[0].Wallet != wallet || stakes[0].Amount.String() != "500000" {
		t.Errorf("unexpected stakes: %+v", stakes)
	}
}

func TestDoubleSubmitRejection(t *testing.T) {
	validator, _ := crypto.GenerateKey()
	w, _ := crypto.GenerateKey()
	wallet := w.Address()

	genesisTxs := []ledger.Tx{
		genesisTx(wallet, "1000000", 1, 1000),
		signedTx(t, w, ledger.AddressStake, "500000", 1, 1000),
	}
	l := newTestLedger(t, validator, genesisTxs)

	tx := signedTx(t, w, "X", "100.99", 2, 1001)
	if err := l.AddTx(tx); err != nil {
		t.Fatalf("AddTx: %v", err)
	}

	dup := signedTx(t, w, "Y", "1", 2, 1002)
	err := l.AddTx(dup)
	if err == nil {
		t.Fatalf("expected rejection of duplicate nonce")
	}
	if got := err.Error(); !contains(got, "expected: 3") {
		t.Errorf("expected error mentioning \"expected: 3\", got %q", got)
	}
}

func TestStakeUnderflow(t *testing.T) {
	validator, _ := crypto.GenerateKey()
	w, _ := crypto.GenerateKey()
	wallet := w.Address()

	genesisTxs := []ledger.Tx{
		genesisTx(wallet, "1000000", 1, 1000),
		signedTx(t, w, ledger.AddressStake, "500000", 1, 1000),
	}
	l := newTestLedger(t, validator, genesisTxs)

	tx := signedTx(t, w, ledger.AddressUnstake, "600000", 2, 1001)
	err := l.AddTx(tx)
	if err == nil {
		t.Fatalf("expected rejection")
	}
	if got := err.Error(); !contains(got, "Not enough stake") {
		t.Errorf("expected \"Not enough stake\", got %q", got)
	}
}

func TestPendingToBlockTransition(t *testing.T) {
	validator, _ := crypto.GenerateKey()
	w, _ := crypto.GenerateKey()
	wallet := w.Address()

	genesisTxs := []ledger.Tx{
		genesisTx(wallet, "1000000", 1, 1000),
		signedTx(t, w, ledger.AddressStake, "500000", 1, 1000),
	}
	l := newTestLedger(t, validator, genesisTxs)

	const n = 3
	for i := 0; i < n; i++ {
		tx := signedTx(t, w, "X", "1", uint64(2+i), uint64(1001+i))
		if err := l.AddTx(tx); err != nil {
			t.Fatalf("AddTx %d: %v", i, err)
		}
	}

	before := uint64(time.Now().Unix())
	block, err := l.CreateBlock()
	if err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}
	if len(block.Txs) != n {
		t.Errorf("expected %d txs in new block, got %d", n, len(block.Txs))
	}
	if block.Timestamp < before {
		t.Errorf("expected block.Timestamp >= %d, got %d", before, block.Timestamp)
	}

	found, ok, err := l.FindBlockByIdx(block.Idx)
	if err != nil || !ok {
		t.Fatalf("FindBlockByIdx: ok=%v err=%v", ok, err)
	}
	if len(found.Txs) != n {
		t.Errorf("expected %d txs persisted under block idx, got %d", n, len(found.Txs))
	}
}

func TestAddBlockAdmitsWithoutReverification(t *testing.T) {
	validator, _ := crypto.GenerateKey()
	w, _ := crypto.GenerateKey()
	wallet := w.Address()

	genesisTxs := []ledger.Tx{genesisTx(wallet, "1000000", 1, 1000)}
	l := newTestLedger(t, validator, genesisTxs)

	foreign := ledger.Block{
		Idx:        1,
		Validator:  "not-a-real-validator",
		ParentHash: "deadbeef",
		MerkleRoot: crypto.ZeroHashHex,
		Signature:  "bogus",
	}
	if err := l.AddBlock(foreign); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	got, ok, err := l.FindBlockByIdx(1)
	if err != nil || !ok {
		t.Fatalf("FindBlockByIdx: ok=%v err=%v", ok, err)
	}
	if got.Validator != "not-a-real-validator" {
		t.Errorf("expected malformed block to be admitted as-is, got %+v", got)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func encodeHex(b []byte) string {
	return hex.EncodeToString(b)
}
