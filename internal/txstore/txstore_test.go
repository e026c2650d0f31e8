package txstore

import (
	"testing"

	"github.com/pos-ledger/node/internal/kvstore"
	"github.com/pos-ledger/node/internal/ledger"
	"github.com/pos-ledger/node/pkg/helpers"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := kvstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return New(kv)
}

func sampleTx(from, to string, nonce, ts uint64) ledger.Tx {
	tx := ledger.Tx{
		From:      from,
		To:        to,
		Amount:    helpers.MustParseDecimal("100"),
		Nonce:     nonce,
		Timestamp: ts,
		Signature: "deadbeef",
	}
	tx.Hash = tx.ComputeHash()
	return tx
}

func TestSaveFindByHash(t *testing.T) {
	s := newTestStore(t)
	tx := sampleTx("A", "B", 1, 100)

	if err := s.Save(tx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := s.FindByHash(tx.Hash)
	if err != nil || !ok {
		t.Fatalf("FindByHash: ok=%v err=%v", ok, err)
	}
	if !got.Equal(tx) {
		t.Errorf("round-tripped tx differs from original")
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	tx := sampleTx("A", "B", 1, 100)

	if err := s.Save(tx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(tx); err != nil {
		t.Fatalf("Save (again): %v", err)
	}

	txs, err := s.FindWalletTxs("A")
	if err != nil {
		t.Fatalf("FindWalletTxs: %v", err)
	}
	if len(txs) != 1 {
		t.Errorf("expected exactly one entry in wallet index, got %d", len(txs))
	}
}

func TestFindWalletTxsOrdered(t *testing.T) {
	s := newTestStore(t)
	t2 := sampleTx("A", "B", 2, 200)
	t1 := sampleTx("A", "B", 1, 100)
	if err := s.Save(t2); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(t1); err != nil {
		t.Fatal(err)
	}

	txs, err := s.FindWalletTxs("A")
	if err != nil {
		t.Fatalf("FindWalletTxs: %v", err)
	}
	if len(txs) != 2 || txs[0].Timestamp != 100 || txs[1].Timestamp != 200 {
		t.Errorf("expected ordering by timestamp, got %+v", txs)
	}
}

func TestUpdatePendingPartitionsPendingAndBlockSets(t *testing.T) {
	s := newTestStore(t)
	tx1 := sampleTx("A", "B", 1, 100)
	tx2 := sampleTx("A", "C", 2, 101)
	if err := s.Save(tx1); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(tx2); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdatePending([]ledger.Tx{tx1, tx2}, 5); err != nil {
		t.Fatalf("UpdatePending: %v", err)
	}

	pending, err := s.FindPending()
	if err != nil {
		t.Fatalf("FindPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty pending set, got %d", len(pending))
	}

	inBlock, err := s.FindByBlockIdx(5)
	if err != nil {
		t.Fatalf("FindByBlockIdx: %v", err)
	}
	if len(inBlock) != 2 {
		t.Errorf("expected 2 txs in block 5, got %d", len(inBlock))
	}
	for _, tx := range inBlock {
		if tx.Block == nil || *tx.Block != 5 {
			t.Errorf("tx %s missing block assignment", tx.Hash)
		}
	}
}
