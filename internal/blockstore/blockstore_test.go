package blockstore

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

func TestFindLatestFailsWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.FindLatest()
	if err != nil {
		t.Fatalf("FindLatest: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false on an empty store")
	}
}

func TestSaveFindByIdxAndHash(t *testing.T) {
	s := newTestStore(t)
	genesis := ledger.NewGenesisBlock(nil)

	if err := s.Save(genesis); err != nil {
		t.Fatalf("Save: %v", err)
	}

	byIdx, ok, err := s.FindByIdx(0)
	if err != nil || !ok {
		t.Fatalf("FindByIdx: ok=%v err=%v", ok, err)
	}
	if byIdx.Signature != ledger.GenesisMarker {
		t.Errorf("unexpected block returned by idx: %+v", byIdx)
	}

	byHash, ok, err := s.FindByHash(genesis.ComputeHash())
	if err != nil || !ok {
		t.Fatalf("FindByHash: ok=%v err=%v", ok, err)
	}
	if byHash.Idx != 0 {
		t.Errorf("unexpected block returned by hash: %+v", byHash)
	}
}

func TestSaveTracksLatest(t *testing.T) {
	s := newTestStore(t)
	b0 := ledger.NewGenesisBlock(nil)
	b1 := ledger.Block{Idx: 1, ParentHash: b0.ComputeHash(), Validator: "v", MerkleRoot: "m", Signature: "sig"}

	if err := s.Save(b0); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(b1); err != nil {
		t.Fatal(err)
	}

	latest, ok, err := s.FindLatest()
	if err != nil || !ok {
		t.Fatalf("FindLatest: ok=%v err=%v", ok, err)
	}
	if latest.Idx != 1 {
		t.Errorf("expected latest idx 1, got %d", latest.Idx)
	}
}

func TestSaveStripsTxs(t *testing.T) {
	s := newTestStore(t)
	tx := ledger.Tx{Hash: "h", From: "GENESIS", To: "A", Amount: helpers.MustParseDecimal("1"), Signature: "GENESIS"}
	b := ledger.NewGenesisBlock([]ledger.Tx{tx})

	if err := s.Save(b); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.FindByIdx(0)
	if err != nil || !ok {
		t.Fatalf("FindByIdx: ok=%v err=%v", ok, err)
	}
	if len(got.Txs) != 0 {
		t.Errorf("expected persisted block to have no txs, got %d", len(got.Txs))
	}
}
