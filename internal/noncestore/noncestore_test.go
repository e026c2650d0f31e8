package noncestore

import (
	"testing"

	"github.com/pos-ledger/node/internal/kvstore"
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

func TestGetDefaultsToZero(t *testing.T) {
	s := newTestStore(t)
	n, err := s.Get("A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save("A", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("A", 2); err != nil {
		t.Fatal(err)
	}
	n, err := s.Get("A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
}
