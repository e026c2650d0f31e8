// Package blockstore implements BlockStore (C3): blocks indexed by index
// and by hash, with the latest index tracked separately, on top of the
// shared KeyValueStore.
package blockstore

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pos-ledger/node/internal/kvstore"
	"github.com/pos-ledger/node/internal/ledger"
)

const latestKey = "block.latest"

// Store is the block. namespace over a KeyValueStore.
type Store struct {
	kv *kvstore.Store
}

// New wraps kv with the BlockStore namespace.
func New(kv *kvstore.Store) *Store {
	return &Store{kv: kv}
}

func idxKey(idx uint64) []byte  { return []byte("block." + strconv.FormatUint(idx, 10)) }
func hashKey(hash string) []byte { return []byte("block." + hash) }

// Save persists block (with Txs stripped) under its index and hash, and
// advances block.latest if this index is the new maximum.
func (s *Store) Save(b ledger.Block) error {
	stripped := b.WithoutTxs()
	blob, err := json.Marshal(stripped)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	if err := s.kv.Put(idxKey(b.Idx), blob); err != nil {
		return fmt.Errorf("save block by idx: %w", err)
	}

	hash := b.ComputeHash()
	if err := s.kv.Put(hashKey(hash), []byte(strconv.FormatUint(b.Idx, 10))); err != nil {
		return fmt.Errorf("save block hash index: %w", err)
	}

	latest, ok, err := s.latestIdx()
	if err != nil {
		return err
	}
	if !ok || b.Idx > latest {
		if err := s.kv.Put([]byte(latestKey), []byte(strconv.FormatUint(b.Idx, 10))); err != nil {
			return fmt.Errorf("save latest index: %w", err)
		}
	}
	return nil
}

func (s *Store) latestIdx() (uint64, bool, error) {
	blob, ok, err := s.kv.Get([]byte(latestKey))
	if err != nil {
		return 0, false, fmt.Errorf("read latest index: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	idx, err := strconv.ParseUint(string(blob), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse latest index: %w", err)
	}
	return idx, true, nil
}

// FindByIdx returns the block (without Txs) stored at idx.
func (s *Store) FindByIdx(idx uint64) (ledger.Block, bool, error) {
	blob, ok, err := s.kv.Get(idxKey(idx))
	if err != nil {
		return ledger.Block{}, false, fmt.Errorf("find by idx: %w", err)
	}
	if !ok {
		return ledger.Block{}, false, nil
	}
	var b ledger.Block
	if err := json.Unmarshal(blob, &b); err != nil {
		return ledger.Block{}, false, fmt.Errorf("unmarshal block: %w", err)
	}
	return b, true, nil
}

// FindByHash returns the block (without Txs) whose computed hash is hash.
func (s *Store) FindByHash(hash string) (ledger.Block, bool, error) {
	blob, ok, err := s.kv.Get(hashKey(hash))
	if err != nil {
		return ledger.Block{}, false, fmt.Errorf("find by hash: %w", err)
	}
	if !ok {
		return ledger.Block{}, false, nil
	}
	idx, err := strconv.ParseUint(string(blob), 10, 64)
	if err != nil {
		return ledger.Block{}, false, fmt.Errorf("parse idx for hash: %w", err)
	}
	return s.FindByIdx(idx)
}

// FindLatest returns the block at the highest persisted index. Fails
// (ok=false) if no block has been saved yet.
func (s *Store) FindLatest() (ledger.Block, bool, error) {
	idx, ok, err := s.latestIdx()
	if err != nil || !ok {
		return ledger.Block{}, false, err
	}
	return s.FindByIdx(idx)
}
