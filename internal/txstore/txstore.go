// Package txstore implements TxStore (C2): transactions indexed by hash,
// by participant wallet, and by block index (including the "pending" set),
// on top of the shared KeyValueStore.
package txstore

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pos-ledger/node/internal/kvstore"
	"github.com/pos-ledger/node/internal/ledger"
)

const pendingKey = "tx.empty"

// Store is the tx. namespace over a KeyValueStore.
type Store struct {
	kv *kvstore.Store
}

// New wraps kv with the TxStore namespace.
func New(kv *kvstore.Store) *Store {
	return &Store{kv: kv}
}

func hashKey(hash string) []byte   { return []byte("tx." + hash) }
func indexKey(key string) []byte   { return []byte("tx." + key) }

// Save persists tx, adds its hash to the sender and recipient index sets,
// and adds it to either the pending set or its block's set.
func (s *Store) Save(tx ledger.Tx) error {
	blob, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal tx: %w", err)
	}
	if err := s.kv.Put(hashKey(tx.Hash), blob); err != nil {
		return fmt.Errorf("save tx: %w", err)
	}

	if err := s.addToSet(tx.From, tx.Hash); err != nil {
		return err
	}
	if err := s.addToSet(tx.To, tx.Hash); err != nil {
		return err
	}

	if tx.Block == nil {
		return s.addToSet(pendingSuffix(), tx.Hash)
	}
	return s.addToSet(strconv.FormatUint(*tx.Block, 10), tx.Hash)
}

// pendingSuffix returns the index-key suffix for the pending set; kept as
// a function so the "tx.empty" sentinel name only appears once.
func pendingSuffix() string { return "empty" }

func (s *Store) addToSet(suffix, hash string) error {
	set, err := s.readSet(suffix)
	if err != nil {
		return err
	}
	for _, h := range set {
		if h == hash {
			return nil // idempotent: already present
		}
	}
	set = append(set, hash)
	return s.writeSet(suffix, set)
}

func (s *Store) readSet(suffix string) ([]string, error) {
	blob, ok, err := s.kv.Get(indexKey(suffix))
	if err != nil {
		return nil, fmt.Errorf("read index set %q: %w", suffix, err)
	}
	if !ok {
		return nil, nil
	}
	var set []string
	if err := json.Unmarshal(blob, &set); err != nil {
		return nil, fmt.Errorf("unmarshal index set %q: %w", suffix, err)
	}
	return set, nil
}

func (s *Store) writeSet(suffix string, set []string) error {
	blob, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal index set %q: %w", suffix, err)
	}
	if err := s.kv.Put(indexKey(suffix), blob); err != nil {
		return fmt.Errorf("write index set %q: %w", suffix, err)
	}
	return nil
}

// FindByHash returns the Tx stored under hash, or ok=false if absent.
func (s *Store) FindByHash(hash string) (ledger.Tx, bool, error) {
	blob, ok, err := s.kv.Get(hashKey(hash))
	if err != nil {
		return ledger.Tx{}, false, fmt.Errorf("find by hash: %w", err)
	}
	if !ok {
		return ledger.Tx{}, false, nil
	}
	var tx ledger.Tx
	if err := json.Unmarshal(blob, &tx); err != nil {
		return ledger.Tx{}, false, fmt.Errorf("unmarshal tx: %w", err)
	}
	return tx, true, nil
}

// FindWalletTxs returns every Tx involving address, ordered by
// (timestamp, hash) ascending.
func (s *Store) FindWalletTxs(address string) ([]ledger.Tx, error) {
	hashes, err := s.readSet(address)
	if err != nil {
		return nil, err
	}
	txs := make([]ledger.Tx, 0, len(hashes))
	for _, h := range hashes {
		tx, ok, err := s.FindByHash(h)
		if err != nil {
			return nil, err
		}
		if ok {
			txs = append(txs, tx)
		}
	}
	ledger.SortTxs(txs)
	return txs, nil
}

// FindPending returns every tx with no block assigned, in no particular
// order.
func (s *Store) FindPending() ([]ledger.Tx, error) {
	return s.findBySetSuffix(pendingSuffix())
}

// FindByBlockIdx returns every tx assigned to block idx.
func (s *Store) FindByBlockIdx(idx uint64) ([]ledger.Tx, error) {
	return s.findBySetSuffix(strconv.FormatUint(idx, 10))
}

func (s *Store) findBySetSuffix(suffix string) ([]ledger.Tx, error) {
	hashes, err := s.readSet(suffix)
	if err != nil {
		return nil, err
	}
	txs := make([]ledger.Tx, 0, len(hashes))
	for _, h := range hashes {
		tx, ok, err := s.FindByHash(h)
		if err != nil {
			return nil, err
		}
		if ok {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

// UpdatePending assigns idx as the block index of every tx in txs:
// rewrites each tx.<hash> with Block set, removes each hash from the
// pending set, and adds each to tx.<idx>. The pending set and tx.<idx>
// set are rewritten as whole-set values.
func (s *Store) UpdatePending(txs []ledger.Tx, idx uint64) error {
	pending, err := s.readSet(pendingSuffix())
	if err != nil {
		return err
	}
	moving := make(map[string]bool, len(txs))
	for _, t := range txs {
		moving[t.Hash] = true
	}

	remaining := pending[:0:0]
	for _, h := range pending {
		if !moving[h] {
			remaining = append(remaining, h)
		}
	}
	if err := s.writeSet(pendingSuffix(), remaining); err != nil {
		return err
	}

	blockSuffix := strconv.FormatUint(idx, 10)
	blockSet, err := s.readSet(blockSuffix)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(blockSet))
	for _, h := range blockSet {
		present[h] = true
	}

	for _, t := range txs {
		updated := t
		blockIdx := idx
		updated.Block = &blockIdx
		blob, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("marshal tx: %w", err)
		}
		if err := s.kv.Put(hashKey(updated.Hash), blob); err != nil {
			return fmt.Errorf("rewrite tx: %w", err)
		}
		if !present[updated.Hash] {
			blockSet = append(blockSet, updated.Hash)
			present[updated.Hash] = true
		}
	}
	return s.writeSet(blockSuffix, blockSet)
}
