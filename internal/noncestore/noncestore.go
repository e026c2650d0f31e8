// Package noncestore implements NonceStore (C4): the last-used nonce per
// wallet address, on top of the shared KeyValueStore.
package noncestore

import (
	"fmt"
	"strconv"

	"github.com/pos-ledger/node/internal/kvstore"
)

// Store is the nonce. namespace over a KeyValueStore.
type Store struct {
	kv *kvstore.Store
}

// New wraps kv with the NonceStore namespace.
func New(kv *kvstore.Store) *Store {
	return &Store{kv: kv}
}

func key(address string) []byte { return []byte("nonce." + address) }

// Get returns the last-used nonce for address, or 0 if address has never
// submitted a transaction.
func (s *Store) Get(address string) (uint64, error) {
	blob, ok, err := s.kv.Get(key(address))
	if err != nil {
		return 0, fmt.Errorf("read nonce: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(string(blob), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse nonce: %w", err)
	}
	return n, nil
}

// Save unconditionally overwrites the nonce stored for address.
func (s *Store) Save(address string, nonce uint64) error {
	if err := s.kv.Put(key(address), []byte(strconv.FormatUint(nonce, 10))); err != nil {
		return fmt.Errorf("save nonce: %w", err)
	}
	return nil
}
