// Package ledger implements the account-ledger state machine (C5): balance,
// nonce, and stake derivation from an append-only transaction log, PoS
// validator selection, and block production/admission.
package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pos-ledger/node/internal/crypto"
	"github.com/pos-ledger/node/pkg/helpers"
)

// Sentinel pseudo-addresses; these never correspond to a real keypair.
const (
	AddressStake   = "STAKE"
	AddressUnstake = "UNSTAKE"
	GenesisMarker  = "GENESIS"
)

// MinimumStake is the smallest net stake that counts toward the active
// validator set.
var MinimumStake = helpers.StakeFromInt64(10)

// Tx is an immutable signed transaction.
type Tx struct {
	Hash      string          `json:"hash"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    helpers.Decimal `json:"amount"`
	Nonce     uint64          `json:"nonce"`
	Timestamp uint64          `json:"timestamp"`
	Signature string          `json:"signature"`
	Block     *uint64         `json:"block,omitempty"`
}

// txWire is the JSON-on-the-wire shape; helpers.Decimal has only
// unexported fields and no JSON methods of its own, so Tx implements
// MarshalJSON/UnmarshalJSON explicitly, carrying the amount as its
// String() form to preserve it verbatim.
type txWire struct {
	Hash      string  `json:"hash"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Amount    string  `json:"amount"`
	Nonce     uint64  `json:"nonce"`
	Timestamp uint64  `json:"timestamp"`
	Signature string  `json:"signature"`
	Block     *uint64 `json:"block,omitempty"`
}

// MarshalJSON renders Tx with amount as its original decimal string.
func (t Tx) MarshalJSON() ([]byte, error) {
	return json.Marshal(txWire{
		Hash:      t.Hash,
		From:      t.From,
		To:        t.To,
		Amount:    t.Amount.String(),
		Nonce:     t.Nonce,
		Timestamp: t.Timestamp,
		Signature: t.Signature,
		Block:     t.Block,
	})
}

// UnmarshalJSON parses Tx, preserving the amount string exactly as read.
func (t *Tx) UnmarshalJSON(data []byte) error {
	var w txWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	amount, err := helpers.ParseDecimal(w.Amount)
	if err != nil {
		return fmt.Errorf("tx amount: %w", err)
	}
	t.Hash = w.Hash
	t.From = w.From
	t.To = w.To
	t.Amount = amount
	t.Nonce = w.Nonce
	t.Timestamp = w.Timestamp
	t.Signature = w.Signature
	t.Block = w.Block
	return nil
}

// ComputeHash returns hex SHA-256 of (from || to || amount || nonce_be ||
// timestamp_be), the canonical Tx hash.
func (t Tx) ComputeHash() string {
	var buf []byte
	buf = append(buf, []byte(t.From)...)
	buf = append(buf, []byte(t.To)...)
	buf = append(buf, []byte(t.Amount.String())...)
	buf = binary.BigEndian.AppendUint64(buf, t.Nonce)
	buf = binary.BigEndian.AppendUint64(buf, t.Timestamp)
	return crypto.SHA256Hex(buf)
}

// IsGenesis reports whether this is a genesis transaction (bypasses
// signature and nonce-gap checks).
func (t Tx) IsGenesis() bool {
	return t.From == GenesisMarker
}

// Valid reports whether the hash matches recomputation and, for
// non-genesis transactions, whether the signature verifies.
func (t Tx) Valid() bool {
	if t.ComputeHash() != t.Hash {
		return false
	}
	if t.IsGenesis() {
		return t.Signature == GenesisMarker
	}
	sigBytes, err := hex.DecodeString(t.Signature)
	if err != nil {
		return false
	}
	hashBytes, err := hex.DecodeString(t.Hash)
	if err != nil {
		return false
	}
	return crypto.Verify(t.From, hashBytes, sigBytes)
}

// Equal compares two Tx values across every field, including Block — this
// is intentionally a different notion of sameness than Less (§3 of the
// originating spec observes the divergence explicitly).
func (t Tx) Equal(o Tx) bool {
	if t.Hash != o.Hash || t.From != o.From || t.To != o.To || t.Nonce != o.Nonce ||
		t.Timestamp != o.Timestamp || t.Signature != o.Signature {
		return false
	}
	if t.Amount.Cmp(o.Amount) != 0 {
		return false
	}
	if (t.Block == nil) != (o.Block == nil) {
		return false
	}
	if t.Block != nil && *t.Block != *o.Block {
		return false
	}
	return true
}

// Less orders Tx by (timestamp, hash) ascending. This is a total order
// used for set iteration, never for admission.
func (t Tx) Less(o Tx) bool {
	if t.Timestamp != o.Timestamp {
		return t.Timestamp < o.Timestamp
	}
	return t.Hash < o.Hash
}

// SortTxs sorts a slice of Tx in place by (timestamp, hash) ascending.
func SortTxs(txs []Tx) {
	sort.Slice(txs, func(i, j int) bool { return txs[i].Less(txs[j]) })
}

// Block is a produced or admitted block.
type Block struct {
	Idx        uint64  `json:"idx"`
	Timestamp  uint64  `json:"timestamp"`
	Validator  string  `json:"validator"`
	ParentHash string  `json:"parent_hash"`
	MerkleRoot string  `json:"merkle_root"`
	Txs        []Tx    `json:"txs,omitempty"`
	Signature  string  `json:"signature"`
}

// ComputeHash returns hex SHA-256 of (idx_be || timestamp_be ||
// validator_utf8 || parent_hash_utf8 || merkle_root_utf8) — over the
// hex-encoded string bytes of validator/parent_hash/merkle_root, not
// their raw-byte preimages. This is normative for cross-implementation
// compatibility.
func (b Block) ComputeHash() string {
	var buf []byte
	buf = binary.BigEndian.AppendUint64(buf, b.Idx)
	buf = binary.BigEndian.AppendUint64(buf, b.Timestamp)
	buf = append(buf, []byte(b.Validator)...)
	buf = append(buf, []byte(b.ParentHash)...)
	buf = append(buf, []byte(b.MerkleRoot)...)
	return crypto.SHA256Hex(buf)
}

// IsGenesis reports whether this is the genesis block.
func (b Block) IsGenesis() bool {
	return b.Idx == 0
}

// WithoutTxs returns a copy of b with Txs stripped, the form BlockStore
// persists (transactions live in TxStore, joined back in by index).
func (b Block) WithoutTxs() Block {
	b.Txs = nil
	return b
}

// NewGenesisBlock builds the genesis block from the genesis tx list: a
// zero-validator, zero-parent-hash block carrying the literal "GENESIS"
// signature, timestamped at the first tx's timestamp.
func NewGenesisBlock(genesisTxs []Tx) Block {
	var ts uint64
	if len(genesisTxs) > 0 {
		ts = genesisTxs[0].Timestamp
	}
	leaves := make([][]byte, len(genesisTxs))
	for i, t := range genesisTxs {
		h, _ := hex.DecodeString(t.Hash)
		leaves[i] = h
	}
	return Block{
		Idx:        0,
		Timestamp:  ts,
		Validator:  crypto.ZeroAddressHex,
		ParentHash: crypto.ZeroHashHex,
		MerkleRoot: crypto.MerkleRootHex(leaves),
		Txs:        genesisTxs,
		Signature:  GenesisMarker,
	}
}

// Stake is a (wallet, net stake) pair; only entries with stake >=
// MinimumStake are part of the active validator set.
type Stake struct {
	Wallet string
	Amount helpers.StakeAmount
}

// Hash returns SHA-256(wallet_utf8 || stake_decimal_utf8), the leaf used
// to build the stake-set Merkle root in proof_of_stake.
func (s Stake) Hash() [32]byte {
	buf := append([]byte(s.Wallet), []byte(s.Amount.String())...)
	return crypto.SHA256(buf)
}
