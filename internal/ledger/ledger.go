package ledger

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/pos-ledger/node/internal/crypto"
	"github.com/pos-ledger/node/pkg/helpers"
)

// BlockStore is the subset of blockstore.Store the ledger depends on.
type BlockStore interface {
	Save(b Block) error
	FindByIdx(idx uint64) (Block, bool, error)
	FindByHash(hash string) (Block, bool, error)
	FindLatest() (Block, bool, error)
}

// TxStore is the subset of txstore.Store the ledger depends on.
type TxStore interface {
	Save(tx Tx) error
	FindByHash(hash string) (Tx, bool, error)
	FindWalletTxs(address string) ([]Tx, error)
	FindPending() ([]Tx, error)
	FindByBlockIdx(idx uint64) ([]Tx, error)
	UpdatePending(txs []Tx, idx uint64) error
}

// NonceStore is the subset of noncestore.Store the ledger depends on.
type NonceStore interface {
	Get(address string) (uint64, error)
	Save(address string, nonce uint64) error
}

// Ledger is the account-ledger state machine (C5): the consensus core
// wiring TxStore, BlockStore, and NonceStore together behind the
// precondition checks and validator-selection rule.
type Ledger struct {
	key     *crypto.PrivateKey
	address string

	txs    TxStore
	blocks BlockStore
	nonces NonceStore

	// mu serializes every ledger operation. The node's event loop calls in
	// from gossip handlers, request handlers, and the slot timer
	// concurrently; §5's single-writer discipline assumed a cooperative
	// scheduler, which Go's goroutines are not, so this mutex stands in
	// for it.
	mu sync.Mutex
}

// New constructs a Ledger bound to key, bootstrapping the genesis block
// from genesisPath if none has been persisted yet.
func New(key *crypto.PrivateKey, genesisPath string, txs TxStore, blocks BlockStore, nonces NonceStore) (*Ledger, error) {
	l := &Ledger{
		key:     key,
		address: key.Address(),
		txs:     txs,
		blocks:  blocks,
		nonces:  nonces,
	}
	if err := l.loadGenesis(genesisPath); err != nil {
		return nil, err
	}
	return l, nil
}

// Address returns the local validator's address.
func (l *Ledger) Address() string { return l.address }

func (l *Ledger) loadGenesis(genesisPath string) error {
	_, ok, err := l.blocks.FindByIdx(0)
	if err != nil {
		return storageErr(err)
	}
	if ok {
		return nil
	}

	raw, err := os.ReadFile(genesisPath)
	if err != nil {
		return &Error{Category: CategoryFatal, Message: "read genesis manifest", Err: err}
	}
	var genesisTxs []Tx
	if err := json.Unmarshal(raw, &genesisTxs); err != nil {
		return &Error{Category: CategoryFatal, Message: "parse genesis manifest", Err: err}
	}

	for _, tx := range genesisTxs {
		genesisIdx := uint64(0)
		tx.Block = &genesisIdx
		if err := l.txs.Save(tx); err != nil {
			return storageErr(err)
		}
		if err := l.nonces.Save(tx.From, tx.Nonce); err != nil {
			return storageErr(err)
		}
	}
	genesis := NewGenesisBlock(genesisTxs)
	if err := l.blocks.Save(genesis); err != nil {
		return storageErr(err)
	}
	return nil
}

// AddTx admits tx into the pending set after checking, in order: nonce
// continuity, signature validity, and sufficient stake or balance.
func (l *Ledger) AddTx(tx Tx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	nonce, err := l.nonces.Get(tx.From)
	if err != nil {
		return storageErr(err)
	}
	if tx.Nonce != nonce+1 {
		return invalidInput("Invalid nonce value, expected: %d", nonce+1)
	}
	if !tx.Valid() {
		return invalidInput("Invalid transaction signature")
	}

	if tx.To == AddressUnstake {
		stakeAmount, convErr := helpers.StakeFromDecimal(tx.Amount)
		if convErr != nil {
			return invalidInput("The value must be an integer")
		}
		current, err := l.walletStake(tx.From)
		if err != nil {
			return storageErr(err)
		}
		if current.Cmp(stakeAmount) < 0 {
			return invalidInput("Not enough stake")
		}
	} else {
		balance, err := l.balance(tx.From)
		if err != nil {
			return storageErr(err)
		}
		if balance.Cmp(tx.Amount) < 0 {
			return invalidInput("Not enough balance, current: %s", balance.String())
		}
	}

	if err := l.txs.Save(tx); err != nil {
		return storageErr(err)
	}
	if err := l.nonces.Save(tx.From, tx.Nonce); err != nil {
		return storageErr(err)
	}
	return nil
}

// Balance sums credits (tx.to == w or tx.to == UNSTAKE) minus debits over
// every tx touching w, pending or confirmed.
func (l *Ledger) Balance(w string) (helpers.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(w)
}

func (l *Ledger) balance(w string) (helpers.Decimal, error) {
	txs, err := l.txs.FindWalletTxs(w)
	if err != nil {
		return helpers.Decimal{}, storageErr(err)
	}
	balance := helpers.MustParseDecimal("0")
	for _, tx := range txs {
		if tx.To == w || tx.To == AddressUnstake {
			balance = balance.Add(tx.Amount)
		} else {
			balance = balance.Sub(tx.Amount)
		}
	}
	return balance, nil
}

// walletStake returns w's current net stake, without dropping it for
// falling below MinimumStake (callers compare directly against a
// requested unstake amount, not against the active validator set).
func (l *Ledger) walletStake(w string) (helpers.StakeAmount, error) {
	txs, err := l.txs.FindWalletTxs(w)
	if err != nil {
		return helpers.StakeAmount{}, err
	}
	stake := helpers.ZeroStake()
	for _, tx := range txs {
		if tx.From != w {
			continue
		}
		amount, convErr := helpers.StakeFromDecimal(tx.Amount)
		if convErr != nil {
			continue
		}
		switch tx.To {
		case AddressStake:
			stake = stake.Add(amount)
		case AddressUnstake:
			stake = stake.Sub(amount)
		}
	}
	return stake, nil
}

// Stakes aggregates net stake per wallet from every tx to STAKE and
// UNSTAKE, dropping zero and sub-minimum wallets, ordered ascending by
// wallet address.
func (l *Ledger) Stakes() ([]Stake, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stakes()
}

func (l *Ledger) stakes() ([]Stake, error) {
	staked, err := l.txs.FindWalletTxs(AddressStake)
	if err != nil {
		return nil, storageErr(err)
	}
	unstaked, err := l.txs.FindWalletTxs(AddressUnstake)
	if err != nil {
		return nil, storageErr(err)
	}

	byWallet := make(map[string]helpers.StakeAmount)
	order := make([]string, 0)
	add := func(wallet string, delta helpers.StakeAmount, sign int) {
		cur, ok := byWallet[wallet]
		if !ok {
			cur = helpers.ZeroStake()
			order = append(order, wallet)
		}
		if sign >= 0 {
			byWallet[wallet] = cur.Add(delta)
		} else {
			byWallet[wallet] = cur.Sub(delta)
		}
	}
	for _, tx := range staked {
		amount, convErr := helpers.StakeFromDecimal(tx.Amount)
		if convErr != nil {
			continue
		}
		add(tx.From, amount, 1)
	}
	for _, tx := range unstaked {
		amount, convErr := helpers.StakeFromDecimal(tx.Amount)
		if convErr != nil {
			continue
		}
		add(tx.From, amount, -1)
	}

	result := make([]Stake, 0, len(order))
	for _, wallet := range order {
		amount := byWallet[wallet]
		if amount.Sign() == 0 {
			continue
		}
		if amount.Cmp(MinimumStake) < 0 {
			continue
		}
		result = append(result, Stake{Wallet: wallet, Amount: amount})
	}
	sortStakes(result)
	return result, nil
}

func sortStakes(stakes []Stake) {
	for i := 1; i < len(stakes); i++ {
		for j := i; j > 0 && stakes[j].Wallet < stakes[j-1].Wallet; j-- {
			stakes[j], stakes[j-1] = stakes[j-1], stakes[j]
		}
	}
}

// ProofOfStake runs one slot of validator selection against the current
// chain tip. If the local validator wins the slot it produces and
// returns the new block; otherwise it returns an error so the caller
// treats the slot as passed.
func (l *Ledger) ProofOfStake() (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	latest, ok, err := l.blocks.FindLatest()
	if err != nil {
		return nil, storageErr(err)
	}
	if !ok {
		return nil, notFound("no blocks persisted yet")
	}

	stakes, err := l.stakes()
	if err != nil {
		return nil, err
	}

	winner, err := selectValidator(latest, stakes)
	if err != nil {
		return nil, err
	}
	if winner != l.address {
		return nil, notFound("another validator was selected for this slot")
	}
	return l.createBlock()
}

// selectValidator implements the stake-weighted, chain-tip-seeded
// election rule: the seed is SHA-256(block_hash || stake_merkle_root),
// reduced to [0, total) as a big-endian integer mod total, and walked
// against stakes (already wallet-ascending) by running sum.
func selectValidator(latest Block, stakes []Stake) (string, error) {
	total := helpers.ZeroStake()
	leaves := make([][]byte, len(stakes))
	for i, s := range stakes {
		total = total.Add(s.Amount)
		h := s.Hash()
		leaves[i] = h[:]
	}
	if total.Sign() <= 0 {
		return "", notFound("no active validator set")
	}

	merkleRoot := crypto.MerkleRoot(leaves)
	hashBytes, err := hex.DecodeString(latest.ComputeHash())
	if err != nil {
		return "", storageErr(err)
	}
	seedInput := append(append([]byte{}, hashBytes...), merkleRoot[:]...)
	seed := crypto.SHA256(seedInput)

	idx := new(big.Int).Mod(new(big.Int).SetBytes(seed[:]), total.BigInt())

	running := new(big.Int)
	for _, s := range stakes {
		running = new(big.Int).Add(running, s.Amount.BigInt())
		if running.Cmp(idx) > 0 {
			return s.Wallet, nil
		}
	}
	return "", nil
}

// CreateBlock assembles a new block over the pending tx set, signs it
// with the local validator key, and reassigns the pending txs to the new
// block index before persisting the block itself.
func (l *Ledger) CreateBlock() (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createBlock()
}

func (l *Ledger) createBlock() (*Block, error) {
	parent, ok, err := l.blocks.FindLatest()
	if err != nil {
		return nil, storageErr(err)
	}
	if !ok {
		return nil, notFound("no parent block to build on")
	}
	pending, err := l.txs.FindPending()
	if err != nil {
		return nil, storageErr(err)
	}
	SortTxs(pending)

	leaves := make([][]byte, len(pending))
	for i, tx := range pending {
		h, err := hex.DecodeString(tx.Hash)
		if err != nil {
			return nil, storageErr(err)
		}
		leaves[i] = h
	}

	block := Block{
		Idx:        parent.Idx + 1,
		Timestamp:  uint64(time.Now().Unix()),
		Validator:  l.address,
		ParentHash: parent.ComputeHash(),
		MerkleRoot: crypto.MerkleRootHex(leaves),
		Txs:        pending,
	}
	hashBytes, err := hex.DecodeString(block.ComputeHash())
	if err != nil {
		return nil, storageErr(err)
	}
	sig, err := l.key.Sign(hashBytes)
	if err != nil {
		return nil, &Error{Category: CategoryFatal, Message: "sign block", Err: err}
	}
	block.Signature = hex.EncodeToString(sig)

	if err := l.txs.UpdatePending(pending, block.Idx); err != nil {
		return nil, storageErr(err)
	}
	if err := l.blocks.Save(block); err != nil {
		return nil, storageErr(err)
	}
	return &block, nil
}

// AddBlock admits a block produced elsewhere: every tx it carries is
// saved with the block's index (idempotently) and added to that block's
// set, then the block itself (without txs) is persisted. A tx that was
// already in the local pending set is not removed from it.
//
// This performs no re-verification of validator election, signature, or
// parent linkage; a peer that gossips a malformed block will be
// admitted as-is.
func (l *Ledger) AddBlock(block Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, tx := range block.Txs {
		idx := block.Idx
		tx.Block = &idx
		if err := l.txs.Save(tx); err != nil {
			return storageErr(err)
		}
	}
	if err := l.blocks.Save(block.WithoutTxs()); err != nil {
		return storageErr(err)
	}
	return nil
}

// FindBlockByIdx returns the block at idx with its txs joined back in
// from TxStore.
func (l *Ledger) FindBlockByIdx(idx uint64) (Block, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	block, ok, err := l.blocks.FindByIdx(idx)
	if err != nil {
		return Block{}, false, storageErr(err)
	}
	if !ok {
		return Block{}, false, nil
	}
	txs, err := l.txs.FindByBlockIdx(idx)
	if err != nil {
		return Block{}, false, storageErr(err)
	}
	block.Txs = txs
	return block, true, nil
}

// Nonce returns the last-used nonce for address, 0 if it has never
// submitted a transaction.
func (l *Ledger) Nonce(address string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.nonces.Get(address)
	if err != nil {
		return 0, storageErr(err)
	}
	return n, nil
}
