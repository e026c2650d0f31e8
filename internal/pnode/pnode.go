// Package pnode implements Node (C7): the slot scheduler that drives
// proof-of-stake block production, the dispatch glue wiring overlay
// events into the ledger, and the one-shot startup catch-up sync.
package pnode

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/pos-ledger/node/internal/ledger"
	"github.com/pos-ledger/node/internal/overlay"
	"github.com/pos-ledger/node/internal/statusapi"
	"github.com/pos-ledger/node/pkg/logging"
)

// SlotInterval is the cadence at which the node attempts proof-of-stake
// block production.
const SlotInterval = 12 * time.Second

// Overlay is the subset of *overlay.Overlay the node depends on, so
// tests can substitute a fake.
type Overlay interface {
	SetHandlers(overlay.Handlers)
	Start() error
	Stop() error
	Host() host.Host
	PeerID() peer.ID
	PublishTx(tx ledger.Tx) error
	PublishBlock(block ledger.Block) error
	RequestBlock(ctx context.Context, p peer.ID, idx uint64) (*ledger.Block, bool, error)
}

// Ledger is the subset of *ledger.Ledger the node depends on.
type Ledger interface {
	Address() string
	Nonce(address string) (uint64, error)
	AddTx(tx ledger.Tx) error
	FindBlockByIdx(idx uint64) (ledger.Block, bool, error)
	AddBlock(block ledger.Block) error
	ProofOfStake() (*ledger.Block, error)
}

// Node ties the ledger (C5) to the gossip overlay (C6): it answers peer
// requests, applies gossip it receives, produces blocks on its own
// elected slots, and catches up from a bootstrap peer at startup.
type Node struct {
	ledger  Ledger
	overlay Overlay
	log     *logging.Logger

	bootstrapPeers []peer.ID

	status *statusapi.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SetStatusPublisher attaches an optional websocket status feed; every
// produced or admitted block is published to it. Without one attached,
// publishing is a no-op.
func (n *Node) SetStatusPublisher(s *statusapi.Server) {
	n.status = s
}

func (n *Node) publishStatus(idx uint64, validator string) {
	if n.status == nil {
		return
	}
	n.status.Publish(statusapi.Event{Height: idx, Validator: validator})
}

// New builds a Node wiring ov's handlers to l. bootstrapPeers lists the
// peers to attempt a startup catch-up sync against, in order; the first
// one that answers is used.
func New(ctx context.Context, l Ledger, ov Overlay, bootstrapPeers []peer.ID) *Node {
	ctx, cancel := context.WithCancel(ctx)
	n := &Node{
		ledger:         l,
		overlay:        ov,
		log:            logging.GetDefault().Component("node"),
		bootstrapPeers: bootstrapPeers,
		ctx:            ctx,
		cancel:         cancel,
	}
	ov.SetHandlers(overlay.Handlers{
		OnNonceRequest: n.onNonceRequest,
		OnTxRequest:    n.onTxRequest,
		OnBlockRequest: n.onBlockRequest,
		OnTxMessage:    n.onTxMessage,
		OnBlockMessage: n.onBlockMessage,
	})
	return n
}

// Start runs the one-shot catch-up sync, then starts the overlay and the
// slot scheduler.
func (n *Node) Start() error {
	n.catchUp()

	if err := n.overlay.Start(); err != nil {
		return err
	}

	n.wg.Add(1)
	go n.runSlotScheduler()

	return nil
}

// Stop cancels the slot scheduler and tears down the overlay.
func (n *Node) Stop() error {
	n.cancel()
	n.wg.Wait()
	return n.overlay.Stop()
}

func (n *Node) runSlotScheduler() {
	defer n.wg.Done()
	ticker := time.NewTicker(SlotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.tryProduceBlock()
		}
	}
}

func (n *Node) tryProduceBlock() {
	block, err := n.ledger.ProofOfStake()
	if err != nil {
		n.log.Debug("not elected this slot", "error", err)
		return
	}
	if err := n.overlay.PublishBlock(*block); err != nil {
		n.log.Warn("failed to broadcast produced block", "idx", block.Idx, "error", err)
	}
	n.publishStatus(block.Idx, block.Validator)
}

// onNonceRequest answers a peer's nonce lookup.
func (n *Node) onNonceRequest(address string) uint64 {
	nonce, err := n.ledger.Nonce(address)
	if err != nil {
		n.log.Warn("nonce lookup failed", "address", address, "error", err)
		return 0
	}
	return nonce
}

// onTxRequest admits a submitted tx and re-broadcasts it on success; the
// overlay itself handles the re-broadcast once this returns nil.
func (n *Node) onTxRequest(tx ledger.Tx) error {
	return n.ledger.AddTx(tx)
}

// onBlockRequest answers a peer's block-by-index lookup.
func (n *Node) onBlockRequest(idx uint64) (*ledger.Block, bool) {
	block, ok, err := n.ledger.FindBlockByIdx(idx)
	if err != nil {
		n.log.Warn("block lookup failed", "idx", idx, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &block, true
}

// onTxMessage admits a gossiped tx; admission failures are logged, not
// propagated, since there is no requester to reply to.
func (n *Node) onTxMessage(tx ledger.Tx) {
	if err := n.ledger.AddTx(tx); err != nil {
		n.log.Debug("rejected gossiped tx", "hash", tx.Hash, "error", err)
	}
}

// onBlockMessage admits a gossiped block; admission failures are logged.
func (n *Node) onBlockMessage(block ledger.Block) {
	if err := n.ledger.AddBlock(block); err != nil {
		n.log.Debug("rejected gossiped block", "idx", block.Idx, "error", err)
		return
	}
	n.publishStatus(block.Idx, block.Validator)
}

// errNoSuchBlock is returned by requestBlock when the peer reports no
// block at the requested index; catchUp treats this as "fully synced".
var errNoSuchBlock = errors.New("no such block")

// catchUp dials the first reachable bootstrap peer and repeatedly
// requests the next local block index until the peer runs out of
// blocks to offer.
func (n *Node) catchUp() {
	if len(n.bootstrapPeers) == 0 {
		return
	}

	var peerID peer.ID
	found := false
	for _, p := range n.bootstrapPeers {
		ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
		err := n.overlay.Host().Connect(ctx, peer.AddrInfo{ID: p})
		cancel()
		if err == nil {
			peerID = p
			found = true
			break
		}
		n.log.Warn("failed to reach bootstrap peer for catch-up sync", "peer", p.String(), "error", err)
	}
	if !found {
		n.log.Warn("no bootstrap peer reachable, starting from local state")
		return
	}

	idx := n.nextLocalIdx()
	for {
		block, err := n.requestBlock(peerID, idx)
		if err != nil {
			if errors.Is(err, errNoSuchBlock) {
				n.log.Info("catch-up sync complete", "synced_through", idx-1)
				return
			}
			n.log.Warn("catch-up sync request failed", "idx", idx, "error", err)
			return
		}
		if err := n.ledger.AddBlock(*block); err != nil {
			n.log.Warn("catch-up sync failed to admit block", "idx", idx, "error", err)
			return
		}
		idx++
	}
}

func (n *Node) nextLocalIdx() uint64 {
	idx := uint64(0)
	for {
		_, ok, err := n.ledger.FindBlockByIdx(idx)
		if err != nil || !ok {
			return idx
		}
		idx++
	}
}

func (n *Node) requestBlock(p peer.ID, idx uint64) (*ledger.Block, error) {
	ctx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
	defer cancel()
	block, ok, err := n.overlay.RequestBlock(ctx, p, idx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoSuchBlock
	}
	return block, nil
}
