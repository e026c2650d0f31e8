// Package overlay implements GossipOverlay (C6): topic-based
// publish/subscribe over gossipsub plus three unary request/response
// protocols (nonce, tx, block), all over a libp2p host.
package overlay

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"

	"github.com/google/uuid"

	"github.com/pos-ledger/node/internal/ledger"
	"github.com/pos-ledger/node/pkg/logging"
)

// Protocol IDs for the three request/response endpoints.
const (
	NonceProtocol = protocol.ID("/nonce/0.0.1")
	TxProtocol    = protocol.ID("/tx/0.0.1")
	BlockProtocol = protocol.ID("/block/0.0.1")
)

// Topic names for the two gossipsub topics.
const (
	TxsTopic   = "txs"
	BlockTopic = "block"
)

const heartbeatInterval = 10 * time.Second
const requestTimeout = 30 * time.Second

func init() {
	pubsub.GossipSubHeartbeatInterval = heartbeatInterval
}

// NonceRequest asks for a wallet's last-accepted nonce. RequestID
// correlates the request with its response in logs; it plays no role in
// routing since each protocol stream carries exactly one request.
type NonceRequest struct {
	RequestID string `json:"request_id"`
	Address   string `json:"address"`
}

// NonceResponse carries the wallet's nonce.
type NonceResponse struct {
	Nonce uint64 `json:"nonce"`
}

// TxRequest wraps a tx submission with a correlation ID.
type TxRequest struct {
	RequestID string    `json:"request_id"`
	Tx        ledger.Tx `json:"tx"`
}

// TxResponse reports admission success (Error == nil) or failure.
type TxResponse struct {
	Error *string `json:"error"`
}

// BlockRequest asks for the block at a given index.
type BlockRequest struct {
	RequestID string `json:"request_id"`
	Idx       uint64 `json:"idx"`
}

// BlockResponse carries the requested block, or nil if absent.
type BlockResponse struct {
	Block *ledger.Block `json:"block"`
}

// Handlers are the callbacks the Node (C7) registers to answer overlay
// events. All are invoked synchronously from the overlay's own
// goroutines: callers must apply whatever serialization they need
// (the ledger does, via its own mutex).
type Handlers struct {
	OnNonceRequest func(address string) uint64
	OnTxRequest    func(tx ledger.Tx) error
	OnBlockRequest func(idx uint64) (*ledger.Block, bool)
	OnTxMessage    func(tx ledger.Tx)
	OnBlockMessage func(block ledger.Block)
}

// Config configures the overlay's transport and discovery.
type Config struct {
	ListenPort int
	Bootstrap  []string
	EnableMDNS bool
}

// Overlay is the libp2p-backed GossipOverlay (C6).
type Overlay struct {
	host   host.Host
	pubsub *pubsub.PubSub

	txTopic    *pubsub.Topic
	blockTopic *pubsub.Topic
	txSub      *pubsub.Subscription
	blockSub   *pubsub.Subscription

	mdnsService mdns.Service

	handlers Handlers
	mu       sync.RWMutex

	log *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the libp2p host, gossipsub router, and stream handlers.
// identityPath names a file holding the node's persistent Ed25519 libp2p
// identity key; one is generated and saved there on first run.
func New(ctx context.Context, identityPath string, cfg Config) (*Overlay, error) {
	ctx, cancel := context.WithCancel(ctx)

	identity, err := loadOrCreateIdentity(identityPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load libp2p identity: %w", err)
	}

	listenTCP, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("listen addr: %w", err)
	}
	listenQUIC, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", cfg.ListenPort))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("listen addr: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(identity),
		libp2p.ListenAddrs(listenTCP, listenQUIC),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithPeerExchange(true), pubsub.WithFloodPublish(true))
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	o := &Overlay{
		host:   h,
		pubsub: ps,
		log:    logging.GetDefault().Component("overlay"),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableMDNS {
		o.mdnsService = mdns.NewMdnsService(h, "pos-ledger", o)
		if err := o.mdnsService.Start(); err != nil {
			o.log.Warn("mDNS start failed", "error", err)
			o.mdnsService = nil
		}
	}

	for _, addr := range cfg.Bootstrap {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			o.log.Warn("invalid bootstrap address", "addr", addr, "error", err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			o.log.Warn("invalid bootstrap peer info", "addr", addr, "error", err)
			continue
		}
		go func(pi peer.AddrInfo) {
			dialCtx, dialCancel := context.WithTimeout(o.ctx, 30*time.Second)
			defer dialCancel()
			if err := h.Connect(dialCtx, pi); err != nil {
				o.log.Warn("failed to connect to bootstrap peer", "peer", shortID(pi.ID), "error", err)
			}
		}(*pi)
	}

	return o, nil
}

// HandlePeerFound implements mdns.Notifee.
func (o *Overlay) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == o.host.ID() {
		return
	}
	o.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)
	go func() {
		ctx, cancel := context.WithTimeout(o.ctx, 10*time.Second)
		defer cancel()
		if err := o.host.Connect(ctx, pi); err != nil {
			o.log.Debug("failed to connect to mDNS peer", "peer", shortID(pi.ID), "error", err)
		}
	}()
}

// SetHandlers registers the callbacks driving overlay events. Handlers
// are looked up per event, so events arriving before this call find no
// handler registered.
func (o *Overlay) SetHandlers(h Handlers) {
	o.mu.Lock()
	o.handlers = h
	o.mu.Unlock()
}

// Start subscribes to both gossip topics and registers the
// request/response stream handlers.
func (o *Overlay) Start() error {
	txTopic, err := o.pubsub.Join(TxsTopic)
	if err != nil {
		return fmt.Errorf("join %s topic: %w", TxsTopic, err)
	}
	blockTopic, err := o.pubsub.Join(BlockTopic)
	if err != nil {
		return fmt.Errorf("join %s topic: %w", BlockTopic, err)
	}
	o.txTopic = txTopic
	o.blockTopic = blockTopic

	o.txSub, err = txTopic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe %s topic: %w", TxsTopic, err)
	}
	o.blockSub, err = blockTopic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe %s topic: %w", BlockTopic, err)
	}

	go o.readTopic(o.txSub, o.dispatchTx)
	go o.readTopic(o.blockSub, o.dispatchBlock)

	o.host.SetStreamHandler(NonceProtocol, o.handleNonceStream)
	o.host.SetStreamHandler(TxProtocol, o.handleTxStream)
	o.host.SetStreamHandler(BlockProtocol, o.handleBlockStream)

	o.log.Info("overlay started", "peer_id", o.host.ID().String())
	return nil
}

// Stop tears down subscriptions, stream handlers, and the host.
func (o *Overlay) Stop() error {
	o.cancel()
	if o.txSub != nil {
		o.txSub.Cancel()
	}
	if o.blockSub != nil {
		o.blockSub.Cancel()
	}
	o.host.RemoveStreamHandler(NonceProtocol)
	o.host.RemoveStreamHandler(TxProtocol)
	o.host.RemoveStreamHandler(BlockProtocol)
	if o.mdnsService != nil {
		o.mdnsService.Close()
	}
	return o.host.Close()
}

// Host exposes the libp2p host, e.g. for the sync loop to dial peers.
func (o *Overlay) Host() host.Host { return o.host }

// PeerID returns the overlay's own peer ID.
func (o *Overlay) PeerID() peer.ID { return o.host.ID() }

// readTopic drains sub until the overlay's context is cancelled,
// invoking decode for each message.
func (o *Overlay) readTopic(sub *pubsub.Subscription, decode func([]byte)) {
	for {
		msg, err := sub.Next(o.ctx)
		if err != nil {
			return // context cancelled or subscription closed
		}
		if msg.ReceivedFrom == o.host.ID() {
			continue
		}
		decode(msg.Data)
	}
}

func (o *Overlay) dispatchTx(data []byte) {
	var tx ledger.Tx
	if err := decodeJSON(data, &tx); err != nil {
		o.log.Warn("dropping malformed tx gossip message", "error", err)
		return
	}
	o.mu.RLock()
	handler := o.handlers.OnTxMessage
	o.mu.RUnlock()
	if handler != nil {
		handler(tx)
	}
}

func (o *Overlay) dispatchBlock(data []byte) {
	var block ledger.Block
	if err := decodeJSON(data, &block); err != nil {
		o.log.Warn("dropping malformed block gossip message", "error", err)
		return
	}
	o.mu.RLock()
	handler := o.handlers.OnBlockMessage
	o.mu.RUnlock()
	if handler != nil {
		handler(block)
	}
}

// PublishTx broadcasts tx on the txs topic.
func (o *Overlay) PublishTx(tx ledger.Tx) error {
	return o.publish(o.txTopic, tx)
}

// PublishBlock broadcasts block on the block topic.
func (o *Overlay) PublishBlock(block ledger.Block) error {
	return o.publish(o.blockTopic, block)
}

func (o *Overlay) publish(topic *pubsub.Topic, v interface{}) error {
	blob, err := encodeJSON(v)
	if err != nil {
		return fmt.Errorf("marshal gossip payload: %w", err)
	}
	if err := topic.Publish(o.ctx, blob); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (o *Overlay) handleNonceStream(stream network.Stream) {
	defer stream.Close()
	var req NonceRequest
	if err := readJSON(stream, &req); err != nil {
		if err != io.EOF {
			o.log.Debug("nonce request decode failed", "error", err)
		}
		return
	}
	o.log.Debug("nonce request received", "request_id", req.RequestID, "address", req.Address)
	o.mu.RLock()
	handler := o.handlers.OnNonceRequest
	o.mu.RUnlock()
	var nonce uint64
	if handler != nil {
		nonce = handler(req.Address)
	}
	writeJSON(stream, NonceResponse{Nonce: nonce}, o.log)
}

func (o *Overlay) handleTxStream(stream network.Stream) {
	defer stream.Close()
	var req TxRequest
	if err := readJSON(stream, &req); err != nil {
		if err != io.EOF {
			o.log.Debug("tx request decode failed", "error", err)
		}
		return
	}
	tx := req.Tx
	o.log.Debug("tx request received", "request_id", req.RequestID, "hash", tx.Hash)
	o.mu.RLock()
	handler := o.handlers.OnTxRequest
	o.mu.RUnlock()

	var resp TxResponse
	if handler == nil {
		msg := "no tx handler registered"
		resp.Error = &msg
	} else if err := handler(tx); err != nil {
		msg := err.Error()
		resp.Error = &msg
	} else if o.txTopic != nil {
		if err := o.PublishTx(tx); err != nil {
			o.log.Warn("failed to re-broadcast admitted tx", "hash", tx.Hash, "error", err)
		}
	}
	writeJSON(stream, resp, o.log)
}

func (o *Overlay) handleBlockStream(stream network.Stream) {
	defer stream.Close()
	var req BlockRequest
	if err := readJSON(stream, &req); err != nil {
		if err != io.EOF {
			o.log.Debug("block request decode failed", "error", err)
		}
		return
	}
	o.log.Debug("block request received", "request_id", req.RequestID, "idx", req.Idx)
	o.mu.RLock()
	handler := o.handlers.OnBlockRequest
	o.mu.RUnlock()

	var resp BlockResponse
	if handler != nil {
		if block, ok := handler(req.Idx); ok {
			resp.Block = block
		}
	}
	writeJSON(stream, resp, o.log)
}

// RequestNonce asks peer p for address's nonce.
func (o *Overlay) RequestNonce(ctx context.Context, p peer.ID, address string) (uint64, error) {
	var resp NonceResponse
	req := NonceRequest{RequestID: uuid.NewString(), Address: address}
	if err := o.roundTrip(ctx, p, NonceProtocol, req, &resp); err != nil {
		return 0, err
	}
	return resp.Nonce, nil
}

// RequestTx submits tx to peer p for admission.
func (o *Overlay) RequestTx(ctx context.Context, p peer.ID, tx ledger.Tx) error {
	var resp TxResponse
	req := TxRequest{RequestID: uuid.NewString(), Tx: tx}
	if err := o.roundTrip(ctx, p, TxProtocol, req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%s", *resp.Error)
	}
	return nil
}

// RequestBlock asks peer p for the block at idx. ok is false if the peer
// has no such block.
func (o *Overlay) RequestBlock(ctx context.Context, p peer.ID, idx uint64) (*ledger.Block, bool, error) {
	var resp BlockResponse
	req := BlockRequest{RequestID: uuid.NewString(), Idx: idx}
	if err := o.roundTrip(ctx, p, BlockProtocol, req, &resp); err != nil {
		return nil, false, err
	}
	return resp.Block, resp.Block != nil, nil
}

func (o *Overlay) roundTrip(ctx context.Context, p peer.ID, proto protocol.ID, req, resp interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	stream, err := o.host.NewStream(ctx, p, proto)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	if err := writeJSONErr(stream, req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if err := readJSON(stream, resp); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	return nil
}

// loadOrCreateIdentity loads the libp2p identity key from path, or
// generates and persists a new Ed25519 key if none exists yet.
func loadOrCreateIdentity(path string) (p2pcrypto.PrivKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		return p2pcrypto.UnmarshalPrivateKey(data)
	}

	priv, _, err := p2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	data, err := p2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, err
	}
	return priv, nil
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
