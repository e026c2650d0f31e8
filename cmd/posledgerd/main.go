// Command posledgerd runs a proof-of-stake ledger node, or acts as a
// thin client against one for wallet creation and transaction submission.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"golang.org/x/term"

	"github.com/pos-ledger/node/internal/blockstore"
	"github.com/pos-ledger/node/internal/config"
	"github.com/pos-ledger/node/internal/keystore"
	"github.com/pos-ledger/node/internal/kvstore"
	"github.com/pos-ledger/node/internal/ledger"
	"github.com/pos-ledger/node/internal/noncestore"
	"github.com/pos-ledger/node/internal/overlay"
	"github.com/pos-ledger/node/internal/pnode"
	"github.com/pos-ledger/node/internal/statusapi"
	"github.com/pos-ledger/node/internal/txstore"
	"github.com/pos-ledger/node/pkg/helpers"
	"github.com/pos-ledger/node/pkg/logging"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	configPath, cmd, rest := parseGlobalFlags(os.Args[1:])

	var err error
	switch cmd {
	case "create":
		err = runCreate(configPath)
	case "start":
		err = runStart(configPath)
	case "tx":
		err = runTx(configPath, rest)
	case "stake":
		err = runStake(configPath, rest)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: posledgerd [--config path] <create|start|tx|stake> [flags]")
}

// parseGlobalFlags pulls --config out wherever it appears relative to
// the subcommand name, then returns the subcommand and its own args
// untouched for the subcommand's own flag.FlagSet to parse.
func parseGlobalFlags(args []string) (configPath, cmd string, rest []string) {
	configPath = config.DefaultPath
	for i := 0; i < len(args); i++ {
		a := args[i]
		if (a == "--config" || a == "-config") && i+1 < len(args) {
			configPath = args[i+1]
			i++
			continue
		}
		if cmd == "" {
			cmd = a
			continue
		}
		rest = append(rest, a)
	}
	return configPath, cmd, rest
}

func runCreate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	password, err := promptPassword("New wallet password: ")
	if err != nil {
		return err
	}

	ks, err := keystore.New(cfg.KeystorePath)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	key, err := ks.Create(password)
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}

	fmt.Println(key.Address())
	return nil
}

func runStart(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Validator == "" {
		return fmt.Errorf("config has no validator address set")
	}

	password, err := promptPassword("Wallet password: ")
	if err != nil {
		return err
	}

	ks, err := keystore.New(cfg.KeystorePath)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	key, err := ks.Load(cfg.Validator, password)
	if err != nil {
		return fmt.Errorf("load validator key: %w", err)
	}

	kv, err := kvstore.Open(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer kv.Close()

	txs := txstore.New(kv)
	blocks := blockstore.New(kv)
	nonces := noncestore.New(kv)

	l, err := ledger.New(key, cfg.GenesisPath, txs, blocks, nonces)
	if err != nil {
		return fmt.Errorf("initialize ledger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	identityPath := filepath.Join(cfg.StoragePath, "identity.key")
	ov, err := overlay.New(ctx, identityPath, overlay.Config{
		ListenPort: cfg.Port,
		Bootstrap:  cfg.Nodes,
		EnableMDNS: true,
	})
	if err != nil {
		return fmt.Errorf("start overlay: %w", err)
	}

	bootstrapPeers, err := resolvePeerIDs(cfg.Nodes)
	if err != nil {
		logging.GetDefault().Warn("some bootstrap peers could not be parsed", "error", err)
	}

	n := pnode.New(ctx, l, ov, bootstrapPeers)

	if cfg.StatusAddr != "" {
		status := statusapi.New(cfg.StatusAddr)
		n.SetStatusPublisher(status)
		go func() {
			if err := status.Start(ctx); err != nil {
				logging.GetDefault().Warn("status feed stopped", "error", err)
			}
		}()
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	logging.GetDefault().Info("node started", "address", l.Address(), "peer_id", ov.PeerID().String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	return n.Stop()
}

func runTx(configPath string, args []string) error {
	fs := flag.NewFlagSet("tx", flag.ExitOnError)
	from := fs.String("from", "", "sender wallet address")
	to := fs.String("to", "", "recipient wallet address (or STAKE)")
	amount := fs.String("amount", "", "amount to send, as a decimal string")
	fs.Parse(args)

	if *from == "" || *to == "" || *amount == "" {
		return fmt.Errorf("tx requires --from, --to, and --amount")
	}
	return submitTx(configPath, *from, *to, *amount)
}

func runStake(configPath string, args []string) error {
	fs := flag.NewFlagSet("stake", flag.ExitOnError)
	from := fs.String("from", "", "staking wallet address")
	amount := fs.String("amount", "", "amount to stake, as a decimal string")
	fs.Parse(args)

	if *from == "" || *amount == "" {
		return fmt.Errorf("stake requires --from and --amount")
	}
	return submitTx(configPath, *from, ledger.AddressStake, *amount)
}

// submitTx signs a transaction with the sender's keystore entry, fetches
// its next nonce from the first configured peer, and submits it there
// for admission and re-broadcast.
func submitTx(configPath, from, to, amountStr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.Nodes) == 0 {
		return fmt.Errorf("config has no peers to submit through")
	}
	amount, err := helpers.ParseDecimal(amountStr)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	password, err := promptPassword("Wallet password: ")
	if err != nil {
		return err
	}
	ks, err := keystore.New(cfg.KeystorePath)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	key, err := ks.Load(from, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	identityPath := filepath.Join(os.TempDir(), fmt.Sprintf("posledgerd-client-%d.key", os.Getpid()))
	defer os.Remove(identityPath)
	ov, err := overlay.New(ctx, identityPath, overlay.Config{ListenPort: 0})
	if err != nil {
		return fmt.Errorf("start client overlay: %w", err)
	}
	defer ov.Stop()
	if err := ov.Start(); err != nil {
		return fmt.Errorf("start client overlay: %w", err)
	}

	target, err := dialFirst(ctx, ov, cfg.Nodes)
	if err != nil {
		return fmt.Errorf("reach a peer: %w", err)
	}

	nonce, err := ov.RequestNonce(ctx, target, from)
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	nextNonce := nonce + 1

	tx := ledger.Tx{
		From:      from,
		To:        to,
		Amount:    amount,
		Nonce:     nextNonce,
		Timestamp: uint64(time.Now().Unix()),
	}
	tx.Hash = tx.ComputeHash()
	hashBytes, err := hex.DecodeString(tx.Hash)
	if err != nil {
		return fmt.Errorf("encode tx hash: %w", err)
	}
	sig, err := key.Sign(hashBytes)
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	tx.Signature = hex.EncodeToString(sig)

	if err := ov.RequestTx(ctx, target, tx); err != nil {
		return fmt.Errorf("submit tx: %w", err)
	}

	fmt.Println(tx.Hash)
	return nil
}

func dialFirst(ctx context.Context, ov *overlay.Overlay, nodes []string) (peer.ID, error) {
	var lastErr error
	for _, addr := range nodes {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			lastErr = err
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			lastErr = err
			continue
		}
		if err := ov.Host().Connect(ctx, *pi); err != nil {
			lastErr = err
			continue
		}
		return pi.ID, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no peers configured")
	}
	return "", lastErr
}

func resolvePeerIDs(nodes []string) ([]peer.ID, error) {
	var ids []peer.ID
	var firstErr error
	for _, addr := range nodes {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ids = append(ids, pi.ID)
	}
	return ids, firstErr
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return trimNewline(line), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
