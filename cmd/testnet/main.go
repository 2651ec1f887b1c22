// Command testnet boots a 2-node local regtest relay network.
//
// Usage: go run ./cmd/testnet/
//
// It starts two in-process relays with memory storage, connects them over
// libp2p, extends the first relay's chain with 10 mined regtest blocks at
// 1-second intervals and verifies that the second relay follows the
// announced tip and can fetch every block body through the successors query.
// Ctrl+C for early shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/btcrelay/config"
	"github.com/Klingon-tech/btcrelay/internal/chain"
	"github.com/Klingon-tech/btcrelay/internal/chain/chaintest"
	klog "github.com/Klingon-tech/btcrelay/internal/log"
	"github.com/Klingon-tech/btcrelay/internal/node"
	"github.com/Klingon-tech/btcrelay/internal/storage"
)

const (
	numBlocks     = 10
	blockInterval = time.Second
	syncTimeout   = 30 * time.Second
)

func main() {
	klog.Init("info", false, "")
	logger := klog.WithComponent("testnet")

	logger.Info().Msg("=== BTC Relay 2-Node Local Regtest ===")

	// ── Phase 1: Build and start nodes ───────────────────────────────────

	node1, err := buildNode()
	if err != nil {
		logger.Fatal().Err(err).Msg("build node-1")
	}
	node2, err := buildNode()
	if err != nil {
		logger.Fatal().Err(err).Msg("build node-2")
	}
	if err := node1.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start node-1")
	}
	defer node1.Stop()
	if err := node2.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start node-2")
	}
	defer node2.Stop()

	logger.Info().
		Str("node1_id", node1.P2P().ID().String()).
		Str("node2_id", node2.P2P().ID().String()).
		Str("genesis", node1.Genesis().String()).
		Msg("Nodes started")

	// ── Phase 2: Connect ─────────────────────────────────────────────────

	connCtx, connCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_, err = node2.P2P().Connect(connCtx, node1.P2P().Addrs()[0])
	connCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect nodes")
	}
	time.Sleep(500 * time.Millisecond) // Handshake and GossipSub mesh.

	logger.Info().
		Int("node1_peers", node1.P2P().PeerCount()).
		Int("node2_peers", node2.P2P().PeerCount()).
		Msg("Nodes connected")

	// ── Phase 3: Signal handling ─────────────────────────────────────────

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("Shutdown signal received")
		cancel()
	}()

	// ── Phase 4: Extend node-1's chain ───────────────────────────────────

	logger.Info().
		Int("blocks", numBlocks).
		Dur("interval", blockInterval).
		Msg("Starting block production")

	for i := 0; i < numBlocks && ctx.Err() == nil; i++ {
		blk, height, err := extendChain(node1, uint32(i))
		if err != nil {
			logger.Fatal().Err(err).Msg("extend chain")
		}
		logger.Info().
			Uint32("height", height).
			Stringer("hash", blk.BlockHash()).
			Msg("Block produced")

		select {
		case <-ctx.Done():
		case <-time.After(blockInterval):
		}
	}

	// ── Phase 5: Verification ────────────────────────────────────────────

	want := node1.SyncStatus()
	if !waitFor(ctx, func() bool { return node2.SyncStatus().ActiveTip == want.ActiveTip }) {
		logger.Error().
			Uint32("node1_height", want.ActiveTipHeight).
			Uint32("node2_height", node2.SyncStatus().ActiveTipHeight).
			Msg("FAILURE: node-2 did not follow node-1's tip")
		os.Exit(1)
	}

	fetched, err := walkSuccessors(ctx, node2, want.ActiveTip)
	if err != nil {
		logger.Error().Err(err).Int("fetched", fetched).Msg("FAILURE: block bodies not relayed")
		os.Exit(1)
	}

	logger.Info().Msg("SUCCESS: node-2 followed the tip and relayed every block")
	fmt.Println()
	fmt.Printf("  Tip height:      %d\n", want.ActiveTipHeight)
	fmt.Printf("  Tip hash:        %s\n", want.ActiveTip)
	fmt.Printf("  Bodies relayed:  %d\n", fetched)
	fmt.Printf("  Headers known:   %d\n", node2.SyncStatus().Headers)
	fmt.Println()
}

// buildNode creates a regtest relay on a random local port.
func buildNode() (*node.Node, error) {
	cfg := config.Default(config.Regtest)
	dir, err := os.MkdirTemp("", "btcrelay-testnet-")
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dir
	cfg.Storage.Backend = storage.BackendMemory
	cfg.P2P.ListenAddr = "127.0.0.1"
	cfg.P2P.Port = 0
	cfg.RPC.Enabled = false
	cfg.Sync.TickInterval = 100 * time.Millisecond
	return node.New(cfg)
}

// extendChain mines one block on n's active tip and stores it.
func extendChain(n *node.Node, salt uint32) (*wire.MsgBlock, uint32, error) {
	var (
		blk    *wire.MsgBlock
		height uint32
	)
	err := n.Update(func(s *chain.Store) error {
		tip := s.ActiveTip()
		blk = chaintest.NewBlock(&tip.Header, salt)
		if _, err := s.AddHeaders([]*wire.BlockHeader{&blk.Header}); err != nil {
			return err
		}
		if _, err := s.AddBlock(blk); err != nil {
			return err
		}
		height = tip.Height + 1
		return nil
	})
	return blk, height, err
}

// walkSuccessors follows the successors query from genesis to tip and
// returns how many bodies it received.
func walkSuccessors(ctx context.Context, n *node.Node, tip chainhash.Hash) (int, error) {
	cursor := n.Genesis()
	fetched := 0
	for cursor != tip {
		var blk *wire.MsgBlock
		ok := waitFor(ctx, func() bool {
			blk = n.Successors([]chainhash.Hash{cursor})
			return blk != nil
		})
		if !ok {
			return fetched, fmt.Errorf("no successor of %s", cursor)
		}
		cursor = blk.BlockHash()
		fetched++
	}
	return fetched, nil
}

// waitFor polls cond until it holds, ctx ends or syncTimeout passes.
func waitFor(ctx context.Context, cond func() bool) bool {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
