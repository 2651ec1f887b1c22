// Package node wires the relay together: the header store and sync
// coordinator, the p2p transport and the RPC server. It can be embedded in
// any binary.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/btcrelay/config"
	"github.com/Klingon-tech/btcrelay/internal/blocksync"
	"github.com/Klingon-tech/btcrelay/internal/chain"
	klog "github.com/Klingon-tech/btcrelay/internal/log"
	"github.com/Klingon-tech/btcrelay/internal/p2p"
	"github.com/Klingon-tech/btcrelay/internal/rpc"
	"github.com/Klingon-tech/btcrelay/internal/storage"
)

// UserAgent is advertised in the p2p handshake.
const UserAgent = "btcrelay:0.1.0"

// ErrNotRunning is returned by Stop before Start.
var ErrNotRunning = errors.New("node not running")

// Node is a fully-initialized relay node.
type Node struct {
	cfg    *config.Config
	params *chaincfg.Params
	logger zerolog.Logger

	// mu serializes every call into store and coord.
	mu        sync.Mutex
	store     *chain.Store
	coord     *blocksync.Coordinator
	announced chainhash.Hash

	db        storage.DB
	p2pNode   *p2p.Node
	transport blocksync.Transport
	rpcServer *rpc.Server

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates and initializes a Node from cfg. It opens storage and builds
// every component but starts no goroutines; call Start for that.
func New(cfg *config.Config) (*Node, error) {
	logger := klog.Node

	// ── 1. Chain parameters ─────────────────────────────────────────
	params, err := cfg.Network.Params()
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("genesis", params.GenesisHash.String()).
		Bool("check_pow", cfg.Sync.CheckPoW).
		Msg("Starting BTC relay node")

	// ── 2. Header store and coordinator ─────────────────────────────
	var validator chain.Validator = chain.MerkleValidator{}
	if cfg.Sync.CheckPoW {
		validator = chain.PoWValidator{PowLimit: params.PowLimit}
	}
	genesis := params.GenesisBlock.Header
	store := chain.New(&genesis, validator)

	coordOpts := []blocksync.Option{}
	if cfg.Sync.Seed != 0 {
		coordOpts = append(coordOpts, blocksync.WithSeed(cfg.Sync.Seed))
	}
	if cfg.Metrics.Enabled {
		coordOpts = append(coordOpts, blocksync.WithMetrics(
			blocksync.PrometheusMetrics(cfg.Metrics.Namespace, "network", string(cfg.Network))))
	}
	coord := blocksync.NewCoordinator(store, coordOpts...)

	// ── 3. Storage ──────────────────────────────────────────────────
	db, err := storage.Open(cfg.Storage.Backend, cfg.DBDir())
	if err != nil {
		return nil, fmt.Errorf("open %s database at %s: %w", cfg.Storage.Backend, cfg.DBDir(), err)
	}
	logger.Info().Str("backend", cfg.Storage.Backend).Str("path", cfg.DBDir()).Msg("Database opened")

	n := &Node{
		cfg:       cfg,
		params:    params,
		logger:    logger,
		store:     store,
		coord:     coord,
		announced: store.Genesis().Hash,
		db:        db,
		transport: offlineTransport{},
	}

	// ── 4. P2P ──────────────────────────────────────────────────────
	if cfg.P2P.Enabled {
		n.p2pNode = p2p.New(p2p.Config{
			ListenAddr:  cfg.P2P.ListenAddr,
			Port:        cfg.P2P.Port,
			Seeds:       cfg.P2P.Seeds,
			MaxPeers:    cfg.P2P.MaxPeers,
			DB:          db,
			DataDir:     cfg.ChainDataDir(),
			Network:     string(cfg.Network),
			Net:         params.Net,
			GenesisHash: *params.GenesisHash,
			UserAgent:   UserAgent,
		})
		n.p2pNode.SetHeightFn(n.height)
		n.p2pNode.SetMessageHandler(n.handleMessage)
		n.transport = n.p2pNode
	} else {
		logger.Warn().Msg("P2P disabled by config")
	}

	// ── 5. RPC server ───────────────────────────────────────────────
	if cfg.RPC.Enabled {
		var opts []rpc.Option
		if cfg.Metrics.Enabled {
			opts = append(opts, rpc.WithMetricsHandler(promhttp.Handler()))
		}
		n.rpcServer = rpc.New(cfg.RPC, n, opts...)
	} else {
		logger.Warn().Msg("RPC disabled by config")
	}

	return n, nil
}

// Start launches the p2p node, the RPC server and the tick loop.
func (n *Node) Start() error {
	if n.p2pNode != nil {
		if err := n.p2pNode.Start(); err != nil {
			return fmt.Errorf("start p2p: %w", err)
		}
	}
	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			if n.p2pNode != nil {
				n.p2pNode.Stop()
			}
			return fmt.Errorf("start RPC at %s: %w", n.cfg.RPC.ListenAddr(), err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.runTickLoop(ctx) })
	n.cancel, n.group = cancel, g

	n.logger.Info().
		Dur("tick", n.cfg.Sync.TickInterval).
		Str("rpc", n.RPCAddr()).
		Msg("Node started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() error {
	if n.cancel == nil {
		return ErrNotRunning
	}
	n.cancel()
	err := n.group.Wait()

	if n.rpcServer != nil {
		if stopErr := n.rpcServer.Stop(); stopErr != nil {
			n.logger.Warn().Err(stopErr).Msg("RPC shutdown")
		}
	}
	if n.p2pNode != nil {
		if stopErr := n.p2pNode.Stop(); stopErr != nil {
			n.logger.Warn().Err(stopErr).Msg("P2P shutdown")
		}
	}
	if closeErr := n.db.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	n.logger.Info().Msg("Goodbye!")
	return err
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// P2P returns the p2p node, or nil when disabled.
func (n *Node) P2P() *p2p.Node { return n.p2pNode }

// Update runs fn with exclusive access to the header store.
func (n *Node) Update(fn func(*chain.Store) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn(n.store)
}

func (n *Node) height() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.store.ActiveTip().Height
}

// ── Sync ────────────────────────────────────────────────────────────

func (n *Node) runTickLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.Sync.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.tick()
		}
	}
}

// tick drives the coordinator and announces a new active tip.
func (n *Node) tick() {
	n.mu.Lock()
	n.coord.Tick(n.transport)
	tip := n.store.ActiveTip()
	changed := tip.Hash != n.announced
	if changed {
		n.announced = tip.Hash
	}
	n.mu.Unlock()

	if changed && n.p2pNode != nil {
		n.announceTip(tip)
	}
}

// handleMessage serves peer requests and feeds everything else to the
// coordinator. Rejected messages count against the sender.
func (n *Node) handleMessage(from peer.ID, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.MsgGetHeaders:
		n.serveHeaders(from, m)
		return
	case *wire.MsgGetData:
		n.serveData(from, m)
		return
	}

	n.mu.Lock()
	err := n.coord.ProcessEvent(blocksync.Event{From: from, Message: msg})
	n.mu.Unlock()
	if err == nil {
		return
	}
	// The coordinator learns about peers on the next tick.
	if errors.Is(err, blocksync.ErrUnknownPeer) {
		return
	}
	if errors.Is(err, blocksync.ErrInvalidMessage) && n.p2pNode != nil {
		n.p2pNode.BanManager.RecordOffense(from, p2p.PenaltyInvalidMessage, err.Error())
	}
}

// offlineTransport stands in for the p2p node when it is disabled.
type offlineTransport struct{}

func (offlineTransport) ConnectedPeers() []peer.ID    { return nil }
func (offlineTransport) Send(blocksync.Command) error { return p2p.ErrNotStarted }
func (offlineTransport) DisconnectPeer(peer.ID) error { return p2p.ErrNotStarted }
