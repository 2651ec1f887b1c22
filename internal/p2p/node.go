// Package p2p carries Bitcoin wire messages between relay nodes over libp2p.
package p2p

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/btcrelay/internal/blocksync"
	klog "github.com/Klingon-tech/btcrelay/internal/log"
	"github.com/Klingon-tech/btcrelay/internal/storage"
)

const (
	// sendTimeout bounds opening a stream and writing one message.
	sendTimeout = 10 * time.Second

	// readTimeout bounds reading one inbound message.
	readTimeout = 30 * time.Second

	// peerConnectTimeout is the timeout for dialling a seed or a remembered peer.
	peerConnectTimeout = 5 * time.Second
)

var (
	ErrNotStarted     = errors.New("p2p node not started")
	ErrPeerNotReady   = errors.New("peer not connected or handshake pending")
	ErrAlreadyStarted = errors.New("p2p node already started")
)

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	MaxPeers   int
	DB         storage.DB // Ban and address persistence (nil = disabled, for tests)
	DataDir    string     // Data directory for persisting node identity

	// Network names the Bitcoin network ("mainnet", "regtest", ...). It
	// selects the announce topic and must match during handshake.
	Network string
	// Net is the wire magic messages are framed with.
	Net wire.BitcoinNet
	// GenesisHash enables the handshake when non-zero.
	GenesisHash chainhash.Hash
	UserAgent   string
}

// Node is a libp2p host that implements blocksync.Transport.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
	wg     sync.WaitGroup

	mu       sync.RWMutex
	peers    map[peer.ID]*Peer
	handler  func(peer.ID, wire.Message)
	heightFn func() uint32

	BanManager *BanManager // set by Start
	addrBook   *AddrBook   // nil if Config.DB is nil
	connNotify *connNotifier
}

// New creates a new P2P node with the given config.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		logger: klog.P2P,
		peers:  make(map[peer.ID]*Peer),
	}
	if cfg.DB != nil {
		n.addrBook = NewAddrBook(cfg.DB)
	}
	return n
}

func (n *Node) handshakeEnabled() bool {
	return n.config.GenesisHash != (chainhash.Hash{})
}

// Start initializes the libp2p host, joins the announce topic and dials seeds.
func (n *Node) Start() error {
	if n.host != nil {
		return ErrAlreadyStarted
	}
	addr := fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)

	// The gater consults the ban manager, so it must exist before the host.
	var banStore *BanStore
	if n.config.DB != nil {
		banStore = NewBanStore(n.config.DB)
	}
	n.BanManager = NewBanManager(banStore, n)
	n.BanManager.LoadBans()

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(addr),
		libp2p.ConnectionGater(&connGater{bans: n.BanManager, full: n.full}),
	}
	if n.config.DataDir != "" {
		privKey, err := loadOrCreateIdentity(n.config.DataDir)
		if err != nil {
			return fmt.Errorf("load p2p identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(privKey))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h

	n.connNotify = &connNotifier{node: n}
	h.Network().Notify(n.connNotify)

	ps, err := pubsub.NewGossipSub(n.ctx, h, pubsub.WithMaxMessageSize(maxWireMessageSize))
	if err != nil {
		h.Close()
		return fmt.Errorf("create pubsub: %w", err)
	}
	n.pubsub = ps

	if n.topic, err = ps.Join(AnnounceTopic(n.config.Network)); err != nil {
		h.Close()
		return fmt.Errorf("join announce topic: %w", err)
	}
	if n.sub, err = n.topic.Subscribe(); err != nil {
		h.Close()
		return fmt.Errorf("subscribe announce topic: %w", err)
	}

	h.SetStreamHandler(WireProtocol, n.handleWireStream)
	if n.handshakeEnabled() {
		n.registerHandshakeHandler()
	}

	n.logger.Info().
		Str("id", h.ID().String()).
		Str("network", n.config.Network).
		Strs("addrs", n.Addrs()).
		Msg("P2P node started")

	n.spawn(n.readLoop)
	n.spawn(func() { n.BanManager.RunPruneLoop(n.ctx.Done()) })
	if n.addrBook != nil {
		n.spawn(n.dialAddrBook)
		n.spawn(n.runPersistLoop)
	}
	if len(n.config.Seeds) > 0 {
		n.logger.Info().Int("seeds", len(n.config.Seeds)).Msg("Connecting to seeds...")
	}
	n.connectSeedsOnce()
	n.spawn(n.connectSeedsLoop)
	return nil
}

// Stop shuts down the P2P node and waits for its goroutines.
func (n *Node) Stop() error {
	n.persistAddrs()
	n.cancel()
	if n.sub != nil {
		n.sub.Cancel()
	}
	if n.topic != nil {
		n.topic.Close()
	}
	var err error
	if n.host != nil {
		err = n.host.Close()
	}
	n.wg.Wait()
	return err
}

func (n *Node) spawn(fn func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
}

// Host returns the underlying libp2p host (nil before Start).
func (n *Node) Host() host.Host {
	return n.host
}

// ID returns the peer ID of this node.
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns the full multiaddrs of this node.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	var addrs []string
	for _, a := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return addrs
}

// SetMessageHandler registers the callback for every decoded inbound message,
// whether it arrived on a wire stream or on the announce topic.
func (n *Node) SetMessageHandler(fn func(from peer.ID, msg wire.Message)) {
	n.mu.Lock()
	n.handler = fn
	n.mu.Unlock()
}

// SetHeightFn sets the function used to report best height during handshake.
func (n *Node) SetHeightFn(fn func() uint32) {
	n.mu.Lock()
	n.heightFn = fn
	n.mu.Unlock()
}

// Connect dials a peer given its full multiaddr.
func (n *Node) Connect(ctx context.Context, addr string) (peer.ID, error) {
	if n.host == nil {
		return "", ErrNotStarted
	}
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return "", fmt.Errorf("parse peer address: %w", err)
	}
	if err := n.host.Connect(ctx, *info); err != nil {
		return "", fmt.Errorf("connect %s: %w", shortID(info.ID), err)
	}
	return info.ID, nil
}

// ConnectedPeers returns the peers whose handshake completed, sorted by ID.
func (n *Node) ConnectedPeers() []peer.ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]peer.ID, 0, len(n.peers))
	for id, p := range n.peers {
		if p.Ready {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send delivers cmd. A command without a peer is published on the announce
// topic. Directed sends are encoded synchronously and written in the background,
// so a slow peer never stalls the caller.
func (n *Node) Send(cmd blocksync.Command) error {
	if n.host == nil {
		return ErrNotStarted
	}
	if n.ctx.Err() != nil {
		return n.ctx.Err()
	}
	data, err := encodeMessage(cmd.Message, n.config.Net)
	if err != nil {
		return err
	}
	if cmd.Peer == "" {
		if err := n.topic.Publish(n.ctx, data); err != nil {
			return fmt.Errorf("publish %s: %w", cmd.Message.Command(), err)
		}
		return nil
	}
	if !n.isReady(cmd.Peer) {
		return fmt.Errorf("%w: %s", ErrPeerNotReady, shortID(cmd.Peer))
	}
	command := cmd.Message.Command()
	n.spawn(func() { n.sendDirect(cmd.Peer, command, data) })
	return nil
}

func (n *Node) sendDirect(id peer.ID, command string, data []byte) {
	ctx, cancel := context.WithTimeout(n.ctx, sendTimeout)
	defer cancel()

	stream, err := n.host.NewStream(ctx, id, WireProtocol)
	if err != nil {
		n.logger.Debug().Err(err).Str("peer", shortID(id)).Str("cmd", command).Msg("Open wire stream failed")
		return
	}
	defer stream.Close()

	_ = stream.SetWriteDeadline(time.Now().Add(sendTimeout))
	if _, err := stream.Write(data); err != nil {
		n.logger.Debug().Err(err).Str("peer", shortID(id)).Str("cmd", command).Msg("Wire write failed")
		stream.Reset()
		return
	}
	n.logger.Trace().Str("peer", shortID(id)).Str("cmd", command).Int("bytes", len(data)).Msg("Message sent")
}

// DisconnectPeer closes all connections to a peer and removes it from the peer list.
func (n *Node) DisconnectPeer(id peer.ID) error {
	if n.host == nil {
		return ErrNotStarted
	}
	n.removePeer(id)
	return n.host.Network().ClosePeer(id)
}

// PeerCount returns the number of connected peers, ready or not.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// PeerList returns a snapshot of connected peers sorted by ID.
func (n *Node) PeerList() []Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (n *Node) full() bool {
	return n.config.MaxPeers > 0 && n.PeerCount() >= n.config.MaxPeers
}

func (n *Node) isReady(id peer.ID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.peers[id]
	return ok && p.Ready
}

func (n *Node) addPeer(id peer.ID, dir network.Direction, source string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, exists := n.peers[id]; exists {
		if source == SourceSeed || source == SourceAddrBook {
			p.Source = source
		}
		return
	}
	n.peers[id] = &Peer{
		ID:          id,
		ConnectedAt: time.Now(),
		Direction:   dir,
		Source:      source,
		Ready:       !n.handshakeEnabled(),
	}
}

func (n *Node) markReady(id peer.ID, msg HandshakeMessage) {
	n.mu.Lock()
	p, ok := n.peers[id]
	if !ok {
		// The stream can win the race against the connection notification.
		p = &Peer{ID: id, ConnectedAt: time.Now(), Direction: network.DirInbound, Source: SourceInbound}
		n.peers[id] = p
	}
	p.Ready = true
	p.BestHeight = msg.BestHeight
	p.UserAgent = msg.UserAgent
	n.mu.Unlock()

	n.logger.Info().
		Str("peer", shortID(id)).
		Uint32("height", msg.BestHeight).
		Str("agent", msg.UserAgent).
		Msg("Peer ready")
}

func (n *Node) removePeer(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, id)
}

func (n *Node) dispatch(from peer.ID, msg wire.Message) {
	n.mu.RLock()
	fn := n.handler
	n.mu.RUnlock()
	if fn != nil {
		fn(from, msg)
	}
}

// handleWireStream reads one framed message and hands it to the message handler.
func (n *Node) handleWireStream(stream network.Stream) {
	defer stream.Close()
	from := stream.Conn().RemotePeer()

	_ = stream.SetReadDeadline(time.Now().Add(readTimeout))
	msg, err := decodeMessage(stream, n.config.Net)
	if err != nil {
		n.logger.Debug().Err(err).Str("peer", shortID(from)).Msg("Malformed wire message")
		n.BanManager.RecordOffense(from, PenaltyMalformedMessage, err.Error())
		stream.Reset()
		return
	}
	n.logger.Trace().Str("peer", shortID(from)).Str("cmd", msg.Command()).Msg("Message received")
	n.dispatch(from, msg)
}

func (n *Node) readLoop() {
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			return // Context cancelled.
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue // Skip own messages.
		}
		wmsg, err := decodeMessage(bytes.NewReader(msg.Data), n.config.Net)
		if err != nil {
			n.BanManager.RecordOffense(msg.ReceivedFrom, PenaltyMalformedMessage, err.Error())
			continue
		}
		n.dispatch(msg.ReceivedFrom, wmsg)
	}
}
