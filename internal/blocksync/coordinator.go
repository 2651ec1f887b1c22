package blocksync

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/btcrelay/internal/chain"
	"github.com/Klingon-tech/btcrelay/internal/log"
)

// Coordinator tracks per-peer sync state and outstanding requests.
type Coordinator struct {
	store    *chain.Store
	peers    map[peer.ID]*peerState
	pending  map[wire.InvVect]*pendingFetch
	frontier map[wire.InvVect]struct{}
	outbox   []Command

	sampler Sampler
	now     func() time.Time
	logger  zerolog.Logger
	metrics *Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSampler sets the sampler used to pick fetch items for a peer.
func WithSampler(s Sampler) Option {
	return func(c *Coordinator) { c.sampler = s }
}

// WithSeed seeds the default random sampler.
func WithSeed(seed int64) Option {
	return func(c *Coordinator) { c.sampler = NewRandomSampler(seed) }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger overrides the coordinator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a coordinator syncing into store.
func NewCoordinator(store *chain.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		peers:    make(map[peer.ID]*peerState),
		pending:  make(map[wire.InvVect]*pendingFetch),
		frontier: make(map[wire.InvVect]struct{}),
		now:      time.Now,
		logger:   log.Sync,
		metrics:  NopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sampler == nil {
		c.sampler = NewRandomSampler(time.Now().UnixNano())
	}
	return c
}

// Store returns the chain store the coordinator syncs into.
func (c *Coordinator) Store() *chain.Store { return c.store }

// AddPeer starts tracking id and asks it for headers from genesis. The
// bootstrap request drops the peer if it goes unanswered.
func (c *Coordinator) AddPeer(id peer.ID) {
	if _, ok := c.peers[id]; ok {
		return
	}
	genesis := c.store.Genesis()
	c.peers[id] = &peerState{
		id:     id,
		height: genesis.Height,
		tip:    genesis.Hash,
	}
	c.logger.Info().Stringer("peer", id).Msg("Peer added")
	c.sendGetHeaders(id, []chainhash.Hash{genesis.Hash}, chainhash.Hash{}, DisconnectOnTimeout)
}

// RemovePeer forgets id. Its outstanding fetches go back to the frontier.
func (c *Coordinator) RemovePeer(id peer.ID) {
	if _, ok := c.peers[id]; !ok {
		return
	}
	delete(c.peers, id)
	for item, req := range c.pending {
		if req.peer == id {
			delete(c.pending, item)
			c.frontier[item] = struct{}{}
		}
	}
	c.logger.Info().Stringer("peer", id).Msg("Peer removed")
}

// sendGetHeaders queues a GetHeaders for id and records it as the peer's
// outstanding request.
func (c *Coordinator) sendGetHeaders(id peer.ID, locators []chainhash.Hash, stop chainhash.Hash, onTimeout OnTimeout) {
	p, ok := c.peers[id]
	if !ok {
		return
	}
	msg := wire.NewMsgGetHeaders()
	msg.ProtocolVersion = wire.ProtocolVersion
	for i := range locators {
		if err := msg.AddBlockLocatorHash(&locators[i]); err != nil {
			c.logger.Warn().Stringer("peer", id).Err(err).Msg("Locator dropped")
			break
		}
	}
	msg.HashStop = stop
	c.outbox = append(c.outbox, Command{Peer: id, Message: msg})

	p.request = &headersRequest{
		locators:  locators,
		stop:      stop,
		sentAt:    c.now(),
		onTimeout: onTimeout,
	}
	c.logger.Debug().
		Stringer("peer", id).
		Int("locators", len(locators)).
		Stringer("stop", stop).
		Msg("Sending getheaders")
}

// OnInventory handles an inv announcement.
func (c *Coordinator) OnInventory(from peer.ID, items []*wire.InvVect) error {
	if len(items) > MaxInventorySize {
		return ErrTooMuchInventory
	}
	p, ok := c.peers[from]
	if !ok {
		return ErrUnknownPeer
	}

	var stop *chainhash.Hash
	for _, iv := range items {
		if !isBlockInv(iv) {
			continue
		}
		p.tip = iv.Hash
		if !c.store.IsHeaderKnown(iv.Hash) {
			h := iv.Hash
			stop = &h
		}
	}
	if stop != nil {
		c.sendGetHeaders(from, c.store.LocatorHashes(), *stop, IgnoreOnTimeout)
	}
	return nil
}

// OnHeaders handles a headers batch.
func (c *Coordinator) OnHeaders(from peer.ID, headers []*wire.BlockHeader) error {
	p, ok := c.peers[from]
	if !ok {
		return ErrUnknownPeer
	}
	if len(headers) > MaxUnsolicitedHeaders && p.request == nil {
		return ErrTooManyUnsolicitedHeaders
	}
	if len(headers) > MaxHeadersSize {
		return ErrTooManyHeaders
	}
	if len(headers) == 0 {
		// Nothing past our locators: the peer is caught up.
		p.request = nil
		return nil
	}

	lastHash := headers[len(headers)-1].BlockHash()
	prevTip := c.store.ActiveTip().Height

	added, addErr := c.store.AddHeaders(headers)
	c.metrics.HeadersAccepted.Add(float64(len(added)))

	if tip := c.store.ActiveTip(); tip.Height > prevTip {
		c.logger.Info().
			Uint32("height", tip.Height).
			Stringer("tip", tip.Hash).
			Msg("Active tip advanced")
	}

	var last *chain.CachedHeader
	if len(added) > 0 {
		last = added[len(added)-1]
	} else if h, ok := c.store.Header(lastHash); ok {
		last = h
	}
	if last != nil && last.Height > p.height {
		p.height = last.Height
		p.tip = last.Hash
	}

	if addErr != nil {
		var herr *chain.HeaderError
		if errors.As(addErr, &herr) && errors.Is(herr.Err, chain.ErrPrevNotCached) {
			c.sendGetHeaders(from, c.store.LocatorHashes(), herr.Hash, IgnoreOnTimeout)
			return nil
		}
		return fmt.Errorf("%w: %w", ErrReceivedInvalidHeader, addErr)
	}

	if last != nil && len(headers) == MaxHeadersSize {
		c.sendGetHeaders(from, []chainhash.Hash{last.Hash}, chainhash.Hash{}, IgnoreOnTimeout)
		return nil
	}
	p.request = nil
	return nil
}

// OnBlock handles a block body.
func (c *Coordinator) OnBlock(from peer.ID, b *wire.MsgBlock) error {
	p, ok := c.peers[from]
	if !ok {
		return ErrUnknownPeer
	}

	hash := b.BlockHash()
	item := blockInv(hash)
	req := c.pending[item]

	height, err := c.store.AddBlock(b)
	if err != nil {
		c.logger.Warn().
			Stringer("peer", from).
			Stringer("hash", hash).
			Err(err).
			Msg("Block rejected")
		return fmt.Errorf("%w: %w", ErrBodyNotAdded, err)
	}

	ev := c.logger.Debug().
		Stringer("peer", from).
		Stringer("hash", hash).
		Uint32("height", height)
	if req != nil {
		ev = ev.Dur("elapsed", c.now().Sub(req.sentAt))
		// Only the addressed peer's fetch slot is released.
		if req.peer == from && p.outstanding > 0 {
			p.outstanding--
		}
		delete(c.pending, item)
	}
	ev.Msg("Block received")

	delete(c.frontier, item)
	c.metrics.BlocksReceived.Add(1)
	return nil
}

// ProcessEvent routes an inbound message to its handler. Any rejection is
// reported as ErrInvalidMessage wrapping the cause. Message types the
// coordinator does not consume are ignored.
func (c *Coordinator) ProcessEvent(ev Event) error {
	var err error
	switch msg := ev.Message.(type) {
	case *wire.MsgInv:
		err = c.OnInventory(ev.From, msg.InvList)
	case *wire.MsgHeaders:
		err = c.OnHeaders(ev.From, msg.Headers)
	case *wire.MsgBlock:
		err = c.OnBlock(ev.From, msg)
	default:
		return nil
	}
	if err != nil {
		c.metrics.InvalidMessages.Add(1)
		c.logger.Debug().
			Stringer("peer", ev.From).
			Str("command", ev.Message.Command()).
			Err(err).
			Msg("Invalid message")
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}
