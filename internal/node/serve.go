package node

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/btcrelay/internal/blocksync"
	"github.com/Klingon-tech/btcrelay/internal/chain"
)

// serveHeaders answers a getheaders request from the active chain.
func (n *Node) serveHeaders(from peer.ID, req *wire.MsgGetHeaders) {
	locators := make([]chainhash.Hash, len(req.BlockLocatorHashes))
	for i, h := range req.BlockLocatorHashes {
		locators[i] = *h
	}

	n.mu.Lock()
	headers := n.store.HeadersAfter(locators, req.HashStop, blocksync.MaxHeadersSize)
	n.mu.Unlock()

	// HeadersAfter caps the batch at wire.MaxBlockHeadersPerMsg.
	msg := wire.NewMsgHeaders()
	for _, h := range headers {
		_ = msg.AddBlockHeader(h)
	}
	n.reply(from, msg)
}

// serveData answers block requests from the cache. Items we do not hold
// are reported in a single notfound.
func (n *Node) serveData(from peer.ID, req *wire.MsgGetData) {
	var (
		blocks   []*wire.MsgBlock
		notFound = wire.NewMsgNotFound()
	)

	// The decoder bounds req.InvList at wire.MaxInvPerMsg, so notFound cannot
	// overflow.
	n.mu.Lock()
	for _, iv := range req.InvList {
		if iv.Type != wire.InvTypeBlock && iv.Type != wire.InvTypeWitnessBlock {
			_ = notFound.AddInvVect(iv)
			continue
		}
		b, ok := n.store.Block(iv.Hash)
		if !ok {
			_ = notFound.AddInvVect(iv)
			continue
		}
		blocks = append(blocks, b)
	}
	n.mu.Unlock()

	for _, b := range blocks {
		n.reply(from, b)
	}
	if len(notFound.InvList) > 0 {
		n.reply(from, notFound)
	}
}

// announceTip sends the active tip to every ready peer so they can ask for
// its headers. Directed sends reach peers that joined before the announce
// topic mesh formed; peers that connect later bootstrap with getheaders.
func (n *Node) announceTip(tip *chain.CachedHeader) {
	inv := wire.NewMsgInv()
	if err := inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &tip.Hash)); err != nil {
		n.logger.Warn().Err(err).Msg("Build tip announce")
		return
	}
	peers := n.transport.ConnectedPeers()
	for _, id := range peers {
		n.reply(id, inv)
	}
	n.logger.Debug().
		Uint32("height", tip.Height).
		Stringer("tip", tip.Hash).
		Int("peers", len(peers)).
		Msg("Tip announced")
}

func (n *Node) reply(to peer.ID, msg wire.Message) {
	if err := n.transport.Send(blocksync.Command{Peer: to, Message: msg}); err != nil {
		n.logger.Debug().
			Stringer("peer", to).
			Str("command", msg.Command()).
			Err(err).
			Msg("Reply failed")
	}
}
