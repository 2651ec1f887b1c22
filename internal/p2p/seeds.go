package p2p

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
)

const seedRetryInterval = 10 * time.Second

// connectSeedsOnce dials each seed once. Returns true if any connected.
func (n *Node) connectSeedsOnce() bool {
	connected := false
	for _, addr := range n.config.Seeds {
		ctx, cancel := context.WithTimeout(n.ctx, peerConnectTimeout)
		id, err := n.Connect(ctx, addr)
		cancel()
		if err != nil {
			n.logger.Warn().Str("addr", addr).Err(err).Msg("Seed connect failed")
			continue
		}
		n.addPeer(id, network.DirOutbound, SourceSeed)
		n.logger.Info().Str("peer", shortID(id)).Msg("Seed connected")
		connected = true
	}
	return connected
}

// connectSeedsLoop redials the seeds while the node has no peers.
func (n *Node) connectSeedsLoop() {
	if len(n.config.Seeds) == 0 {
		return
	}
	ticker := time.NewTicker(seedRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if n.PeerCount() == 0 {
				n.logger.Info().Int("seeds", len(n.config.Seeds)).Msg("No peers, retrying seeds...")
				n.connectSeedsOnce()
			}
		}
	}
}
