package blocksync

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerStatus is a snapshot of one peer's sync state.
type PeerStatus struct {
	ID              peer.ID
	Height          uint32
	Tip             chainhash.Hash
	Outstanding     int
	AwaitingHeaders bool
}

// Status is a snapshot of the coordinator.
type Status struct {
	Peers           []PeerStatus
	PendingFetches  int
	FrontierSize    int
	ActiveTip       chainhash.Hash
	ActiveTipHeight uint32
	Headers         int
	CachedBlocks    int
}

// Status returns the current sync state, peers ordered by ID.
func (c *Coordinator) Status() Status {
	tip := c.store.ActiveTip()
	st := Status{
		Peers:           make([]PeerStatus, 0, len(c.peers)),
		PendingFetches:  len(c.pending),
		FrontierSize:    len(c.frontier),
		ActiveTip:       tip.Hash,
		ActiveTipHeight: tip.Height,
		Headers:         c.store.HeaderCount(),
		CachedBlocks:    c.store.BlockCount(),
	}
	for _, p := range c.peers {
		st.Peers = append(st.Peers, PeerStatus{
			ID:              p.id,
			Height:          p.height,
			Tip:             p.tip,
			Outstanding:     p.outstanding,
			AwaitingHeaders: p.request != nil,
		})
	}
	sort.Slice(st.Peers, func(i, j int) bool { return st.Peers[i].ID < st.Peers[j].ID })
	return st
}
