package node

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/btcrelay/internal/blocksync"
	"github.com/Klingon-tech/btcrelay/internal/chain"
	"github.com/Klingon-tech/btcrelay/internal/p2p"
)

// Network implements rpc.Backend.
func (n *Node) Network() string { return string(n.cfg.Network) }

// Genesis implements rpc.Backend.
func (n *Node) Genesis() chainhash.Hash { return *n.params.GenesisHash }

// Successors implements rpc.Backend.
func (n *Node) Successors(hashes []chainhash.Hash) *wire.MsgBlock {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.coord.SuccessorsOf(hashes)
}

// Header implements rpc.Backend.
func (n *Node) Header(hash chainhash.Hash) (*chain.CachedHeader, []chainhash.Hash, bool, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	hdr, ok := n.store.Header(hash)
	if !ok {
		return nil, nil, false, false
	}
	_, hasBlock := n.store.Block(hash)
	return hdr, n.store.Children(hash), hasBlock, true
}

// SyncStatus implements rpc.Backend.
func (n *Node) SyncStatus() blocksync.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.coord.Status()
}

// PeerInfo implements rpc.Backend.
func (n *Node) PeerInfo() []p2p.Peer {
	if n.p2pNode == nil {
		return nil
	}
	return n.p2pNode.PeerList()
}

// BanList implements rpc.Backend.
func (n *Node) BanList() []p2p.BanRecord {
	if n.p2pNode == nil || n.p2pNode.BanManager == nil {
		return nil
	}
	return n.p2pNode.BanManager.BanList()
}
