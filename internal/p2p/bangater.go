package p2p

import (
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// connGater implements the libp2p ConnectionGater interface. It refuses
// banned peers in both directions and inbound peers once the node is full.
type connGater struct {
	bans *BanManager
	full func() bool // nil means unlimited
}

// InterceptPeerDial rejects outbound dials to banned peers.
func (g *connGater) InterceptPeerDial(p peer.ID) bool {
	return !g.bans.IsBanned(p)
}

// InterceptAddrDial allows all address dials (filtering is done per-peer).
func (g *connGater) InterceptAddrDial(_ peer.ID, _ ma.Multiaddr) bool {
	return true
}

// InterceptAccept allows all inbound connections at the transport layer.
// Peer identity is not yet known at this stage.
func (g *connGater) InterceptAccept(_ network.ConnMultiaddrs) bool {
	return true
}

// InterceptSecured runs once the remote identity is authenticated.
func (g *connGater) InterceptSecured(dir network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	if g.bans.IsBanned(p) {
		return false
	}
	if dir == network.DirInbound && g.full != nil && g.full() {
		return false
	}
	return true
}

// InterceptUpgraded allows all fully upgraded connections.
func (g *connGater) InterceptUpgraded(_ network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
