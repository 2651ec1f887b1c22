package p2p

import (
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/multiformats/go-multiaddr"
)

// connNotifier keeps Node.peers in step with the swarm and starts the
// handshake on outbound connections.
type connNotifier struct {
	node *Node
}

// Connected is called when a new connection is opened.
func (cn *connNotifier) Connected(_ network.Network, conn network.Conn) {
	remotePeer := conn.RemotePeer()
	if remotePeer == cn.node.host.ID() {
		return
	}
	dir := conn.Stat().Direction
	source := SourceInbound
	if dir == network.DirOutbound {
		source = SourceOutbound
	}
	cn.node.addPeer(remotePeer, dir, source)
	cn.node.logger.Debug().
		Str("peer", shortID(remotePeer)).
		Str("dir", dir.String()).
		Msg("Peer connected")

	// The dialer opens the handshake; the listener answers in its stream handler.
	if cn.node.handshakeEnabled() && dir == network.DirOutbound {
		go cn.node.doHandshake(remotePeer)
	}
}

// Disconnected is called when a connection is closed. The peer is dropped
// only when no other connection to it remains.
func (cn *connNotifier) Disconnected(net network.Network, conn network.Conn) {
	remotePeer := conn.RemotePeer()
	if len(net.ConnsToPeer(remotePeer)) == 0 {
		cn.node.removePeer(remotePeer)
		cn.node.logger.Debug().Str("peer", shortID(remotePeer)).Msg("Peer disconnected")
	}
}

// Listen is called when the node starts listening on a new address.
func (cn *connNotifier) Listen(network.Network, multiaddr.Multiaddr) {}

// ListenClose is called when the node stops listening on an address.
func (cn *connNotifier) ListenClose(network.Network, multiaddr.Multiaddr) {}
