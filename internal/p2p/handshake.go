package p2p

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	// handshakeTimeout is the max time for a complete handshake exchange.
	handshakeTimeout = 10 * time.Second

	// maxHandshakeBytes limits handshake message size.
	maxHandshakeBytes = 4096
)

// HandshakeMessage is exchanged between peers to verify compatibility.
type HandshakeMessage struct {
	ProtocolVersion uint32 `json:"protocol_version"`
	Network         string `json:"network"`
	GenesisHash     string `json:"genesis_hash"`
	BestHeight      uint32 `json:"best_height"`
	UserAgent       string `json:"user_agent,omitempty"`
}

// registerHandshakeHandler answers handshakes opened by dialling peers.
func (n *Node) registerHandshakeHandler() {
	n.host.SetStreamHandler(HandshakeProtocol, func(stream network.Stream) {
		defer stream.Close()
		remotePeer := stream.Conn().RemotePeer()

		_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

		var peerMsg HandshakeMessage
		if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&peerMsg); err != nil {
			n.logger.Debug().Err(err).Str("peer", shortID(remotePeer)).Msg("Handshake read failed")
			return
		}

		ourMsg := n.buildHandshakeMessage()
		if err := json.NewEncoder(stream).Encode(&ourMsg); err != nil {
			n.logger.Debug().Err(err).Str("peer", shortID(remotePeer)).Msg("Handshake write failed")
			return
		}

		// A rejection disconnects the peer; our reply must be read first.
		awaitClose(stream)
		n.completeHandshake(remotePeer, peerMsg)
	})
}

// awaitClose blocks until the remote closes its side of stream or the
// stream deadline passes.
func awaitClose(stream network.Stream) {
	_, _ = io.Copy(io.Discard, io.LimitReader(stream, maxHandshakeBytes))
}

// doHandshake initiates a handshake with a remote peer (dialer side).
func (n *Node) doHandshake(peerID peer.ID) {
	stream, err := n.host.NewStream(n.ctx, peerID, HandshakeProtocol)
	if err != nil {
		// Not a relay node; it can never become a sync peer.
		n.logger.Debug().Err(err).Str("peer", shortID(peerID)).Msg("Peer does not speak handshake protocol")
		n.DisconnectPeer(peerID)
		return
	}
	defer stream.Close()

	_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

	ourMsg := n.buildHandshakeMessage()
	if err := json.NewEncoder(stream).Encode(&ourMsg); err != nil {
		n.logger.Debug().Err(err).Str("peer", shortID(peerID)).Msg("Handshake send failed")
		return
	}

	var peerMsg HandshakeMessage
	if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&peerMsg); err != nil {
		n.logger.Debug().Err(err).Str("peer", shortID(peerID)).Msg("Handshake response read failed")
		return
	}
	// Closing tells the responder its reply arrived.
	stream.Close()

	n.completeHandshake(peerID, peerMsg)
}

// completeHandshake marks the peer ready, or bans it when incompatible.
func (n *Node) completeHandshake(id peer.ID, msg HandshakeMessage) {
	if reason := n.validateHandshake(msg); reason != "" {
		n.logger.Warn().
			Str("peer", shortID(id)).
			Str("reason", reason).
			Msg("Handshake rejected, banning peer")
		n.BanManager.RecordOffense(id, PenaltyHandshakeFail, reason)
		n.DisconnectPeer(id)
		return
	}
	if n.host.Network().Connectedness(id) != network.Connected {
		return
	}
	n.markReady(id, msg)
}

// validateHandshake checks a peer's handshake message for compatibility.
// Returns an empty string on success, or a reason string on failure.
func (n *Node) validateHandshake(msg HandshakeMessage) string {
	if msg.ProtocolVersion < MinProtocolVersion {
		return fmt.Sprintf("protocol version too low: peer=%d min=%d",
			msg.ProtocolVersion, MinProtocolVersion)
	}
	if msg.Network != n.config.Network {
		return fmt.Sprintf("network mismatch: peer=%q local=%q", msg.Network, n.config.Network)
	}
	genesis, err := chainhash.NewHashFromStr(msg.GenesisHash)
	if err != nil {
		return fmt.Sprintf("bad genesis hash: %v", err)
	}
	if *genesis != n.config.GenesisHash {
		return fmt.Sprintf("genesis mismatch: peer=%s local=%s",
			genesis.String()[:16], n.config.GenesisHash.String()[:16])
	}
	return ""
}

// buildHandshakeMessage constructs our handshake message from node state.
func (n *Node) buildHandshakeMessage() HandshakeMessage {
	msg := HandshakeMessage{
		ProtocolVersion: ProtocolVersion,
		Network:         n.config.Network,
		GenesisHash:     n.config.GenesisHash.String(),
		UserAgent:       n.config.UserAgent,
	}
	n.mu.RLock()
	fn := n.heightFn
	n.mu.RUnlock()
	if fn != nil {
		msg.BestHeight = fn()
	}
	return msg
}
