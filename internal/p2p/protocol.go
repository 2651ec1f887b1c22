package p2p

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/protocol"
)

// Stream protocols.
const (
	// WireProtocol carries exactly one Bitcoin wire message per stream.
	WireProtocol = protocol.ID("/btcrelay/wire/1.0.0")

	// HandshakeProtocol is the stream protocol ID for peer compatibility checking.
	HandshakeProtocol = protocol.ID("/btcrelay/handshake/1.0.0")

	// ProtocolVersion is the relay protocol version advertised during handshake.
	ProtocolVersion uint32 = 1

	// MinProtocolVersion is the minimum relay protocol version accepted from peers.
	MinProtocolVersion uint32 = 1
)

// AnnounceTopic returns the GossipSub topic that broadcast wire messages
// are published on for the named network.
func AnnounceTopic(network string) string {
	return fmt.Sprintf("/btcrelay/%s/announce/1.0.0", network)
}
