package p2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Peer sources.
const (
	SourceInbound  = "inbound"
	SourceOutbound = "outbound"
	SourceSeed     = "seed"
	SourceAddrBook = "addrbook"
)

// Peer represents a connected peer.
type Peer struct {
	ID          peer.ID
	ConnectedAt time.Time
	Direction   network.Direction
	Source      string

	// Set once the handshake has been accepted. Only ready peers are
	// reported to the sync coordinator.
	Ready      bool
	BestHeight uint32
	UserAgent  string
}

// shortID truncates a peer ID for log output.
func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
