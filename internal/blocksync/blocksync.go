// Package blocksync drives header and block synchronization with a set of
// bitcoin peers and answers successor queries from the consumer.
//
// The Coordinator consumes inbound peer messages and a periodic Tick. It
// queues outbound GetHeaders/GetData commands and flushes them to a
// Transport on each tick. It never blocks and starts no goroutines;
// callers serialize every call into the Coordinator and its chain.Store.
package blocksync

import (
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Protocol limits.
const (
	// MaxInventorySize bounds the items accepted in a single inv message.
	MaxInventorySize = wire.MaxInvPerMsg
	// MaxHeadersSize bounds a headers batch. A batch of exactly this size
	// means the peer probably has more.
	MaxHeadersSize = wire.MaxBlockHeadersPerMsg
	// MaxUnsolicitedHeaders bounds a headers batch nobody asked for.
	MaxUnsolicitedHeaders = 20
	// MaxInFlightPerPeer bounds outstanding body fetches per peer.
	MaxInFlightPerPeer = 8
	// FetchTimeout is how long a body fetch may stay unanswered.
	FetchTimeout = 30 * time.Second
	// HeadersRequestTimeout is how long a GetHeaders may stay unanswered.
	HeadersRequestTimeout = 30 * time.Second
	// PrefetchDepth is how many levels past a query SuccessorsOf schedules.
	PrefetchDepth = 5
)

// OnTimeout selects what happens when a request goes unanswered.
type OnTimeout int

const (
	// IgnoreOnTimeout forgets the request.
	IgnoreOnTimeout OnTimeout = iota
	// DisconnectOnTimeout drops the peer.
	DisconnectOnTimeout
)

func (o OnTimeout) String() string {
	switch o {
	case IgnoreOnTimeout:
		return "ignore"
	case DisconnectOnTimeout:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Command is an outbound message. An empty Peer means broadcast.
type Command struct {
	Peer    peer.ID
	Message wire.Message
}

// Transport is the connection layer the coordinator talks through.
type Transport interface {
	ConnectedPeers() []peer.ID
	Send(cmd Command) error
	DisconnectPeer(id peer.ID) error
}

// Event is an inbound message from a peer.
type Event struct {
	From    peer.ID
	Message wire.Message
}
