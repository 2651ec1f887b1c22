package blocksync

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/peer"
)

// headersRequest is the GetHeaders last sent to a peer.
type headersRequest struct {
	locators  []chainhash.Hash
	stop      chainhash.Hash
	sentAt    time.Time
	onTimeout OnTimeout
}

type peerState struct {
	id     peer.ID
	height uint32
	tip    chainhash.Hash
	// nil while no header request is outstanding.
	request     *headersRequest
	outstanding int
}

// pendingFetch is one GetData item waiting for its block.
type pendingFetch struct {
	peer      peer.ID
	item      wire.InvVect
	sentAt    time.Time
	onTimeout OnTimeout
}

func blockInv(hash chainhash.Hash) wire.InvVect {
	return wire.InvVect{Type: wire.InvTypeBlock, Hash: hash}
}

func isBlockInv(iv *wire.InvVect) bool {
	return iv.Type == wire.InvTypeBlock || iv.Type == wire.InvTypeWitnessBlock
}
