package chain

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// CachedHeader is an accepted header with its position in the tree.
// Values handed out by the store must not be modified.
type CachedHeader struct {
	Header wire.BlockHeader
	Hash   chainhash.Hash
	Height uint32
	// Work is the cumulative work from genesis through this header.
	Work *big.Int
}

// AddStatus reports what AddHeader did with a header.
type AddStatus int

const (
	HeaderAdded AddStatus = iota
	HeaderAlreadyExists
)

func (s AddStatus) String() string {
	switch s {
	case HeaderAdded:
		return "added"
	case HeaderAlreadyExists:
		return "already-exists"
	default:
		return "unknown"
	}
}

// AddResult is returned by a successful AddHeader.
type AddResult struct {
	Header *CachedHeader
	Status AddStatus
}

// OwnWork returns the work represented by a single header's difficulty bits.
func OwnWork(h *wire.BlockHeader) *big.Int {
	return blockchain.CalcWork(h.Bits)
}

func newCachedHeader(h *wire.BlockHeader, parent *CachedHeader) *CachedHeader {
	ch := &CachedHeader{
		Header: *h,
		Hash:   h.BlockHash(),
		Work:   OwnWork(h),
	}
	if parent != nil {
		ch.Height = parent.Height + 1
		ch.Work.Add(ch.Work, parent.Work)
	}
	return ch
}
