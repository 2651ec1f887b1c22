package chain

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
)

// Validator decides whether headers and block bodies are acceptable.
type Validator interface {
	ValidHeader(h *wire.BlockHeader) bool
	ValidBlock(b *wire.MsgBlock) bool
}

// MerkleValidator accepts every header and requires a block's
// transactions to hash to the merkle root committed in its header.
type MerkleValidator struct{}

// ValidHeader always returns true.
func (MerkleValidator) ValidHeader(*wire.BlockHeader) bool { return true }

// ValidBlock checks the merkle root commitment.
func (MerkleValidator) ValidBlock(b *wire.MsgBlock) bool {
	if len(b.Transactions) == 0 {
		return false
	}
	return MerkleRoot(b.Transactions) == b.Header.MerkleRoot
}

// PoWValidator additionally requires each header to satisfy its own
// compact difficulty target, capped at PowLimit.
type PoWValidator struct {
	MerkleValidator
	PowLimit *big.Int
}

// ValidHeader checks the proof of work.
func (v PoWValidator) ValidHeader(h *wire.BlockHeader) bool {
	target := blockchain.CompactToBig(h.Bits)
	if target.Sign() <= 0 {
		return false
	}
	if v.PowLimit != nil && target.Cmp(v.PowLimit) > 0 {
		return false
	}
	hash := h.BlockHash()
	return blockchain.HashToBig(&hash).Cmp(target) <= 0
}

// MerkleRoot computes the merkle root of txs.
func MerkleRoot(txs []*wire.MsgTx) chainhash.Hash {
	utxs := make([]*btcutil.Tx, len(txs))
	for i, tx := range txs {
		utxs[i] = btcutil.NewTx(tx)
	}
	store := blockchain.BuildMerkleTreeStore(utxs, false)
	return *store[len(store)-1]
}
