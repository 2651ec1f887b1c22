// Package chaintest builds deterministic header chains and blocks for
// tests. Headers use regtest difficulty and are mined so they pass
// proof-of-work checks.
package chaintest

import (
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
)

// Genesis returns a copy of the regtest genesis header.
func Genesis() *wire.BlockHeader {
	h := chaincfg.RegressionNetParams.GenesisBlock.Header
	return &h
}

// NextHeader returns a mined child of prev. Different salts give
// different siblings.
func NextHeader(prev *wire.BlockHeader, salt uint32) *wire.BlockHeader {
	h := &wire.BlockHeader{
		Version:    4,
		PrevBlock:  prev.BlockHash(),
		MerkleRoot: chainhash.DoubleHashH([]byte{byte(salt), byte(salt >> 8), byte(salt >> 16), byte(salt >> 24)}),
		Timestamp:  prev.Timestamp.Add(10 * time.Minute),
		Bits:       prev.Bits,
	}
	mine(h)
	return h
}

// GenerateHeaders returns n headers chained on top of prev.
func GenerateHeaders(prev *wire.BlockHeader, n int, salt uint32) []*wire.BlockHeader {
	out := make([]*wire.BlockHeader, 0, n)
	for i := 0; i < n; i++ {
		prev = NextHeader(prev, salt)
		out = append(out, prev)
	}
	return out
}

// NewBlock returns a mined block on top of prev with a single coinbase
// transaction and a correct merkle root.
func NewBlock(prev *wire.BlockHeader, salt uint32) *wire.MsgBlock {
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  []byte{byte(salt), byte(salt >> 8), 0x51},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	coinbase.AddTxOut(wire.NewTxOut(50*1e8, []byte{0x51}))

	h := NextHeader(prev, salt)
	blk := wire.NewMsgBlock(h)
	_ = blk.AddTransaction(coinbase)
	blk.Header.MerkleRoot = merkleRoot(blk.Transactions)
	mine(&blk.Header)
	return blk
}

// BlockChain returns n blocks chained on top of prev.
func BlockChain(prev *wire.BlockHeader, n int, salt uint32) []*wire.MsgBlock {
	out := make([]*wire.MsgBlock, 0, n)
	for i := 0; i < n; i++ {
		b := NewBlock(prev, salt+uint32(i))
		out = append(out, b)
		prev = &b.Header
	}
	return out
}

// Headers extracts block headers.
func Headers(blocks []*wire.MsgBlock) []*wire.BlockHeader {
	out := make([]*wire.BlockHeader, len(blocks))
	for i, b := range blocks {
		out[i] = &b.Header
	}
	return out
}

func mine(h *wire.BlockHeader) {
	target := blockchain.CompactToBig(h.Bits)
	for {
		hash := h.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			return
		}
		h.Nonce++
	}
}

func merkleRoot(txs []*wire.MsgTx) chainhash.Hash {
	utxs := make([]*btcutil.Tx, len(txs))
	for i, tx := range txs {
		utxs[i] = btcutil.NewTx(tx)
	}
	store := blockchain.BuildMerkleTreeStore(utxs, false)
	return *store[len(store)-1]
}
