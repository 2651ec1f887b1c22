package rpc

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/libp2p/go-libp2p/core/network"
)

// maxSuccessorHashes caps the known-hash list of relay_getSuccessors.
const maxSuccessorHashes = 500

// parseHash decodes a 64-character hex block hash in display order.
func parseHash(s string) (chainhash.Hash, error) {
	if len(s) != chainhash.MaxHashStringSize {
		return chainhash.Hash{}, fmt.Errorf("hash must be %d hex characters", chainhash.MaxHashStringSize)
	}
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return *h, nil
}

func (s *Server) handleRelayGetSuccessors(req *Request) (interface{}, *Error) {
	var p SuccessorsParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	if len(p.Hashes) == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "hashes required"}
	}
	if len(p.Hashes) > maxSuccessorHashes {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("too many hashes: %d > %d", len(p.Hashes), maxSuccessorHashes)}
	}

	hashes := make([]chainhash.Hash, 0, len(p.Hashes))
	for i, raw := range p.Hashes {
		h, err := parseHash(raw)
		if err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("hashes[%d]: %v", i, err)}
		}
		hashes = append(hashes, h)
	}

	block := s.backend.Successors(hashes)
	if block == nil {
		return &SuccessorsResult{Found: false}, nil
	}

	var buf bytes.Buffer
	if err := block.Serialize(&buf); err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("serialize block: %v", err)}
	}
	hash := block.BlockHash()
	result := &SuccessorsResult{
		Found: true,
		Hash:  hash.String(),
		Block: hex.EncodeToString(buf.Bytes()),
	}
	if hdr, _, _, ok := s.backend.Header(hash); ok {
		result.Height = hdr.Height
	}
	return result, nil
}

func (s *Server) handleChainGetInfo(_ *Request) (interface{}, *Error) {
	st := s.backend.SyncStatus()
	info := &ChainInfoResult{
		Network:      s.backend.Network(),
		GenesisHash:  s.backend.Genesis().String(),
		TipHash:      st.ActiveTip.String(),
		TipHeight:    st.ActiveTipHeight,
		Headers:      st.Headers,
		CachedBlocks: st.CachedBlocks,
	}
	if hdr, _, _, ok := s.backend.Header(st.ActiveTip); ok {
		info.TipWork = hdr.Work.String()
	}
	return info, nil
}

func (s *Server) handleChainGetHeader(req *Request) (interface{}, *Error) {
	var p HashParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	hash, err := parseHash(p.Hash)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid hash: %v", err)}
	}

	hdr, children, hasBlock, ok := s.backend.Header(hash)
	if !ok {
		return nil, &Error{Code: CodeNotFound, Message: "header not found"}
	}

	result := &HeaderResult{
		Hash:       hdr.Hash.String(),
		Height:     hdr.Height,
		Version:    hdr.Header.Version,
		PrevBlock:  hdr.Header.PrevBlock.String(),
		MerkleRoot: hdr.Header.MerkleRoot.String(),
		Timestamp:  hdr.Header.Timestamp.Unix(),
		Bits:       fmt.Sprintf("%08x", hdr.Header.Bits),
		Nonce:      hdr.Header.Nonce,
		Work:       hdr.Work.String(),
		HasBlock:   hasBlock,
		Children:   make([]string, 0, len(children)),
	}
	for _, c := range children {
		result.Children = append(result.Children, c.String())
	}
	return result, nil
}

func (s *Server) handleSyncGetStatus(_ *Request) (interface{}, *Error) {
	st := s.backend.SyncStatus()
	result := &SyncStatusResult{
		Peers:          make([]SyncPeerResult, 0, len(st.Peers)),
		PendingFetches: st.PendingFetches,
		FrontierSize:   st.FrontierSize,
	}
	for _, p := range st.Peers {
		result.Peers = append(result.Peers, SyncPeerResult{
			ID:              p.ID.String(),
			Height:          p.Height,
			Tip:             p.Tip.String(),
			Outstanding:     p.Outstanding,
			AwaitingHeaders: p.AwaitingHeaders,
		})
	}
	return result, nil
}

func (s *Server) handleNetGetPeerInfo(_ *Request) (interface{}, *Error) {
	peers := s.backend.PeerInfo()
	result := make([]PeerInfoResult, 0, len(peers))
	for _, p := range peers {
		dir := "inbound"
		if p.Direction == network.DirOutbound {
			dir = "outbound"
		}
		result = append(result, PeerInfoResult{
			ID:          p.ID.String(),
			Direction:   dir,
			Source:      p.Source,
			ConnectedAt: p.ConnectedAt.Unix(),
			Ready:       p.Ready,
			BestHeight:  p.BestHeight,
			UserAgent:   p.UserAgent,
		})
	}
	return result, nil
}

func (s *Server) handleNetGetBanList(_ *Request) (interface{}, *Error) {
	bans := s.backend.BanList()
	result := make([]BanResult, 0, len(bans))
	for _, b := range bans {
		result = append(result, BanResult{
			ID:        b.ID,
			Reason:    b.Reason,
			Score:     b.Score,
			BannedAt:  b.BannedAt,
			ExpiresAt: b.ExpiresAt,
		})
	}
	return result, nil
}
