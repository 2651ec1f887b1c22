// Package chain caches a bitcoin header tree and a subset of block bodies.
//
// The Store keeps every accepted header permanently, tracks the chain tips
// and selects the active tip by cumulative work. Block bodies are cached
// until the consumer prunes them. A Store is not safe for concurrent use;
// the owner serializes calls.
package chain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/btcrelay/internal/log"
)

// Store is the in-memory header tree and block cache.
type Store struct {
	genesis  *CachedHeader
	headers  map[chainhash.Hash]*CachedHeader
	children map[chainhash.Hash][]chainhash.Hash
	blocks   map[chainhash.Hash]*wire.MsgBlock
	tips     *tipSet
	// active caches the active chain by height; see activeChain.
	active []*CachedHeader

	validator Validator
	logger    zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store rooted at genesis. A nil validator accepts every
// header and checks block merkle roots.
func New(genesis *wire.BlockHeader, v Validator, opts ...Option) *Store {
	if v == nil {
		v = MerkleValidator{}
	}
	g := newCachedHeader(genesis, nil)
	s := &Store{
		genesis:   g,
		headers:   map[chainhash.Hash]*CachedHeader{g.Hash: g},
		children:  make(map[chainhash.Hash][]chainhash.Hash),
		blocks:    make(map[chainhash.Hash]*wire.MsgBlock),
		tips:      newTipSet(g),
		validator: v,
		logger:    log.Chain,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddHeader inserts h into the tree. Known headers are reported as
// HeaderAlreadyExists without being validated again.
func (s *Store) AddHeader(h *wire.BlockHeader) (AddResult, error) {
	hash := h.BlockHash()
	if existing, ok := s.headers[hash]; ok {
		return AddResult{Header: existing, Status: HeaderAlreadyExists}, nil
	}

	if !s.validator.ValidHeader(h) {
		return AddResult{}, headerErr(hash, ErrInvalidHeader)
	}

	parent, ok := s.headers[h.PrevBlock]
	if !ok {
		return AddResult{}, headerErr(hash, ErrPrevNotCached)
	}

	ch := newCachedHeader(h, parent)
	s.headers[hash] = ch
	s.children[h.PrevBlock] = append(s.children[h.PrevBlock], hash)

	if s.tips.update(ch) {
		tip := s.tips.active()
		s.logger.Info().
			Stringer("tip", tip.Hash).
			Uint32("height", tip.Height).
			Msg("Active tip switched branch")
	}
	return AddResult{Header: ch, Status: HeaderAdded}, nil
}

// AddHeaders inserts headers in order and stops at the first failure. It
// returns the headers newly added before the failure; headers that were
// already known are skipped.
func (s *Store) AddHeaders(headers []*wire.BlockHeader) ([]*CachedHeader, error) {
	var added []*CachedHeader
	for _, h := range headers {
		res, err := s.AddHeader(h)
		if err != nil {
			return added, err
		}
		if res.Status == HeaderAdded {
			added = append(added, res.Header)
		}
	}
	if len(added) > 0 {
		tip := s.tips.active()
		s.logger.Debug().
			Int("added", len(added)).
			Stringer("tip", tip.Hash).
			Uint32("height", tip.Height).
			Msg("Headers added")
	}
	return added, nil
}

// AddBlock caches a block body. The block's header is added first if it is
// not yet known; a header accepted that way stays even if the body is
// rejected.
func (s *Store) AddBlock(b *wire.MsgBlock) (uint32, error) {
	res, err := s.AddHeader(&b.Header)
	if err != nil {
		return 0, err
	}
	if !s.validator.ValidBlock(b) {
		return 0, headerErr(res.Header.Hash, ErrInvalidBlock)
	}
	s.blocks[res.Header.Hash] = b
	return res.Header.Height, nil
}

// Header returns the cached header for hash.
func (s *Store) Header(hash chainhash.Hash) (*CachedHeader, bool) {
	h, ok := s.headers[hash]
	return h, ok
}

// Block returns the cached body for hash.
func (s *Store) Block(hash chainhash.Hash) (*wire.MsgBlock, bool) {
	b, ok := s.blocks[hash]
	return b, ok
}

// Children returns the hashes of the known children of hash, in insertion
// order.
func (s *Store) Children(hash chainhash.Hash) []chainhash.Hash {
	c := s.children[hash]
	if len(c) == 0 {
		return nil
	}
	out := make([]chainhash.Hash, len(c))
	copy(out, c)
	return out
}

// IsHeaderKnown reports whether hash is in the header tree.
func (s *Store) IsHeaderKnown(hash chainhash.Hash) bool {
	_, ok := s.headers[hash]
	return ok
}

// Genesis returns the root of the tree.
func (s *Store) Genesis() *CachedHeader { return s.genesis }

// ActiveTip returns the tip with the most cumulative work. Ties go to the
// tip that was seen first.
func (s *Store) ActiveTip() *CachedHeader { return s.tips.active() }

// Tips returns all current tips in first-seen order.
func (s *Store) Tips() []*CachedHeader { return s.tips.all() }

// PruneBlocks drops cached bodies. Headers are never removed.
func (s *Store) PruneBlocks(hashes []chainhash.Hash) {
	for _, h := range hashes {
		delete(s.blocks, h)
	}
}

// HeaderCount returns the number of headers in the tree, genesis included.
func (s *Store) HeaderCount() int { return len(s.headers) }

// BlockCount returns the number of cached bodies.
func (s *Store) BlockCount() int { return len(s.blocks) }
