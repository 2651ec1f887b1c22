package chain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	locatorIterations = 22
	// Entries before the step starts doubling.
	locatorDenseEntries = 8
)

// LocatorHashes builds a block locator walking back from the active tip:
// the newest entries one apart, then exponentially spaced. Genesis is
// always the last entry.
func (s *Store) LocatorHashes() []chainhash.Hash {
	genesis := s.genesis.Hash
	current := s.tips.active()
	hashes := make([]chainhash.Hash, 0, locatorIterations+1)
	step := 1

	for i := 0; i < locatorIterations; i++ {
		hashes = append(hashes, current.Hash)
		for j := 0; j < step; j++ {
			prev, ok := s.headers[current.Header.PrevBlock]
			if !ok {
				return appendGenesis(hashes, genesis)
			}
			current = prev
		}
		if i >= locatorDenseEntries-1 {
			step *= 2
		}
	}
	return appendGenesis(hashes, genesis)
}

func appendGenesis(hashes []chainhash.Hash, genesis chainhash.Hash) []chainhash.Hash {
	if hashes[len(hashes)-1] != genesis {
		hashes = append(hashes, genesis)
	}
	return hashes
}

// HeadersAfter answers a getheaders request. It returns up to max headers
// of the active chain following the first locator found on it, stopping
// after stop. Without a matching locator the headers start above genesis.
func (s *Store) HeadersAfter(locators []chainhash.Hash, stop chainhash.Hash, max int) []*wire.BlockHeader {
	path := s.activeChain()

	start := 1
	for _, l := range locators {
		h, ok := s.headers[l]
		if ok && int(h.Height) < len(path) && path[h.Height] == h {
			start = int(h.Height) + 1
			break
		}
	}

	var out []*wire.BlockHeader
	for i := start; i < len(path) && len(out) < max; i++ {
		h := path[i].Header
		out = append(out, &h)
		if path[i].Hash == stop {
			break
		}
	}
	return out
}

// activeChain returns the headers from genesis to the active tip, indexed
// by height. The index is cached and only rewritten from the fork point
// when the active tip moves.
func (s *Store) activeChain() []*CachedHeader {
	tip := s.tips.active()
	if n := len(s.active); n > 0 && s.active[n-1] == tip {
		return s.active
	}

	var branch []*CachedHeader
	for cur := tip; ; {
		if int(cur.Height) < len(s.active) && s.active[cur.Height] == cur {
			break
		}
		branch = append(branch, cur)
		prev, ok := s.headers[cur.Header.PrevBlock]
		if cur.Height == 0 || !ok {
			break
		}
		cur = prev
	}

	keep := int(tip.Height) + 1
	if len(branch) > 0 {
		keep = int(branch[len(branch)-1].Height)
	}
	s.active = s.active[:keep]
	for i := len(branch) - 1; i >= 0; i-- {
		s.active = append(s.active, branch[i])
	}
	return s.active
}
