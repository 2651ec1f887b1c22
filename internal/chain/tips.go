package chain

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// tipSet tracks headers without known children. Slots keep first-seen
// order: a child takes over its parent's slot, any other header opens a
// new one. A slot's work never decreases, so the best slot only needs
// to be compared against the slot that just changed.
type tipSet struct {
	slots []*CachedHeader
	index map[chainhash.Hash]int
	best  int
}

func newTipSet(genesis *CachedHeader) *tipSet {
	return &tipSet{
		slots: []*CachedHeader{genesis},
		index: map[chainhash.Hash]int{genesis.Hash: 0},
	}
}

// update records h as a tip and reports whether the active slot changed.
func (t *tipSet) update(h *CachedHeader) (switched bool) {
	parent := h.Header.PrevBlock
	slot, ok := t.index[parent]
	if ok {
		delete(t.index, parent)
		t.slots[slot] = h
	} else {
		slot = len(t.slots)
		t.slots = append(t.slots, h)
	}
	t.index[h.Hash] = slot

	if slot == t.best {
		return false
	}
	cmp := h.Work.Cmp(t.slots[t.best].Work)
	if cmp > 0 || (cmp == 0 && slot < t.best) {
		t.best = slot
		return true
	}
	return false
}

func (t *tipSet) active() *CachedHeader {
	return t.slots[t.best]
}

func (t *tipSet) all() []*CachedHeader {
	out := make([]*CachedHeader, len(t.slots))
	copy(out, t.slots)
	return out
}
