package blocksync

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// SuccessorsOf answers a consumer query for the blocks following hashes.
// The caller no longer needs the bodies of hashes, so they are pruned.
// It returns the first cached body among the direct children, in
// breadth-first order, and queues every uncached descendant up to
// PrefetchDepth levels for fetching.
func (c *Coordinator) SuccessorsOf(hashes []chainhash.Hash) *wire.MsgBlock {
	immediate := c.successorHashes(hashes, 1)
	future := c.successorHashes(hashes, PrefetchDepth)

	c.store.PruneBlocks(hashes)

	var found *wire.MsgBlock
	resolved := make(map[chainhash.Hash]struct{})
	for _, h := range immediate {
		b, ok := c.store.Block(h)
		if !ok {
			continue
		}
		resolved[h] = struct{}{}
		if found == nil {
			found = b
		}
	}

	queued := 0
	for _, h := range future {
		if _, ok := resolved[h]; ok {
			continue
		}
		c.frontier[blockInv(h)] = struct{}{}
		queued++
	}

	c.logger.Debug().
		Int("requested", len(hashes)).
		Int("successors", len(immediate)).
		Int("cached", len(resolved)).
		Int("queued", queued).
		Msg("Successor query")
	return found
}

// successorHashes returns the descendants of hashes within depth levels,
// breadth first, excluding hashes themselves.
func (c *Coordinator) successorHashes(hashes []chainhash.Hash, depth int) []chainhash.Hash {
	if depth < 1 {
		depth = 1
	}
	seen := make(map[chainhash.Hash]struct{}, len(hashes))
	level := make([]chainhash.Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		level = append(level, h)
	}

	var out []chainhash.Hash
	for d := 0; d < depth && len(level) > 0; d++ {
		var next []chainhash.Hash
		for _, h := range level {
			for _, child := range c.store.Children(h) {
				if _, ok := seen[child]; ok {
					continue
				}
				seen[child] = struct{}{}
				out = append(out, child)
				next = append(next, child)
			}
		}
		level = next
	}
	return out
}

// Enqueue adds block hashes to the fetch frontier.
func (c *Coordinator) Enqueue(hashes ...chainhash.Hash) {
	for _, h := range hashes {
		c.frontier[blockInv(h)] = struct{}{}
	}
}
