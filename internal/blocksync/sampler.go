package blocksync

import (
	"math/rand"

	"github.com/btcsuite/btcd/wire"
)

// Sampler picks up to n distinct items without replacement.
type Sampler interface {
	Sample(items []wire.InvVect, n int) []wire.InvVect
}

// RandomSampler samples uniformly using its own seeded source.
type RandomSampler struct {
	rng *rand.Rand
}

// NewRandomSampler creates a sampler with a fixed seed. The same seed and
// inputs give the same picks.
func NewRandomSampler(seed int64) *RandomSampler {
	return &RandomSampler{rng: rand.New(rand.NewSource(seed))}
}

// Sample returns min(n, len(items)) items using a partial Fisher-Yates
// shuffle over a copy of items.
func (s *RandomSampler) Sample(items []wire.InvVect, n int) []wire.InvVect {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	if n > len(items) {
		n = len(items)
	}
	pool := make([]wire.InvVect, len(items))
	copy(pool, items)
	for i := 0; i < n; i++ {
		j := i + s.rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

// FirstSampler takes items in order. Useful where picks must be
// predictable.
type FirstSampler struct{}

// Sample returns the first n items.
func (FirstSampler) Sample(items []wire.InvVect, n int) []wire.InvVect {
	if n <= 0 {
		return nil
	}
	if n > len(items) {
		n = len(items)
	}
	out := make([]wire.InvVect, n)
	copy(out, items[:n])
	return out
}
