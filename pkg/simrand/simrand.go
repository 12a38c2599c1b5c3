// Package simrand provides the seeded PRNG handle the allocator and
// scheduler take at construction. Every run of the simulator with the
// same seed must produce byte-identical output, so no component may
// reach for an ambient global source.
package simrand

import "math/rand/v2"

// Source is a construction-time-seeded PRNG handle. It is deliberately
// narrow — the allocator only ever needs a deterministic permutation of a
// small id slice, never general-purpose randomness.
type Source struct {
	rng *rand.Rand
}

// New returns a Source seeded deterministically from seed.
func New(seed uint64) *Source {
	return &Source{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// ShuffleInts deterministically permutes ids in place given this source's
// sequence, using the Fisher-Yates shuffle. Callers that need the original
// order pass a copy.
func (s *Source) ShuffleInts(ids []int) {
	s.rng.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
}
