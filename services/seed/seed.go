// Package seed derives the per-call random streams of the sampling engine.
//
// One optional external seed feeds an MT19937 generator whose first two
// 32-bit draws become the sampling seed and the exact seed, in that order.
// Without an external seed the generator is keyed from crypto/rand.
package seed

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mathext/prng"
)

// Source is the pseudo-random source consumed by the engine.
type Source = rand.Source

// Factory builds a Source from a derived seed.
type Factory func(seed uint64) Source

// Seeds are the two internal seeds of one retrieval.
type Seeds struct {
	Sampling uint64 `json:"sampling_seed"`
	Exact    uint64 `json:"exact_seed"`
}

// NewSource returns an MT19937 source seeded with s.
func NewSource(s uint64) Source {
	src := prng.NewMT19937()
	src.Seed(s)
	return src
}

// Derive expands external into the sampling and exact seeds. A nil external
// seed draws fresh entropy, making the call non-reproducible. Masters that fit
// in 32 bits seed MT19937 directly; wider ones seed it from both 32-bit halves
// so every bit of the master matters.
func Derive(external *int64) (Seeds, error) {
	var master uint64
	if external != nil {
		master = uint64(*external)
	} else {
		var err error
		if master, err = entropy(); err != nil {
			return Seeds{}, err
		}
	}

	gen := prng.NewMT19937()
	if hi := uint32(master >> 32); hi != 0 {
		gen.SeedFromKeys([]uint32{uint32(master), hi})
	} else {
		gen.Seed(master)
	}
	return Seeds{
		Sampling: uint64(gen.Uint32()),
		Exact:    uint64(gen.Uint32()),
	}, nil
}

func entropy() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
