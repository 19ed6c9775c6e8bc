// Package entropy provides the process-wide uniform random source shared by
// the scheduler and the simulated world.
// Seeds come from crypto/rand unless a fixed seed is configured.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	mrand "math/rand"
	"sync"
)

// Source draws uniform integers. Safe for concurrent use.
type Source struct {
	mu   sync.Mutex
	rng  *mrand.Rand
	seed int64
}

// New creates a Source. A zero seed picks one from crypto/rand.
func New(seed int64) *Source {
	if seed == 0 {
		seed = CryptoSeed()
		slog.Debug("random source seeded from crypto/rand", "seed", seed)
	}
	return &Source{rng: mrand.New(mrand.NewSource(seed)), seed: seed}
}

// Seed returns the seed the source was created with.
func (s *Source) Seed() int64 {
	return s.seed
}

// URand returns an integer in the closed range [lo, hi].
// When hi < lo it returns lo.
func (s *Source) URand(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.Intn(hi-lo+1)
}

// Percent returns a roll in [1, 100].
func (s *Source) Percent() int {
	return s.URand(1, 100)
}

// Chance reports whether a roll in [1, 100] is within percent.
func (s *Source) Chance(percent int) bool {
	return s.Percent() <= percent
}

// CryptoSeed returns a non-zero seed read from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to a fixed seed.
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}
