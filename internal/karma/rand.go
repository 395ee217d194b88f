package karma

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// Rand is the random source used for reply variants and random deltas.
// Tests inject a deterministic implementation.
type Rand interface {
	IntN(n int) int
}

// lockedRand makes a *rand.Rand safe for concurrent events.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.IntN(n)
}

// NewRand returns a concurrency-safe source seeded from crypto/rand.
func NewRand() Rand {
	return NewSeededRand(newSeed(), newSeed())
}

// NewSeededRand returns a concurrency-safe deterministic source.
func NewSeededRand(seed1, seed2 uint64) Rand {
	return &lockedRand{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

func newSeed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}
