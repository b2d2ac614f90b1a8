package rng

import "math/rand/v2"

// Stream is a deterministic random source. Every consumer that needs
// randomness owns its own Stream; streams are never shared across runs.
type Stream struct {
	r *rand.Rand
}

func New(seed int64) *Stream {
	s := uint64(seed)
	return &Stream{r: rand.New(rand.NewPCG(mix64(s), mix64(s^0x6a09e667f3bcc909)))}
}

// Derive returns a child stream whose seed depends on the parent seed and a salt.
func Derive(seed int64, salt uint64) *Stream {
	return New(int64(Hash(seed, salt)))
}

// Intn returns a uniform int in [0, n). n must be > 0.
func (s *Stream) Intn(n int) int { return s.r.IntN(n) }

// Float64 returns a uniform float in [0, 1).
func (s *Stream) Float64() float64 { return s.r.Float64() }

// Seed draws a seed for a child stream.
func (s *Stream) Seed() int64 { return int64(s.r.Uint64() >> 1) }

func (s *Stream) Shuffle(n int, swap func(i, j int)) { s.r.Shuffle(n, swap) }

// Pick returns an index drawn with probability proportional to weights,
// given u in [0, 1). All-zero weights behave as uniform.
func Pick(weights []float64, u float64) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum == 0 {
		for i := range weights {
			weights[i] = 1
		}
		sum = float64(len(weights))
	}
	threshold := u * sum
	partial := 0.0
	for i, w := range weights {
		partial += w
		if partial > threshold {
			return i
		}
	}
	return len(weights) - 1
}

func (s *Stream) Pick(weights []float64) int { return Pick(weights, s.Float64()) }

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash(seed int64, salt uint64) uint64 {
	return mix64(uint64(seed) ^ (salt * 0x9e3779b97f4a7c15))
}
