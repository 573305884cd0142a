// Package sampler throttles how many training batches a round processes,
// backing off after rounds that overran their window.
package sampler

import (
	"math/rand/v2"
	"sync"
)

const (
	MinRate = 0.0001
	MaxRate = 1.0

	DecayFactor  = 0.95
	GrowthFactor = 1.05
)

// Sampler holds the shared sample rate and the exhausted flag of the current round.
type Sampler struct {
	mu        sync.Mutex
	rate      float64
	exhausted bool
	rng       *rand.Rand
}

// New returns a sampler starting at rate, clamped into [MinRate, MaxRate].
// A nil src draws from a randomly seeded PCG.
func New(rate float64, src rand.Source) *Sampler {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Sampler{
		rate: clamp(rate),
		rng:  rand.New(src),
	}
}

func clamp(rate float64) float64 {
	return min(MaxRate, max(MinRate, rate))
}

func (s *Sampler) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Include reports whether the next batch is processed. Always false once the
// round is exhausted.
func (s *Sampler) Include() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exhausted {
		return false
	}
	return s.rng.Float64() < s.rate
}

// MarkExhausted records that the round crossed a window boundary.
func (s *Sampler) MarkExhausted() {
	s.mu.Lock()
	s.exhausted = true
	s.mu.Unlock()
}

func (s *Sampler) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

// EndRound adjusts the rate for the finished round, clears the exhausted flag
// and returns whether the round was exhausted along with the new rate.
func (s *Sampler) EndRound() (bool, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exhausted := s.exhausted
	if exhausted {
		s.rate = max(MinRate, s.rate*DecayFactor)
	} else {
		s.rate = min(MaxRate, s.rate*GrowthFactor)
	}
	s.exhausted = false
	return exhausted, s.rate
}
