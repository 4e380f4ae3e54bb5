package ensemble

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Default confidence bounds. Confidence values lie in [Min, Max).
const (
	DefaultConfidenceMin = 0.5
	DefaultConfidenceMax = 1.0
)

// Confidence policy names accepted by [NewConfidencePolicy].
const (
	PolicyRandom = "random"
	PolicyMargin = "margin"
)

// ConfidencePolicy maps a cycle's outcome to a confidence value.
type ConfidencePolicy interface {
	// Confidence returns a value in the policy's [min, max) range given the
	// winning label's vote count and the ensemble size.
	Confidence(winning, total int) float64
}

// NewConfidencePolicy builds the named policy. An empty name selects
// [PolicyRandom].
func NewConfidencePolicy(name string, lo, hi float64, seed uint64) (ConfidencePolicy, error) {
	if !(lo < hi) {
		return nil, fmt.Errorf("ensemble: confidence range [%g, %g) is empty", lo, hi)
	}
	switch name {
	case "", PolicyRandom:
		return NewRandomConfidence(lo, hi, seed), nil
	case PolicyMargin:
		return MarginConfidence{Min: lo, Max: hi}, nil
	default:
		return nil, fmt.Errorf("ensemble: unknown confidence policy %q", name)
	}
}

// RandomConfidence draws uniformly from [Min, Max) and ignores the tally.
type RandomConfidence struct {
	min, max float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomConfidence returns a policy drawing from [lo, hi). A zero seed
// seeds from the clock.
func NewRandomConfidence(lo, hi float64, seed uint64) *RandomConfidence {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandomConfidence{min: lo, max: hi, rng: rand.New(rand.NewPCG(seed, seed^0x94d049bb133111eb))}
}

// Confidence returns a uniform draw in [min, max).
func (r *RandomConfidence) Confidence(_, _ int) float64 {
	r.mu.Lock()
	f := r.rng.Float64()
	r.mu.Unlock()
	c := r.min + f*(r.max-r.min)
	if c >= r.max {
		// Float rounding can land exactly on max for some ranges.
		c = r.min
	}
	return c
}

// MarginConfidence derives confidence from agreement: a lone winning vote maps
// to Min and unanimity approaches Max.
type MarginConfidence struct {
	Min, Max float64
}

// Confidence returns Min + (Max-Min)*(winning-1)/total.
func (m MarginConfidence) Confidence(winning, total int) float64 {
	if total <= 0 || winning <= 1 {
		return m.Min
	}
	if winning > total {
		winning = total
	}
	return m.Min + (m.Max-m.Min)*float64(winning-1)/float64(total)
}
