// Package random implements a votes.Source that ignores the features and picks
// a label index uniformly. It is the stand-in for a trained random forest.
package random

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/moodlens/pkg/provider/votes"
	"github.com/MrWong99/moodlens/pkg/types"
)

// Option configures a [Source].
type Option func(*Source)

// WithSeed makes the vote sequence reproducible. Zero keeps the time-based seed.
func WithSeed(seed uint64) Option {
	return func(s *Source) {
		if seed != 0 {
			s.rng = rand.New(rand.NewPCG(seed, seed^0xbf58476d1ce4e5b9))
		}
	}
}

// Source draws uniform votes. It is safe for concurrent use.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a random vote Source.
func New(opts ...Option) *Source {
	now := uint64(time.Now().UnixNano())
	s := &Source{rng: rand.New(rand.NewPCG(now, now<<1|1))}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Vote returns an index in [0, numLabels), or 0 when numLabels < 1.
func (s *Source) Vote(_ types.FeatureVector, numLabels int) int {
	if numLabels < 1 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(numLabels)
}

var _ votes.Source = (*Source)(nil)
