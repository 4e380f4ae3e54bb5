// Package stub implements a features.Source that draws every component
// uniformly from [0, 1). It stands in for a real landmark detector.
package stub

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/moodlens/pkg/provider/features"
	"github.com/MrWong99/moodlens/pkg/types"
)

// Option configures a [Source].
type Option func(*Source)

// WithSeed makes the generated sequence reproducible. A zero seed keeps the
// time-based default.
func WithSeed(seed uint64) Option {
	return func(s *Source) {
		if seed != 0 {
			s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		}
	}
}

// Source is a random feature generator. It is safe for concurrent use.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a stub Source.
func New(opts ...Option) *Source {
	now := uint64(time.Now().UnixNano())
	s := &Source{rng: rand.New(rand.NewPCG(now, now>>1))}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Extract returns a fresh vector. It never fails unless ctx is done.
func (s *Source) Extract(ctx context.Context) (types.FeatureVector, error) {
	if err := ctx.Err(); err != nil {
		return types.FeatureVector{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var v types.FeatureVector
	for i := range v {
		v[i] = s.rng.Float64()
	}
	return v, nil
}

var _ features.Source = (*Source)(nil)
