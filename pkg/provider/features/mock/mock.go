// Package mock provides a test double for features.Source.
//
// Vectors are returned in order and the last one repeats once the script is
// exhausted. Set ExtractErr to simulate a failing detector.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/moodlens/pkg/provider/features"
	"github.com/MrWong99/moodlens/pkg/types"
)

// Source is a mock implementation of features.Source.
type Source struct {
	mu sync.Mutex

	// Vectors is the scripted sequence of results. When empty, Extract returns
	// a vector of 0.5 values.
	Vectors []types.FeatureVector

	// ExtractErr, if non-nil, is returned by every Extract call.
	ExtractErr error

	// Hook, if non-nil, runs at the start of every Extract call.
	Hook func()

	calls int
}

// Extract records the call and returns the next scripted vector.
func (s *Source) Extract(_ context.Context) (types.FeatureVector, error) {
	s.mu.Lock()
	hook := s.Hook
	n := s.calls
	s.calls++
	err := s.ExtractErr
	var v types.FeatureVector
	switch {
	case len(s.Vectors) == 0:
		for i := range v {
			v[i] = 0.5
		}
	case n < len(s.Vectors):
		v = s.Vectors[n]
	default:
		v = s.Vectors[len(s.Vectors)-1]
	}
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return types.FeatureVector{}, err
	}
	return v, nil
}

// CallCount returns the number of Extract calls. Thread-safe.
func (s *Source) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// SetErr replaces ExtractErr. Thread-safe.
func (s *Source) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExtractErr = err
}

var _ features.Source = (*Source)(nil)
