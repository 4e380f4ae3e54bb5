// Package mock provides a test double for votes.Source.
//
// Sequence is replayed in order and wraps around, so a five-element sequence
// scripts every cycle of a five-vote ensemble identically.
package mock

import (
	"sync"

	"github.com/MrWong99/moodlens/pkg/provider/votes"
	"github.com/MrWong99/moodlens/pkg/types"
)

// VoteCall records a single invocation of Source.Vote.
type VoteCall struct {
	Features  types.FeatureVector
	NumLabels int
}

// Source is a mock implementation of votes.Source.
type Source struct {
	mu sync.Mutex

	// Sequence is the scripted list of vote indices. Empty means always 0.
	Sequence []int

	// VoteCalls records every call to Vote in order.
	VoteCalls []VoteCall

	pos int
}

// Vote records the call and returns the next index from Sequence.
func (s *Source) Vote(fv types.FeatureVector, numLabels int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VoteCalls = append(s.VoteCalls, VoteCall{Features: fv, NumLabels: numLabels})
	if len(s.Sequence) == 0 {
		return 0
	}
	v := s.Sequence[s.pos%len(s.Sequence)]
	s.pos++
	return v
}

// CallCount returns the number of Vote calls. Thread-safe.
func (s *Source) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.VoteCalls)
}

var _ votes.Source = (*Source)(nil)
