// Package ensemble turns independent label votes into one classification.
//
// A [Voter] draws a fixed number of votes from a [votes.Source], tallies them
// per label, and picks the winner with a strict-greater fold in vote order:
// the first label to reach the running maximum keeps the lead, and a later
// label that only ties it never takes over. The confidence of the result comes
// from a pluggable [ConfidencePolicy] and always lies in [Min, Max).
package ensemble

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/moodlens/pkg/provider/votes"
	"github.com/MrWong99/moodlens/pkg/types"
)

// DefaultVotesPerCycle is the ensemble size used when Config leaves it zero.
const DefaultVotesPerCycle = 5

// ErrVoteOutOfRange is returned when a vote index falls outside the label set.
var ErrVoteOutOfRange = errors.New("ensemble: vote out of range")

// Tally counts votes per label index for a single cycle.
type Tally struct {
	// Counts is indexed by label; len(Counts) equals the label set size.
	Counts []int

	// Votes holds the raw vote sequence in draw order.
	Votes []int
}

// Total returns the number of votes in the tally.
func (t Tally) Total() int {
	n := 0
	for _, c := range t.Counts {
		n += c
	}
	return n
}

// NonZero returns the labels that received at least one vote.
func (t Tally) NonZero() map[int]int {
	m := make(map[int]int)
	for i, c := range t.Counts {
		if c > 0 {
			m[i] = c
		}
	}
	return m
}

// Fold tallies seq over numLabels labels and returns the winning index. The
// winner is the label whose count first exceeded every count seen so far; ties
// keep the earlier leader. An empty sequence yields winner 0.
func Fold(seq []int, numLabels int) (int, Tally, error) {
	t := Tally{Counts: make([]int, numLabels), Votes: make([]int, 0, len(seq))}
	winner, best := 0, 0
	for _, v := range seq {
		if v < 0 || v >= numLabels {
			return 0, Tally{}, fmt.Errorf("%w: %d not in [0,%d)", ErrVoteOutOfRange, v, numLabels)
		}
		t.Votes = append(t.Votes, v)
		t.Counts[v]++
		if t.Counts[v] > best {
			best = t.Counts[v]
			winner = v
		}
	}
	return winner, t, nil
}

// Config configures a [Voter].
type Config struct {
	// Labels is the fixed label set. Defaults to [types.DefaultLabels].
	Labels []types.Label

	// VotesPerCycle is the ensemble size. Defaults to 5.
	VotesPerCycle int

	// Votes supplies the individual opinions. Required.
	Votes votes.Source

	// Confidence computes the result confidence. Defaults to a
	// [RandomConfidence] over [0.5, 1.0).
	Confidence ConfidencePolicy

	// Now stamps results. Defaults to time.Now.
	Now func() time.Time
}

// Voter combines votes into a [types.ClassificationResult]. A Voter holds no
// per-cycle state; it is safe for concurrent use if its sources are.
type Voter struct {
	labels     []types.Label
	size       int
	votes      votes.Source
	confidence ConfidencePolicy
	now        func() time.Time
}

// New validates cfg and returns a Voter.
func New(cfg Config) (*Voter, error) {
	if cfg.Votes == nil {
		return nil, errors.New("ensemble: vote source is required")
	}
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = types.DefaultLabels()
	}
	seen := make(map[types.Label]bool, len(labels))
	for _, l := range labels {
		if l == "" {
			return nil, errors.New("ensemble: empty label")
		}
		if seen[l] {
			return nil, fmt.Errorf("ensemble: duplicate label %q", l)
		}
		seen[l] = true
	}
	size := cfg.VotesPerCycle
	if size == 0 {
		size = DefaultVotesPerCycle
	}
	if size < 0 {
		return nil, fmt.Errorf("ensemble: votes per cycle %d must be positive", size)
	}
	conf := cfg.Confidence
	if conf == nil {
		conf = NewRandomConfidence(DefaultConfidenceMin, DefaultConfidenceMax, 0)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	cp := make([]types.Label, len(labels))
	copy(cp, labels)
	return &Voter{labels: cp, size: size, votes: cfg.Votes, confidence: conf, now: now}, nil
}

// Labels returns a copy of the voter's label set.
func (v *Voter) Labels() []types.Label {
	out := make([]types.Label, len(v.labels))
	copy(out, v.labels)
	return out
}

// VotesPerCycle returns the ensemble size.
func (v *Voter) VotesPerCycle() int { return v.size }

// Vote draws the ensemble's votes for fv and returns the winning label. fv is
// passed by value and never retained.
func (v *Voter) Vote(fv types.FeatureVector) (types.ClassificationResult, Tally, error) {
	seq := make([]int, v.size)
	for i := range seq {
		seq[i] = v.votes.Vote(fv, len(v.labels))
	}
	winner, tally, err := Fold(seq, len(v.labels))
	if err != nil {
		return types.ClassificationResult{}, Tally{}, err
	}
	won := tally.Counts[winner]
	return types.ClassificationResult{
		Label:      v.labels[winner],
		Confidence: v.confidence.Confidence(won, v.size),
		Votes:      won,
		At:         v.now(),
	}, tally, nil
}
