// Package types defines the shared value types used across all moodlens packages.
//
// These types are the lingua franca between feature sources, vote sources, the
// ensemble voter, the scheduler, and the controller. Each package keeps its own
// domain types; cross-cutting data lives here to avoid circular imports.
package types

import (
	"fmt"
	"time"
)

// FeatureCount is the fixed number of components in a [FeatureVector].
const FeatureCount = 5

// Feature indexes one named component of a [FeatureVector].
type Feature int

const (
	EyeDistance Feature = iota
	MouthWidth
	BrowRaise
	LipCornerUp
	LipCornerDown
)

// featureNames is indexed by Feature.
var featureNames = [FeatureCount]string{
	"eyeDistance",
	"mouthWidth",
	"browRaise",
	"lipCornerUp",
	"lipCornerDown",
}

// String returns the schema name of the feature (e.g. "mouthWidth").
func (f Feature) String() string {
	if f < 0 || int(f) >= FeatureCount {
		return fmt.Sprintf("feature(%d)", int(f))
	}
	return featureNames[f]
}

// FeatureNames returns the fixed schema in vector order.
func FeatureNames() []string {
	out := make([]string, FeatureCount)
	copy(out, featureNames[:])
	return out
}

// FeatureVector is an ordered set of facial measurements, each normalised to
// [0, 1). It is an array, so copies are independent and a produced vector can
// never be mutated by a consumer.
type FeatureVector [FeatureCount]float64

// Get returns the value of a single named component.
func (v FeatureVector) Get(f Feature) float64 { return v[f] }

// Valid reports whether every component lies in [0, 1).
func (v FeatureVector) Valid() bool {
	for _, x := range v {
		if x < 0 || x >= 1 {
			return false
		}
	}
	return true
}

// Map returns the vector keyed by schema name, for JSON presentation.
func (v FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, FeatureCount)
	for i, x := range v {
		m[featureNames[i]] = x
	}
	return m
}

// Label is an emotion label produced by the classifier.
type Label string

const (
	LabelHappy     Label = "Happy"
	LabelSad       Label = "Sad"
	LabelAngry     Label = "Angry"
	LabelSurprised Label = "Surprised"
	LabelNeutral   Label = "Neutral"
	LabelDisgusted Label = "Disgusted"
	LabelFearful   Label = "Fearful"
)

// DefaultLabels returns the seven emotion labels in their canonical index order.
// Vote indices refer to positions in this slice.
func DefaultLabels() []Label {
	return []Label{
		LabelHappy,
		LabelSad,
		LabelAngry,
		LabelSurprised,
		LabelNeutral,
		LabelDisgusted,
		LabelFearful,
	}
}

// ClassificationResult is the output of one classification cycle.
type ClassificationResult struct {
	// Label is the winning emotion.
	Label Label `json:"label"`

	// Confidence lies in [0.5, 1.0).
	Confidence float64 `json:"confidence"`

	// Votes is the number of votes the winning label received.
	Votes int `json:"votes"`

	// At is when the result was produced.
	At time.Time `json:"at"`
}
