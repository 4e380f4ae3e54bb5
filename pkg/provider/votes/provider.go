// Package votes defines the Source interface for ensemble votes.
//
// Each call to Vote is one independent opinion, analogous to a single decision
// tree of a random forest, expressed as an index into the label set. The
// random implementation ignores the features and draws uniformly; a real model
// would evaluate one tree per call.
package votes

import "github.com/MrWong99/moodlens/pkg/types"

// Source casts votes over a label set of a given size.
type Source interface {
	// Vote returns an index in [0, numLabels). fv must not be modified or
	// retained.
	Vote(fv types.FeatureVector, numLabels int) int
}
