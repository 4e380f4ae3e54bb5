// Package features defines the Source interface for facial feature extraction.
//
// A Source produces one [types.FeatureVector] per call. A real implementation
// wraps a face/landmark detector reading from the live camera stream; the stub
// implementation draws each component uniformly from [0, 1).
//
// The scheduler calls Extract from a single goroutine, but implementations
// must still be safe for concurrent use because a [Source] may be shared by a
// fallback group and health checks.
package features

import (
	"context"
	"errors"

	"github.com/MrWong99/moodlens/pkg/types"
)

// ErrNoFace is returned by detectors that found no face in the current frame.
var ErrNoFace = errors.New("features: no face detected")

// Source extracts a facial feature vector.
type Source interface {
	// Extract returns a vector whose components all lie in [0, 1). It must
	// return promptly; the scheduler calls it once per tick.
	Extract(ctx context.Context) (types.FeatureVector, error)
}

// SourceFunc adapts a plain function to [Source].
type SourceFunc func(ctx context.Context) (types.FeatureVector, error)

// Extract calls f(ctx).
func (f SourceFunc) Extract(ctx context.Context) (types.FeatureVector, error) { return f(ctx) }
