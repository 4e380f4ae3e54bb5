package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/moodlens/internal/observe"
	"github.com/MrWong99/moodlens/pkg/provider/features"
	"github.com/MrWong99/moodlens/pkg/types"
)

// FeaturesFallback implements [features.Source] over an ordered list of
// detectors. A frame without a face ([features.ErrNoFace]) is reported as-is
// rather than treated as a detector failure.
type FeaturesFallback struct {
	group   *FallbackGroup[features.Source]
	metrics *observe.Metrics
}

var _ features.Source = (*FeaturesFallback)(nil)

// NewFeaturesFallback creates a [FeaturesFallback] preferring primary.
// m may be nil, in which case [observe.DefaultMetrics] is used.
func NewFeaturesFallback(primary features.Source, primaryName string, cfg FallbackConfig, m *observe.Metrics) *FeaturesFallback {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	inner := cfg.Terminal
	cfg.Terminal = func(err error) bool {
		return errors.Is(err, features.ErrNoFace) || (inner != nil && inner(err))
	}
	return &FeaturesFallback{group: NewFallbackGroup(primary, primaryName, cfg), metrics: m}
}

// AddFallback registers another detector, tried after the earlier ones.
func (f *FeaturesFallback) AddFallback(name string, src features.Source) {
	f.group.AddFallback(name, src)
}

// Names returns the detectors in the order they are tried.
func (f *FeaturesFallback) Names() []string { return f.group.Names() }

// Extract returns the first vector produced by a healthy detector.
func (f *FeaturesFallback) Extract(ctx context.Context) (types.FeatureVector, error) {
	fv, served, err := ExecuteWithResult(f.group, func(s features.Source) (types.FeatureVector, error) {
		return s.Extract(ctx)
	})
	if err == nil && served != f.group.entries[0].name {
		f.metrics.RecordProviderError(ctx, f.group.entries[0].name, "failover")
	}
	return fv, err
}
