package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/moodlens/pkg/camera"
	"github.com/MrWong99/moodlens/pkg/provider/features"
	"github.com/MrWong99/moodlens/pkg/provider/votes"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// CameraFactory builds a capture device from its config entry.
type CameraFactory func(ProviderEntry) (camera.Device, error)

// FeaturesFactory builds a feature source from its config entry. seed is the
// detection seed (0 for clock seeding).
type FeaturesFactory func(entry ProviderEntry, seed uint64) (features.Source, error)

// VotesFactory builds a vote source from its config entry.
type VotesFactory func(entry ProviderEntry, seed uint64) (votes.Source, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	camera   map[string]CameraFactory
	features map[string]FeaturesFactory
	votes    map[string]VotesFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		camera:   make(map[string]CameraFactory),
		features: make(map[string]FeaturesFactory),
		votes:    make(map[string]VotesFactory),
	}
}

// RegisterCamera registers a camera backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCamera(name string, factory CameraFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.camera[name] = factory
}

// RegisterFeatures registers a feature source factory under name.
func (r *Registry) RegisterFeatures(name string, factory FeaturesFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features[name] = factory
}

// RegisterVotes registers a vote source factory under name.
func (r *Registry) RegisterVotes(name string, factory VotesFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.votes[name] = factory
}

// CreateCamera instantiates a camera device using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateCamera(entry ProviderEntry) (camera.Device, error) {
	r.mu.RLock()
	factory, ok := r.camera[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: camera/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateFeatures instantiates a feature source using the factory registered under entry.Name.
func (r *Registry) CreateFeatures(entry ProviderEntry, seed uint64) (features.Source, error) {
	r.mu.RLock()
	factory, ok := r.features[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: features/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, seed)
}

// CreateVotes instantiates a vote source using the factory registered under entry.Name.
func (r *Registry) CreateVotes(entry ProviderEntry, seed uint64) (votes.Source, error) {
	r.mu.RLock()
	factory, ok := r.votes[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: votes/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, seed)
}

// Cameras returns the registered camera backend names, sorted.
func (r *Registry) Cameras() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.camera))
	for n := range r.camera {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
