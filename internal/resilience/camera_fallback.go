package resilience

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/moodlens/pkg/camera"
)

// CameraFallback implements [camera.Device] over an ordered list of capture
// backends, for example gocv with the synthetic device as a last resort. A
// denied permission ends the attempt immediately; only missing or broken
// devices fail over.
type CameraFallback struct {
	group *FallbackGroup[camera.Device]
}

var _ camera.Device = (*CameraFallback)(nil)

// NewCameraFallback creates a [CameraFallback] preferring primary.
func NewCameraFallback(primary camera.Device, primaryName string, cfg FallbackConfig) *CameraFallback {
	inner := cfg.Terminal
	cfg.Terminal = func(err error) bool {
		return errors.Is(err, camera.ErrPermissionDenied) || (inner != nil && inner(err))
	}
	return &CameraFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (c *CameraFallback) AddFallback(name string, dev camera.Device) {
	c.group.AddFallback(name, dev)
}

// Open opens the first backend that produces a stream.
func (c *CameraFallback) Open(ctx context.Context, cons camera.Constraints) (camera.Stream, error) {
	s, served, err := ExecuteWithResult(c.group, func(d camera.Device) (camera.Stream, error) {
		return d.Open(ctx, cons)
	})
	if err != nil {
		if errors.Is(err, ErrAllFailed) {
			return nil, errors.Join(camera.ErrNoDevice, err)
		}
		return nil, err
	}
	slog.Debug("resilience: camera opened", "backend", served)
	return s, nil
}
