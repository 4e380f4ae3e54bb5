// Package synthetic implements a virtual camera that renders a moving test
// pattern. It needs no hardware and no cgo, which makes it the default device
// for demos, headless runs, and CI.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/moodlens/pkg/camera"
)

// errStopped is returned by ReadFrame after Stop.
var errStopped = errors.New("synthetic: stream stopped")

// Option configures a [Device].
type Option func(*Device)

// WithDeny makes every Open fail with [camera.ErrPermissionDenied], emulating a
// user who refused the browser or OS permission prompt.
func WithDeny(deny bool) Option {
	return func(d *Device) { d.deny = deny }
}

// WithOpenDelay simulates the time the platform takes to answer a request.
func WithOpenDelay(delay time.Duration) Option {
	return func(d *Device) {
		if delay > 0 {
			d.openDelay = delay
		}
	}
}

// WithMaxResolution caps the resolution the device can deliver. Requests above
// the cap are served at the cap.
func WithMaxResolution(width, height int) Option {
	return func(d *Device) {
		if width > 0 && height > 0 {
			d.maxWidth, d.maxHeight = width, height
		}
	}
}

// Device is a virtual camera. It is safe for concurrent use; each Open returns
// an independent stream.
type Device struct {
	deny      bool
	openDelay time.Duration
	maxWidth  int
	maxHeight int

	mu     sync.Mutex
	opened int
}

// New returns a synthetic device with a 1920×1080 ceiling.
func New(opts ...Option) *Device {
	d := &Device{maxWidth: 1920, maxHeight: 1080}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open returns a new stream or [camera.ErrPermissionDenied] when configured to
// deny access.
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if c.Kind != "" && c.Kind != camera.KindVideo {
		return nil, fmt.Errorf("synthetic: kind %q: %w", c.Kind, camera.ErrNoDevice)
	}
	if d.openDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.openDelay):
		}
	}
	if d.deny {
		return nil, fmt.Errorf("synthetic: %w", camera.ErrPermissionDenied)
	}

	w, h := c.IdealWidth, c.IdealHeight
	if w <= 0 || h <= 0 {
		w, h = 1280, 720
	}
	if w > d.maxWidth || h > d.maxHeight {
		w, h = d.maxWidth, d.maxHeight
	}

	d.mu.Lock()
	d.opened++
	id := fmt.Sprintf("synthetic-%s-%d", c.Facing, d.opened)
	d.mu.Unlock()

	return &stream{
		track:   &track{id: id},
		width:   w,
		height:  h,
		started: time.Now(),
	}, nil
}

var _ camera.Device = (*Device)(nil)

type stream struct {
	track   *track
	width   int
	height  int
	started time.Time

	mu  sync.Mutex
	seq uint64
}

func (s *stream) Tracks() []camera.Track { return []camera.Track{s.track} }

func (s *stream) Settings() (int, int) { return s.width, s.height }

// ReadFrame renders a diagonal gradient that drifts over time.
func (s *stream) ReadFrame(ctx context.Context) (camera.Frame, error) {
	if err := ctx.Err(); err != nil {
		return camera.Frame{}, err
	}
	if s.track.stopped() {
		return camera.Frame{}, errStopped
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	now := time.Now()
	shift := int(now.Sub(s.started) / (40 * time.Millisecond))
	data := make([]byte, s.width*s.height*3)
	for y := 0; y < s.height; y++ {
		row := y * s.width * 3
		for x := 0; x < s.width; x++ {
			i := row + x*3
			data[i] = byte(x + shift)
			data[i+1] = byte(y + shift)
			data[i+2] = byte(x + y)
		}
	}
	return camera.Frame{Seq: seq, Timestamp: now, Width: s.width, Height: s.height, Data: data}, nil
}

func (s *stream) Stop() error {
	s.track.Stop()
	return nil
}

type track struct {
	id string

	mu   sync.Mutex
	done bool
}

func (t *track) ID() string        { return t.id }
func (t *track) Kind() camera.Kind { return camera.KindVideo }

func (t *track) Stop() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

func (t *track) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}
