// Package mock provides test doubles for the camera package interfaces.
//
// Use Device to script the outcome of Open and to inspect the constraints the
// caller asked for. Use Stream to verify that every track was stopped.
//
// Example:
//
//	dev := &mock.Device{}
//	stream, _ := dev.Open(ctx, camera.DefaultConstraints())
//	_ = stream.Stop()
//	// dev.Streams()[0].StopCallCount == 1
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/moodlens/pkg/camera"
)

// OpenCall records a single invocation of Device.Open.
type OpenCall struct {
	// Constraints is the value passed to Open.
	Constraints camera.Constraints
}

// Device is a mock implementation of camera.Device.
type Device struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by every Open call.
	OpenErr error

	// Block, if non-nil, makes Open wait until the channel is closed or the
	// context is cancelled. Used to observe the Requesting state.
	Block chan struct{}

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall

	streams []*Stream
}

// Open records the call and returns a new Stream or OpenErr.
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	d.mu.Lock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Constraints: c})
	block := d.Block
	openErr := d.OpenErr
	n := len(d.OpenCalls)
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	s := &Stream{
		width:  c.IdealWidth,
		height: c.IdealHeight,
	}
	s.tracks = []*Track{{id: fmt.Sprintf("video-%d", n)}}

	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

// Streams returns every stream handed out so far.
func (d *Device) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Stream, len(d.streams))
	copy(out, d.streams)
	return out
}

// OpenCallCount returns the number of Open calls. Thread-safe.
func (d *Device) OpenCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// Live returns the number of streams that have not been stopped.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		if !s.Stopped() {
			n++
		}
	}
	return n
}

var _ camera.Device = (*Device)(nil)

// Stream is a mock implementation of camera.Stream.
type Stream struct {
	mu      sync.Mutex
	tracks  []*Track
	width   int
	height  int
	seq     uint64
	stopped bool

	// StopCallCount is the number of times Stop was called.
	StopCallCount int
}

// Tracks returns the stream's tracks.
func (s *Stream) Tracks() []camera.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]camera.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

// Settings returns the constraints' ideal resolution.
func (s *Stream) Settings() (int, int) {
	return s.width, s.height
}

// ReadFrame returns an empty frame with an increasing sequence number.
func (s *Stream) ReadFrame(_ context.Context) (camera.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return camera.Frame{}, errors.New("mock: stream stopped")
	}
	s.seq++
	return camera.Frame{Seq: s.seq, Timestamp: time.Now(), Width: s.width, Height: s.height}, nil
}

// Stop records the call and stops every track.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCallCount++
	s.stopped = true
	for _, t := range s.tracks {
		t.Stop()
	}
	return nil
}

// Stopped reports whether Stop has been called.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

var _ camera.Stream = (*Stream)(nil)

// Track is a mock implementation of camera.Track.
type Track struct {
	mu      sync.Mutex
	id      string
	stopped bool
}

func (t *Track) ID() string { return t.id }

func (t *Track) Kind() camera.Kind { return camera.KindVideo }

// Stop marks the track stopped.
func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Stopped reports whether Stop has been called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

var _ camera.Track = (*Track)(nil)
