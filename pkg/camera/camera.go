// Package camera defines the capture device boundary for moodlens.
//
// A [Device] is the only component allowed to touch physical (or virtual)
// camera hardware. Opening a device yields a [Stream], a live handle made of
// one or more media tracks, which must be stopped exactly once by its owner.
// Backends live in sub-packages:
//
//   - synthetic: an always-available virtual camera producing a test pattern.
//   - gocv: an OpenCV webcam (build tag "gocv").
//   - gst: a V4L2 webcam via GStreamer (build tag "gstreamer").
//   - mock: a test double that records calls.
//
// Implementations must be safe for concurrent use.
package camera

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by [Device.Open] when the platform refuses
// access to the camera.
var ErrPermissionDenied = errors.New("camera: permission denied")

// ErrNoDevice is returned by [Device.Open] when no device satisfies the
// requested constraints.
var ErrNoDevice = errors.New("camera: no device found")

// Kind is the media kind requested from a device.
type Kind string

const (
	KindVideo Kind = "video"
)

// Facing selects which camera to prefer on devices with more than one.
type Facing string

const (
	// FacingUser is the front camera pointing at the user.
	FacingUser Facing = "user"

	// FacingEnvironment is the rear camera.
	FacingEnvironment Facing = "environment"
)

// IsValid reports whether f is a recognised facing mode.
func (f Facing) IsValid() bool {
	return f == FacingUser || f == FacingEnvironment
}

// Constraints describes the stream requested from a [Device]. Ideal values are
// preferences; a backend may deliver a different resolution.
type Constraints struct {
	Kind        Kind
	Facing      Facing
	IdealWidth  int
	IdealHeight int
}

// DefaultConstraints returns the front-facing 1280×720 video request.
func DefaultConstraints() Constraints {
	return Constraints{
		Kind:        KindVideo,
		Facing:      FacingUser,
		IdealWidth:  1280,
		IdealHeight: 720,
	}
}

// Frame is a single captured video frame.
type Frame struct {
	// Seq is a monotonic sequence number within the stream.
	Seq uint64

	// Timestamp is when the frame was captured.
	Timestamp time.Time

	Width  int
	Height int

	// Data holds packed RGB pixels (Width*Height*3 bytes) when the backend
	// provides pixel access; it may be nil.
	Data []byte
}

// Track is one media track of a live stream.
type Track interface {
	// ID identifies the track within its stream.
	ID() string

	// Kind reports the media kind of the track.
	Kind() Kind

	// Stop ends the track. Calling Stop more than once is safe.
	Stop()
}

// Stream is the live handle returned by [Device.Open]. Ownership transfers to
// the caller, which must call Stop on every exit path.
type Stream interface {
	// Tracks returns the media tracks of the stream.
	Tracks() []Track

	// Settings reports the resolution actually delivered.
	Settings() (width, height int)

	// ReadFrame returns the most recent frame. It returns an error once the
	// stream has been stopped.
	ReadFrame(ctx context.Context) (Frame, error)

	// Stop stops every track and releases the underlying device. Calling Stop
	// more than once is safe and returns nil.
	Stop() error
}

// Device opens camera streams.
type Device interface {
	// Open requests a stream matching c. It blocks until the platform answers.
	// A refusal is reported as an error wrapping [ErrPermissionDenied] or
	// [ErrNoDevice].
	Open(ctx context.Context, c Constraints) (Stream, error)
}
