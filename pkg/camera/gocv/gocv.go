//go:build gocv

// Package gocv implements a camera.Device backed by an OpenCV VideoCapture.
//
// Building this package requires OpenCV 4 and the "gocv" build tag:
//
//	go build -tags gocv ./...
package gocv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/MrWong99/moodlens/pkg/camera"
)

// Option configures a [Device].
type Option func(*Device)

// WithDeviceIndex maps a facing mode to an OpenCV device index. By default the
// user-facing camera is index 0 and the environment camera is index 1.
func WithDeviceIndex(f camera.Facing, index int) Option {
	return func(d *Device) { d.indices[f] = index }
}

// Device opens webcams through OpenCV.
type Device struct {
	indices map[camera.Facing]int
}

// New returns a Device with the default facing→index mapping.
func New(opts ...Option) *Device {
	d := &Device{indices: map[camera.Facing]int{
		camera.FacingUser:        0,
		camera.FacingEnvironment: 1,
	}}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open opens the device mapped to c.Facing and requests the ideal resolution.
// OpenCV cannot tell a denied permission from a missing device, so both are
// reported as [camera.ErrNoDevice].
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, ok := d.indices[c.Facing]
	if !ok {
		idx = 0
	}

	vc, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return nil, fmt.Errorf("gocv: open device %d: %v: %w", idx, err, camera.ErrNoDevice)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("gocv: device %d not opened: %w", idx, camera.ErrNoDevice)
	}
	if c.IdealWidth > 0 && c.IdealHeight > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.IdealWidth))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.IdealHeight))
	}

	return &stream{
		vc:     vc,
		track:  &track{id: fmt.Sprintf("gocv-%d", idx)},
		width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
		height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}

var _ camera.Device = (*Device)(nil)

type stream struct {
	track  *track
	width  int
	height int

	mu      sync.Mutex
	vc      *gocv.VideoCapture
	seq     uint64
	stopped bool
}

func (s *stream) Tracks() []camera.Track { return []camera.Track{s.track} }

func (s *stream) Settings() (int, int) { return s.width, s.height }

func (s *stream) ReadFrame(ctx context.Context) (camera.Frame, error) {
	if err := ctx.Err(); err != nil {
		return camera.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return camera.Frame{}, fmt.Errorf("gocv: stream stopped")
	}

	bgr := gocv.NewMat()
	defer bgr.Close()
	if ok := s.vc.Read(&bgr); !ok || bgr.Empty() {
		return camera.Frame{}, fmt.Errorf("gocv: read frame failed")
	}
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)

	s.seq++
	return camera.Frame{
		Seq:       s.seq,
		Timestamp: time.Now(),
		Width:     rgb.Cols(),
		Height:    rgb.Rows(),
		Data:      rgb.ToBytes(),
	}, nil
}

func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.track.Stop()
	return s.vc.Close()
}

// track is the single video track of a VideoCapture. Stopping it only marks
// it ended; the stream closes the capture.
type track struct {
	id    string
	ended atomic.Bool
}

func (t *track) ID() string        { return t.id }
func (t *track) Kind() camera.Kind { return camera.KindVideo }
func (t *track) Stop()             { t.ended.Store(true) }
