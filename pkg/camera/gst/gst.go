//go:build gstreamer

// Package gst implements a camera.Device backed by a GStreamer V4L2 pipeline.
//
// Building this package requires the GStreamer development libraries and the
// "gstreamer" build tag:
//
//	go build -tags gstreamer ./...
package gst

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/MrWong99/moodlens/pkg/camera"
)

// sinkName is the appsink element name in the launch string.
const sinkName = "moodlens_sink"

// Option configures a [Device].
type Option func(*Device)

// WithDevicePath maps a facing mode to a V4L2 device node. Defaults:
// user → /dev/video0, environment → /dev/video2.
func WithDevicePath(f camera.Facing, path string) Option {
	return func(d *Device) {
		if path != "" {
			d.paths[f] = path
		}
	}
}

// Device opens V4L2 webcams through GStreamer.
type Device struct {
	paths map[camera.Facing]string
	once  sync.Once
}

// New returns a Device with the default facing→path mapping.
func New(opts ...Option) *Device {
	d := &Device{paths: map[camera.Facing]string{
		camera.FacingUser:        "/dev/video0",
		camera.FacingEnvironment: "/dev/video2",
	}}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open builds "v4l2src ! videoconvert ! videoscale ! caps ! appsink" and sets
// it to PLAYING. A pipeline that fails to start is reported as
// [camera.ErrNoDevice].
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.once.Do(func() { gst.Init(nil) })

	path, ok := d.paths[c.Facing]
	if !ok {
		path = d.paths[camera.FacingUser]
	}
	w, h := c.IdealWidth, c.IdealHeight
	if w <= 0 || h <= 0 {
		w, h = 1280, 720
	}

	launch := fmt.Sprintf(
		"v4l2src device=%s ! videoconvert ! videoscale ! video/x-raw,format=RGB,width=%d,height=%d ! appsink name=%s max-buffers=1 drop=true sync=false",
		path, w, h, sinkName,
	)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("gst: build pipeline for %s: %v: %w", path, err, camera.ErrNoDevice)
	}
	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("gst: lookup appsink: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("gst: start %s: %v: %w", path, err, camera.ErrNoDevice)
	}

	slog.Debug("gst: pipeline playing", "device", path, "width", w, "height", h)
	return &stream{
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
		track:    &track{id: "v4l2:" + path},
		width:    w,
		height:   h,
	}, nil
}

var _ camera.Device = (*Device)(nil)

type stream struct {
	track  *track
	width  int
	height int

	mu       sync.Mutex
	pipeline *gst.Pipeline
	sink     *app.Sink
	seq      uint64
	stopped  bool
}

func (s *stream) Tracks() []camera.Track { return []camera.Track{s.track} }

func (s *stream) Settings() (int, int) { return s.width, s.height }

// ReadFrame pulls the most recent sample from the appsink.
func (s *stream) ReadFrame(ctx context.Context) (camera.Frame, error) {
	if err := ctx.Err(); err != nil {
		return camera.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return camera.Frame{}, fmt.Errorf("gst: stream stopped")
	}

	sample := s.sink.PullSample()
	if sample == nil {
		return camera.Frame{}, fmt.Errorf("gst: no sample available")
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return camera.Frame{}, fmt.Errorf("gst: sample has no buffer")
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())
	buffer.Unmap()

	s.seq++
	return camera.Frame{Seq: s.seq, Timestamp: time.Now(), Width: s.width, Height: s.height, Data: data}, nil
}

// Stop moves the pipeline to NULL, which releases the V4L2 device.
func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.track.Stop()
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gst: stop pipeline: %w", err)
	}
	return nil
}

type track struct {
	id    string
	ended atomic.Bool
}

func (t *track) ID() string        { return t.id }
func (t *track) Kind() camera.Kind { return camera.KindVideo }
func (t *track) Stop()             { t.ended.Store(true) }
