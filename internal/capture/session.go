// Package capture owns the live binding to a camera device.
//
// A [Session] is the only component that opens or stops a [camera.Stream].
// Acquisition failures are reported as state ([StatusDenied] plus a
// user-facing message), never as errors, so callers can always recover by
// acquiring again.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/moodlens/internal/observe"
	"github.com/MrWong99/moodlens/pkg/camera"
)

// DeniedMessage is the user-facing message set when acquisition fails.
const DeniedMessage = "Could not access the camera. Check permissions."

// Status is the lifecycle state of a [Session].
type Status int

const (
	StatusIdle Status = iota
	StatusRequesting
	StatusActive
	StatusDenied
	StatusStopped
)

var statusNames = [...]string{"idle", "requesting", "active", "denied", "stopped"}

// String returns the lower-case status name.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Outcome labels recorded on the acquisitions counter.
const (
	outcomeActive    = "active"
	outcomeDenied    = "denied"
	outcomeCancelled = "cancelled"
	outcomeSkipped   = "skipped"
)

// Info is a point-in-time view of a [Session].
type Info struct {
	Status       Status
	SessionID    string
	ErrorMessage string
}

// Config configures a [Session].
type Config struct {
	// Device is the capture backend. Required.
	Device camera.Device

	// Constraints is the request sent to the device. Defaults to
	// [camera.DefaultConstraints].
	Constraints camera.Constraints

	// OnChange is called after every status transition. It runs on the
	// goroutine that caused the transition, with the session lock held, and
	// must not call back into the Session.
	OnChange func(Info)

	// Metrics records acquisition telemetry. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session manages acquisition and release of one camera stream at a time.
// All exported methods are safe for concurrent use.
type Session struct {
	device      camera.Device
	constraints camera.Constraints
	onChange    func(Info)
	metrics     *observe.Metrics

	// acquireMu serialises Acquire calls.
	acquireMu sync.Mutex

	mu        sync.Mutex
	status    Status
	stream    camera.Stream
	id        string
	errMsg    string
	attemptID uint64
}

// New returns an idle Session.
func New(cfg Config) (*Session, error) {
	if cfg.Device == nil {
		return nil, errors.New("capture: device is required")
	}
	c := cfg.Constraints
	if c == (camera.Constraints{}) {
		c = camera.DefaultConstraints()
	}
	if c.Kind == "" {
		c.Kind = camera.KindVideo
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Session{
		device:      cfg.Device,
		constraints: c,
		onChange:    cfg.OnChange,
		metrics:     m,
	}, nil
}

// Info returns the current status, session ID and error message together.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{Status: s.status, SessionID: s.id, ErrorMessage: s.errMsg}
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ID returns the ID of the current acquisition, or "" when none is live.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// ErrorMessage returns the user-facing message of the last failed
// acquisition. It is cleared by the next Acquire.
func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Stream returns the live stream, or nil unless the status is Active.
func (s *Session) Stream() camera.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Acquire requests the device and blocks until it answers. It returns the
// resulting status: [StatusActive] on success and [StatusDenied] when the
// device refused, is missing, or ctx ended first. Acquiring while Active is a
// no-op that returns StatusActive.
func (s *Session) Acquire(ctx context.Context) Status {
	s.acquireMu.Lock()
	defer s.acquireMu.Unlock()

	s.mu.Lock()
	if s.status == StatusActive {
		s.mu.Unlock()
		s.metrics.RecordAcquisition(ctx, 0, outcomeSkipped)
		return StatusActive
	}
	s.attemptID++
	attempt := s.attemptID
	s.errMsg = ""
	s.setStatusLocked(StatusRequesting)
	s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "capture.acquire")
	defer span.End()
	start := time.Now()
	stream, err := s.device.Open(ctx, s.constraints)
	elapsed := time.Since(start)
	observe.RecordError(span, err)

	s.mu.Lock()
	// Release ran while the device was answering: the caller no longer
	// wants the stream.
	if s.attemptID != attempt {
		s.mu.Unlock()
		if stream != nil {
			_ = stream.Stop()
		}
		s.metrics.RecordAcquisition(ctx, elapsed, outcomeCancelled)
		return s.Status()
	}
	if err != nil {
		s.errMsg = DeniedMessage
		s.setStatusLocked(StatusDenied)
		s.mu.Unlock()

		outcome := outcomeDenied
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = outcomeCancelled
		}
		s.metrics.RecordAcquisition(ctx, elapsed, outcome)
		slog.Warn("capture: acquisition failed",
			"facing", s.constraints.Facing,
			"duration", elapsed,
			"err", err,
		)
		return StatusDenied
	}

	id := uuid.NewString()
	s.stream = stream
	s.id = id
	s.setStatusLocked(StatusActive)
	s.mu.Unlock()

	s.metrics.RecordAcquisition(ctx, elapsed, outcomeActive)
	s.metrics.ActiveCameras.Add(ctx, 1)
	w, h := stream.Settings()
	slog.Info("capture: camera active",
		"session_id", id,
		"tracks", len(stream.Tracks()),
		"width", w,
		"height", h,
		"duration", elapsed,
	)
	return StatusActive
}

// Release stops every track, detaches the stream and moves to
// [StatusStopped]. It also abandons an acquisition that is still waiting for
// the device. Release is a no-op when no stream is live or pending.
func (s *Session) Release() {
	s.mu.Lock()
	switch s.status {
	case StatusRequesting:
		// The pending Acquire sees the new attempt ID and discards its stream.
		s.attemptID++
		s.setStatusLocked(StatusStopped)
		s.mu.Unlock()
		slog.Info("capture: pending acquisition abandoned")
		return
	case StatusActive:
	default:
		s.mu.Unlock()
		return
	}

	stream := s.stream
	id := s.id
	s.stream = nil
	s.id = ""
	s.setStatusLocked(StatusStopped)
	s.mu.Unlock()

	for _, t := range stream.Tracks() {
		t.Stop()
	}
	if err := stream.Stop(); err != nil {
		slog.Warn("capture: stream stop failed", "session_id", id, "err", err)
	}
	s.metrics.ActiveCameras.Add(context.Background(), -1)
	slog.Info("capture: camera released", "session_id", id)
}

// setStatusLocked updates the status and notifies OnChange. Must be called
// with s.mu held.
func (s *Session) setStatusLocked(st Status) {
	if s.status == st {
		return
	}
	s.status = st
	if s.onChange != nil {
		s.onChange(Info{Status: st, SessionID: s.id, ErrorMessage: s.errMsg})
	}
}
