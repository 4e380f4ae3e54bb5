// Package controller composes the capture session and the inference
// scheduler into the single state machine the presentation layer observes.
//
// Intents (StartCamera, StopCamera, StartDetection, StopDetection, Teardown)
// are serialised. Published state is an immutable [State] snapshot swapped
// atomically; [Controller.State] never blocks and [Controller.Subscribe]
// streams every new snapshot.
//
// Invalid transitions are silent no-ops. Acquisition failures surface as
// [PhasePermissionDenied] with an error message and are never returned.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/moodlens/internal/capture"
	"github.com/MrWong99/moodlens/internal/ensemble"
	"github.com/MrWong99/moodlens/internal/observe"
	"github.com/MrWong99/moodlens/internal/scheduler"
	"github.com/MrWong99/moodlens/pkg/camera"
	"github.com/MrWong99/moodlens/pkg/provider/features"
)

// Detection holds the options applied at each StartDetection.
type Detection struct {
	// Period is the tick period. Defaults to [scheduler.DefaultPeriod].
	Period time.Duration

	// Voter combines votes into results. Required.
	Voter *ensemble.Voter
}

// Config holds all dependencies for a [Controller].
type Config struct {
	// Device is the capture backend. Required.
	Device camera.Device

	// Constraints is the capture request. Defaults to
	// [camera.DefaultConstraints].
	Constraints camera.Constraints

	// Features supplies one vector per cycle. Required.
	Features features.Source

	// Detection is the initial detection configuration.
	Detection Detection

	// Metrics records telemetry. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now stamps snapshots. Defaults to time.Now.
	Now func() time.Time
}

// Controller is the capture-and-inference lifecycle state machine.
// All exported methods are safe for concurrent use.
type Controller struct {
	features features.Source
	metrics  *observe.Metrics
	now      func() time.Time

	capture *capture.Session

	torn atomic.Bool

	// intentMu serialises intents. Never held while publishing callbacks
	// wait for it.
	intentMu  sync.Mutex
	detection Detection
	sched     *scheduler.Scheduler

	// stateMu guards snapshot construction and subscriber delivery.
	stateMu       sync.Mutex
	detecting     bool
	acquireCancel context.CancelFunc
	subs          map[int]chan State
	nextSub       int
	state         atomic.Pointer[State]
}

// New creates a Controller in [PhaseNoPermission].
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Device == nil {
		errs = append(errs, errors.New("controller: device is required"))
	}
	if cfg.Features == nil {
		errs = append(errs, errors.New("controller: feature source is required"))
	}
	if cfg.Detection.Voter == nil {
		errs = append(errs, errors.New("controller: voter is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	c := &Controller{
		features:  cfg.Features,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		detection: cfg.Detection,
		subs:      make(map[int]chan State),
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.now == nil {
		c.now = time.Now
	}

	sess, err := capture.New(capture.Config{
		Device:      cfg.Device,
		Constraints: cfg.Constraints,
		OnChange:    c.onCaptureChange,
		Metrics:     c.metrics,
	})
	if err != nil {
		return nil, err
	}
	c.capture = sess

	c.state.Store(&State{
		Phase:         PhaseNoPermission,
		CaptureStatus: CaptureNoPermission,
		UpdatedAt:     c.now(),
	})
	return c, nil
}

// State returns the current snapshot. It never blocks.
func (c *Controller) State() State {
	return *c.state.Load()
}

// TornDown reports whether [Controller.Teardown] has been called.
func (c *Controller) TornDown() bool { return c.torn.Load() }

// Subscribe returns a channel that receives the current snapshot immediately
// and every later one. Slow readers miss intermediate snapshots but always
// see the latest. The channel is closed by the returned cancel func or by
// Teardown.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.torn.Load() {
		ch <- *c.state.Load()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- *c.state.Load()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.stateMu.Lock()
			defer c.stateMu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// SetDetection replaces the detection configuration. It takes effect at the
// next StartDetection; a running scheduler keeps its current options.
func (c *Controller) SetDetection(d Detection) error {
	if d.Voter == nil {
		return errors.New("controller: voter is required")
	}
	c.intentMu.Lock()
	defer c.intentMu.Unlock()
	c.detection = d
	return nil
}

// StartCamera acquires the camera. It blocks until the device answers while
// the state reads [PhaseRequesting]. Failure is reported as
// [PhasePermissionDenied]. It is a no-op when the camera is already active
// or after Teardown.
func (c *Controller) StartCamera(ctx context.Context) {
	c.intentMu.Lock()
	defer c.intentMu.Unlock()

	if c.torn.Load() {
		return
	}
	if c.capture.Status() == capture.StatusActive {
		slog.Debug("controller: start camera ignored, already active")
		return
	}

	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.stateMu.Lock()
	c.acquireCancel = cancel
	c.stateMu.Unlock()
	defer func() {
		c.stateMu.Lock()
		c.acquireCancel = nil
		c.stateMu.Unlock()
	}()
	// Teardown may have run between the check above and registering cancel.
	if c.torn.Load() {
		return
	}

	st := c.capture.Acquire(actx)
	slog.Info("controller: camera request answered", "status", st)
}

// StopCamera stops detection and releases the camera. A pending acquisition
// is abandoned and the state returns to [PhaseNoPermission] without an error.
// It is a no-op when no camera is held.
func (c *Controller) StopCamera() {
	if c.torn.Load() {
		return
	}
	// Release before cancelling so the pending Acquire reads as abandoned
	// rather than refused.
	c.capture.Release()
	c.cancelPending()

	c.intentMu.Lock()
	defer c.intentMu.Unlock()
	c.stopCameraLocked()
}

// StartDetection starts the inference scheduler when the camera is active.
// One result is published before it returns. It is a no-op otherwise.
func (c *Controller) StartDetection(ctx context.Context) {
	c.intentMu.Lock()
	defer c.intentMu.Unlock()

	if c.torn.Load() {
		return
	}
	if c.capture.Status() != capture.StatusActive {
		slog.Debug("controller: start detection ignored, camera not active")
		return
	}
	if c.sched != nil && c.sched.Running() {
		slog.Debug("controller: start detection ignored, already detecting")
		return
	}

	sched, err := scheduler.New(scheduler.Config{
		Period:   c.detection.Period,
		Features: c.features,
		Voter:    c.detection.Voter,
		Publish:  c.publishCycle,
		Ready:    c.captureReady,
		Metrics:  c.metrics,
	})
	if err != nil {
		slog.Error("controller: build scheduler", "err", err)
		return
	}

	c.stateMu.Lock()
	c.detecting = true
	c.publishLocked(func(s *State) { s.DetectionActive = true })
	c.stateMu.Unlock()

	if !sched.Start(observe.WithSession(ctx, c.capture.ID())) {
		c.stateMu.Lock()
		c.detecting = false
		c.publishLocked(func(s *State) { s.DetectionActive = false })
		c.stateMu.Unlock()
		return
	}
	c.sched = sched
}

// StopDetection stops the scheduler and clears the last result and features.
// It is a no-op when detection is not running.
func (c *Controller) StopDetection() {
	c.intentMu.Lock()
	defer c.intentMu.Unlock()

	if c.torn.Load() {
		return
	}
	c.stopDetectionLocked()
}

// Teardown stops detection and then the camera regardless of the current
// state, closes every subscription and turns all later intents into no-ops.
// Only the first call has any effect.
func (c *Controller) Teardown() {
	if !c.torn.CompareAndSwap(false, true) {
		return
	}
	c.capture.Release()
	c.cancelPending()

	c.intentMu.Lock()
	defer c.intentMu.Unlock()

	c.stopCameraLocked()

	c.stateMu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.stateMu.Unlock()
	slog.Info("controller: torn down")
}

// cancelPending aborts an acquisition blocked in StartCamera.
func (c *Controller) cancelPending() {
	c.stateMu.Lock()
	cancel := c.acquireCancel
	c.stateMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// stopCameraLocked must be called with intentMu held.
func (c *Controller) stopCameraLocked() {
	c.stopDetectionLocked()
	c.capture.Release()
}

// stopDetectionLocked stops the scheduler, waiting for an in-flight cycle,
// then clears the detection state. Must be called with intentMu held.
func (c *Controller) stopDetectionLocked() {
	if c.sched != nil {
		c.sched.Stop()
		c.sched = nil
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if !c.detecting {
		return
	}
	c.detecting = false
	c.publishLocked(func(s *State) {
		s.DetectionActive = false
		s.LastResult = nil
		s.LastFeatures = nil
		s.Cycles = 0
	})
}

// captureReady gates scheduler ticks on the published capture status.
func (c *Controller) captureReady() bool {
	return c.state.Load().CaptureStatus == CaptureActive
}

// publishCycle is the scheduler's publish callback.
func (c *Controller) publishCycle(_ context.Context, cyc scheduler.Cycle) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if !c.detecting {
		return
	}
	res, fv := cyc.Result, cyc.Features
	c.publishLocked(func(s *State) {
		s.LastResult = &res
		s.LastFeatures = &fv
		s.Cycles = cyc.Seq
	})
}

// onCaptureChange mirrors capture transitions into the snapshot. Leaving
// Active forces detection off in the same snapshot.
func (c *Controller) onCaptureChange(info capture.Info) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	cs := captureStatusOf(info.Status)
	if cs != CaptureActive {
		c.detecting = false
	}
	c.publishLocked(func(s *State) {
		s.CaptureStatus = cs
		s.SessionID = info.SessionID
		s.ErrorMessage = info.ErrorMessage
		if cs != CaptureActive {
			s.DetectionActive = false
			s.LastResult = nil
			s.LastFeatures = nil
			s.Cycles = 0
		}
	})
}

// publishLocked builds the next snapshot from the current one, swaps it in
// and fans it out. Must be called with stateMu held.
func (c *Controller) publishLocked(mutate func(*State)) {
	next := *c.state.Load()
	mutate(&next)
	next.Phase = phaseOf(next.CaptureStatus, next.DetectionActive)
	next.UpdatedAt = c.now()
	c.state.Store(&next)

	for _, ch := range c.subs {
		select {
		case ch <- next:
			continue
		default:
		}
		// Drop the stale snapshot so the newest one always fits.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next:
		default:
		}
	}
}
