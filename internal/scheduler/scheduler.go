// Package scheduler drives the periodic extract-vote-publish inference cycle.
//
// A [Scheduler] owns exactly one cancellation token at a time. [Scheduler.Start]
// creates it, runs one cycle synchronously and arms a ticker;
// [Scheduler.Stop] invalidates it. Ticks run sequentially on a single
// goroutine and every tick re-checks the token at entry, so a tick that fired
// just before Stop is skipped without extracting, voting or publishing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/moodlens/internal/ensemble"
	"github.com/MrWong99/moodlens/internal/observe"
	"github.com/MrWong99/moodlens/pkg/provider/features"
	"github.com/MrWong99/moodlens/pkg/types"
)

// DefaultPeriod is the tick period used when Config.Period is zero.
const DefaultPeriod = 2 * time.Second

// Cycle status values recorded on the cycles counter.
const (
	statusOK      = "ok"
	statusError   = "error"
	statusSkipped = "skipped"
)

// Cycle is the outcome of one successful inference cycle.
type Cycle struct {
	// Seq numbers successful cycles from 1 over the scheduler's lifetime.
	Seq uint64

	Features types.FeatureVector
	Result   types.ClassificationResult
	Tally    ensemble.Tally
}

// PublishFunc receives every completed cycle. It runs on the scheduler's
// goroutine while the scheduler lock is held, so it must not call
// [Scheduler.Stop] or [Scheduler.Start].
type PublishFunc func(ctx context.Context, c Cycle)

// Config configures a [Scheduler].
type Config struct {
	// Period is the fixed tick period. Defaults to 2s.
	Period time.Duration

	// Features supplies one vector per cycle. Required.
	Features features.Source

	// Voter turns a vector into a result. Required.
	Voter *ensemble.Voter

	// Publish receives each completed cycle. Required.
	Publish PublishFunc

	// Ready gates Start and every tick. A nil gate always passes.
	Ready func() bool

	// Metrics records cycle telemetry. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Scheduler runs inference cycles on a fixed cadence while started.
// All exported methods are safe for concurrent use.
type Scheduler struct {
	period   time.Duration
	features features.Source
	voter    *ensemble.Voter
	publish  PublishFunc
	ready    func() bool
	metrics  *observe.Metrics

	// runMu guards the token. Stop never waits on mu while holding it, so
	// the token is dead before an in-flight cycle releases mu.
	runMu  sync.Mutex
	gen    atomic.Uint64
	cancel context.CancelFunc
	done   chan struct{}

	// mu serialises cycles.
	mu sync.Mutex

	cycles atomic.Uint64
}

// New validates cfg and returns a stopped Scheduler.
func New(cfg Config) (*Scheduler, error) {
	var errs []error
	if cfg.Features == nil {
		errs = append(errs, errors.New("scheduler: feature source is required"))
	}
	if cfg.Voter == nil {
		errs = append(errs, errors.New("scheduler: voter is required"))
	}
	if cfg.Publish == nil {
		errs = append(errs, errors.New("scheduler: publish func is required"))
	}
	if cfg.Period < 0 {
		errs = append(errs, fmt.Errorf("scheduler: period %s must be positive", cfg.Period))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	period := cfg.Period
	if period == 0 {
		period = DefaultPeriod
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Scheduler{
		period:   period,
		features: cfg.Features,
		voter:    cfg.Voter,
		publish:  cfg.Publish,
		ready:    cfg.Ready,
		metrics:  m,
	}, nil
}

// Period returns the tick period.
func (s *Scheduler) Period() time.Duration { return s.period }

// Running reports whether the scheduler holds a live token.
func (s *Scheduler) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.cancel != nil
}

// Cycles returns the number of cycles published so far.
func (s *Scheduler) Cycles() uint64 { return s.cycles.Load() }

// Start runs one cycle immediately and then one per period until [Scheduler.Stop].
// It returns false without doing anything when the readiness gate is closed.
// Calling Start on a running scheduler is a no-op that returns true.
//
// The cycles outlive ctx's cancellation; only Stop ends them. Values carried
// by ctx (trace context) are kept.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		return true
	}
	if s.ready != nil && !s.ready() {
		slog.Debug("scheduler: start ignored, capture not ready")
		return false
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	gen := s.gen.Add(1)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	s.metrics.ActiveDetections.Add(runCtx, 1)

	s.mu.Lock()
	s.cycle(runCtx)
	s.mu.Unlock()
	go s.loop(runCtx, gen, done)

	slog.Info("scheduler started", "period", s.period)
	return true
}

// Stop invalidates the current token and waits for the ticker goroutine to
// exit. A cycle that is already executing finishes first. No cycle runs after
// Stop returns. Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if s.cancel == nil {
		s.runMu.Unlock()
		return
	}
	s.gen.Add(1)
	s.cancel()
	s.cancel = nil
	done := s.done
	s.done = nil
	s.metrics.ActiveDetections.Add(context.Background(), -1)
	s.runMu.Unlock()

	// The loop exits once the in-flight cycle returns; a tick fired meanwhile
	// sees the cancelled token and does nothing.
	<-done
	slog.Info("scheduler stopped", "cycles", s.cycles.Load())
}

// loop fires ticks until ctx is cancelled. time.Ticker drops ticks that a slow
// cycle could not consume, so cycles never queue up behind each other.
func (s *Scheduler) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, gen)
		}
	}
}

// tick runs one cycle unless the token it was armed with has been invalidated.
func (s *Scheduler) tick(ctx context.Context, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen.Load() != gen || ctx.Err() != nil {
		return
	}
	if s.ready != nil && !s.ready() {
		s.metrics.RecordCycle(ctx, 0, statusSkipped)
		slog.Debug("scheduler: tick skipped, capture not ready")
		return
	}
	s.cycle(ctx)
}

// cycle performs extract, vote and publish in order. Must be called with s.mu
// held.
func (s *Scheduler) cycle(ctx context.Context) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "scheduler.cycle", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	fail := func(kind string, err error) {
		observe.RecordError(span, err)
		s.metrics.RecordProviderError(ctx, kind, "cycle")
		s.metrics.RecordCycle(ctx, time.Since(start), statusError)
		observe.Logger(ctx).Warn("scheduler: cycle failed", "stage", kind, "err", err)
	}

	fv, err := s.features.Extract(ctx)
	if err != nil {
		fail("features", fmt.Errorf("scheduler: extract: %w", err))
		return
	}
	if !fv.Valid() {
		fail("features", fmt.Errorf("scheduler: feature vector %v out of [0,1)", fv))
		return
	}

	res, tally, err := s.voter.Vote(fv)
	if err != nil {
		fail("votes", fmt.Errorf("scheduler: vote: %w", err))
		return
	}

	seq := s.cycles.Add(1)
	s.publish(ctx, Cycle{Seq: seq, Features: fv, Result: res, Tally: tally})

	labels := s.voter.Labels()
	for i, n := range tally.Counts {
		if n > 0 {
			s.metrics.RecordVotes(ctx, string(labels[i]), n)
		}
	}
	s.metrics.RecordClassification(ctx, string(res.Label), res.Confidence)
	s.metrics.RecordCycle(ctx, time.Since(start), statusOK)
	span.SetAttributes(
		attribute.Int64("moodlens.cycle.seq", int64(seq)),
		attribute.String("moodlens.label", string(res.Label)),
		attribute.Float64("moodlens.confidence", res.Confidence),
	)
	observe.Logger(ctx).Debug("cycle published",
		"seq", seq,
		"label", res.Label,
		"confidence", res.Confidence,
		"votes", res.Votes,
	)
}
