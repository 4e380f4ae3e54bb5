// Package app wires the moodlens subsystems into a running application.
//
// New builds the capture backend, feature and vote sources from the provider
// registry, the ensemble voter and the controller, and mounts the controller
// on the HTTP server. Run serves until the context ends; RunHeadless drives
// the controller directly and logs every result. Shutdown tears the
// controller down exactly once.
//
// For tests, inject doubles via functional options (WithDevice,
// WithFeatures, WithMetrics).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/moodlens/internal/config"
	"github.com/MrWong99/moodlens/internal/controller"
	"github.com/MrWong99/moodlens/internal/ensemble"
	"github.com/MrWong99/moodlens/internal/health"
	"github.com/MrWong99/moodlens/internal/observe"
	"github.com/MrWong99/moodlens/internal/resilience"
	"github.com/MrWong99/moodlens/internal/server"
	"github.com/MrWong99/moodlens/pkg/camera"
	"github.com/MrWong99/moodlens/pkg/provider/features"
	"github.com/MrWong99/moodlens/pkg/provider/votes"
	"github.com/MrWong99/moodlens/pkg/types"
)

// ShutdownTimeout bounds the graceful HTTP shutdown.
const ShutdownTimeout = 15 * time.Second

// App owns the controller and the HTTP server.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	metrics *observe.Metrics
	level   *slog.LevelVar

	device         camera.Device
	features       features.Source
	metricsHandler http.Handler

	mu   sync.Mutex
	live *config.Config

	ctrl   *controller.Controller
	server *server.Server

	teardownOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithDevice injects a capture backend instead of creating one from config.
func WithDevice(d camera.Device) Option {
	return func(a *App) { a.device = d }
}

// WithFeatures injects a feature source instead of creating one from config.
func WithFeatures(s features.Source) Option {
	return func(a *App) { a.features = s }
}

// WithMetrics sets the telemetry instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the log level of the handler
// built around lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetricsHandler serves h at telemetry.metrics_path.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// New creates an App from cfg, resolving providers through reg. reg is
// required; see [RegisterBuiltins].
func New(cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	if reg == nil {
		return nil, errors.New("app: provider registry is required")
	}
	a := &App{cfg: cfg, reg: reg, live: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.device == nil {
		dev, err := a.buildDevice()
		if err != nil {
			return nil, fmt.Errorf("app: camera: %w", err)
		}
		a.device = dev
	}
	if a.features == nil {
		src, err := a.buildFeatures()
		if err != nil {
			return nil, fmt.Errorf("app: features: %w", err)
		}
		a.features = src
	}

	voter, err := a.buildVoter(cfg.Detection)
	if err != nil {
		return nil, fmt.Errorf("app: voter: %w", err)
	}

	a.ctrl, err = controller.New(controller.Config{
		Device:      a.device,
		Constraints: cfg.Camera.Constraints(),
		Features:    a.features,
		Detection:   controller.Detection{Period: cfg.Detection.TickPeriod, Voter: voter},
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: controller: %w", err)
	}

	checks := []health.Checker{
		health.Flag("controller", func() bool { return !a.ctrl.TornDown() }, "controller torn down"),
	}
	checks = append(checks, health.Registered("camera", reg.Cameras, cfg.Camera.Provider.Name))
	srvOpts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithHealth(health.New(checks...)),
	}
	if a.metricsHandler != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(cfg.Telemetry.MetricsPath, a.metricsHandler))
	}
	a.server = server.New(a.ctrl, srvOpts...)

	slog.Info("app: ready",
		"camera", cfg.Camera.Provider.Name,
		"features", cfg.Providers.Features.Name,
		"votes", cfg.Providers.Votes.Name,
		"tick_period", cfg.Detection.TickPeriod,
		"votes_per_cycle", voter.VotesPerCycle(),
	)
	return a, nil
}

// buildDevice creates the configured camera. When options.fallback names
// another registered backend, the two are combined in a
// [resilience.CameraFallback].
func (a *App) buildDevice() (camera.Device, error) {
	entry := a.cfg.Camera.Provider
	dev, err := a.reg.CreateCamera(entry)
	if err != nil {
		return nil, err
	}
	fb := entry.OptString("fallback")
	if fb == "" || fb == entry.Name {
		return dev, nil
	}
	backup, err := a.reg.CreateCamera(config.ProviderEntry{Name: fb})
	if err != nil {
		return nil, fmt.Errorf("fallback %q: %w", fb, err)
	}
	cf := resilience.NewCameraFallback(dev, entry.Name, resilience.FallbackConfig{})
	cf.AddFallback(fb, backup)
	return cf, nil
}

// buildFeatures creates the configured feature source. Any source other than
// the stub is backed by the stub through a [resilience.FeaturesFallback].
func (a *App) buildFeatures() (features.Source, error) {
	entry := a.cfg.Providers.Features
	seed := deriveSeed(a.cfg.Detection.Seed, 1)
	src, err := a.reg.CreateFeatures(entry, seed)
	if err != nil {
		return nil, err
	}
	if entry.Name == "stub" {
		return src, nil
	}
	backup, err := a.reg.CreateFeatures(config.ProviderEntry{Name: "stub"}, seed)
	if err != nil {
		slog.Warn("app: no stub feature source to fall back on", "err", err)
		return src, nil
	}
	ff := resilience.NewFeaturesFallback(src, entry.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				if to == resilience.StateOpen {
					a.metrics.RecordProviderError(context.Background(), name, "circuit_open")
				}
			},
		},
	}, a.metrics)
	ff.AddFallback("stub", backup)
	return ff, nil
}

// buildVoter creates an ensemble voter for d.
func (a *App) buildVoter(d config.DetectionConfig) (*ensemble.Voter, error) {
	vs, err := a.reg.CreateVotes(a.cfg.Providers.Votes, deriveSeed(d.Seed, 2))
	if err != nil {
		return nil, err
	}
	return NewVoter(d, vs)
}

// NewVoter builds a voter from the detection section and a vote source.
func NewVoter(d config.DetectionConfig, vs votes.Source) (*ensemble.Voter, error) {
	policy, err := ensemble.NewConfidencePolicy(string(d.ConfidencePolicy), d.MinConfidence(), d.ConfidenceMax, deriveSeed(d.Seed, 3))
	if err != nil {
		return nil, err
	}
	labels := make([]types.Label, len(d.Labels))
	for i, l := range d.Labels {
		labels[i] = types.Label(l)
	}
	return ensemble.New(ensemble.Config{
		Labels:        labels,
		VotesPerCycle: d.VotesPerCycle,
		Votes:         vs,
		Confidence:    policy,
	})
}

// deriveSeed gives each random source its own stream. Zero stays zero so
// every source keeps its clock-based default.
func deriveSeed(seed, n uint64) uint64 {
	if seed == 0 {
		return 0
	}
	return seed + n
}

// Controller returns the application's controller.
func (a *App) Controller() *controller.Controller { return a.ctrl }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// ApplyConfig applies the hot-reloadable part of a changed config: the log
// level immediately, detection options at the next StartDetection.
// Sections that need a restart are logged and otherwise ignored. It has the
// signature of a [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.DetectionChanged {
		voter, err := a.buildVoter(d.Detection)
		if err == nil {
			err = a.ctrl.SetDetection(controller.Detection{Period: d.Detection.TickPeriod, Voter: voter})
		}
		if err != nil {
			slog.Warn("app: detection reload rejected", "err", err)
		} else {
			slog.Info("app: detection options reloaded, applied at next start",
				"tick_period", d.Detection.TickPeriod,
				"votes_per_cycle", d.Detection.VotesPerCycle,
				"confidence_policy", d.Detection.ConfidencePolicy)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart", "sections", d.RestartRequired)
	}

	a.mu.Lock()
	a.live = new
	a.mu.Unlock()
}

// Config returns the most recently applied config.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Run serves HTTP until ctx is done. When w is non-nil the config watcher
// shares the lifetime of the server. The controller is torn down before Run
// returns.
func (a *App) Run(ctx context.Context, w *config.Watcher) error {
	defer a.Shutdown()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var certFile, keyFile string
		if tls := a.cfg.Server.TLS; tls != nil {
			certFile, keyFile = tls.CertFile, tls.KeyFile
		}
		return a.server.ListenAndServe(ctx, a.cfg.Server.ListenAddr, certFile, keyFile, ShutdownTimeout)
	})
	if w != nil {
		g.Go(func() error { return w.Run(ctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunHeadless starts the camera and detection and logs every published
// result until ctx is done. It returns an error if the camera cannot be
// acquired.
func (a *App) RunHeadless(ctx context.Context) error {
	defer a.Shutdown()

	states, cancel := a.ctrl.Subscribe()
	defer cancel()

	a.ctrl.StartCamera(ctx)
	if st := a.ctrl.State(); st.CaptureStatus != controller.CaptureActive {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("app: camera not available: %s", st.ErrorMessage)
	}
	a.ctrl.StartDetection(ctx)
	slog.Info("app: headless detection running", "session_id", a.ctrl.State().SessionID)

	var lastCycle uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-states:
			if !ok {
				return nil
			}
			if st.LastResult == nil || st.Cycles == lastCycle {
				continue
			}
			lastCycle = st.Cycles
			slog.Info("result",
				"cycle", st.Cycles,
				"label", st.LastResult.Label,
				"confidence", fmt.Sprintf("%.3f", st.LastResult.Confidence),
				"session_id", st.SessionID,
			)
		}
	}
}

// Shutdown tears the controller down. Only the first call has an effect.
func (a *App) Shutdown() {
	a.teardownOnce.Do(func() {
		a.ctrl.Teardown()
		slog.Info("app: shutdown complete")
	})
}

// SlogLevel converts a config level to an slog level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
