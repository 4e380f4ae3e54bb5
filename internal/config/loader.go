package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/moodlens/pkg/camera"
	"github.com/MrWong99/moodlens/pkg/types"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8080"
	DefaultTickPeriod    = 2 * time.Second
	DefaultVotesPerCycle = 5
	DefaultServiceName   = "moodlens"
	DefaultMetricsPath   = "/metrics"
	DefaultConfidenceMin = 0.5
	DefaultConfidenceMax = 1.0
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"camera":   {"synthetic", "gocv", "gstreamer"},
	"features": {"stub"},
	"votes":    {"random"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values in cfg. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	dc := camera.DefaultConstraints()
	if cfg.Camera.Provider.Name == "" {
		cfg.Camera.Provider.Name = "synthetic"
	}
	if cfg.Camera.Facing == "" {
		cfg.Camera.Facing = dc.Facing
	}
	if cfg.Camera.IdealWidth == 0 && cfg.Camera.IdealHeight == 0 {
		cfg.Camera.IdealWidth, cfg.Camera.IdealHeight = dc.IdealWidth, dc.IdealHeight
	}

	d := &cfg.Detection
	if d.TickPeriod == 0 {
		d.TickPeriod = DefaultTickPeriod
	}
	if d.VotesPerCycle == 0 {
		d.VotesPerCycle = DefaultVotesPerCycle
	}
	if len(d.Labels) == 0 {
		for _, l := range types.DefaultLabels() {
			d.Labels = append(d.Labels, string(l))
		}
	}
	if d.ConfidencePolicy == "" {
		d.ConfidencePolicy = ConfidenceRandom
	}
	if d.ConfidenceMin == nil {
		lo := DefaultConfidenceMin
		d.ConfidenceMin = &lo
	}
	if d.ConfidenceMax == 0 {
		d.ConfidenceMax = DefaultConfidenceMax
	}

	if cfg.Providers.Features.Name == "" {
		cfg.Providers.Features.Name = "stub"
	}
	if cfg.Providers.Votes.Name == "" {
		cfg.Providers.Votes.Name = "random"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Camera
	if cfg.Camera.Facing != "" && !cfg.Camera.Facing.IsValid() {
		errs = append(errs, fmt.Errorf("camera.facing %q is invalid; valid values: user, environment", cfg.Camera.Facing))
	}
	if cfg.Camera.IdealWidth < 0 || cfg.Camera.IdealHeight < 0 {
		errs = append(errs, fmt.Errorf("camera.ideal_width/ideal_height %dx%d must not be negative", cfg.Camera.IdealWidth, cfg.Camera.IdealHeight))
	}

	// Detection
	d := cfg.Detection
	if d.TickPeriod < 0 {
		errs = append(errs, fmt.Errorf("detection.tick_period %s must be positive", d.TickPeriod))
	} else if d.TickPeriod > 0 && d.TickPeriod < 10*time.Millisecond {
		slog.Warn("detection.tick_period is very short; real feature sources may not keep up", "tick_period", d.TickPeriod)
	}
	if d.VotesPerCycle < 0 {
		errs = append(errs, fmt.Errorf("detection.votes_per_cycle %d must be positive", d.VotesPerCycle))
	}
	seen := make(map[string]int, len(d.Labels))
	for i, l := range d.Labels {
		if strings.TrimSpace(l) == "" {
			errs = append(errs, fmt.Errorf("detection.labels[%d] is empty", i))
			continue
		}
		if prev, ok := seen[l]; ok {
			errs = append(errs, fmt.Errorf("detection.labels[%d] %q is a duplicate of labels[%d]", i, l, prev))
		}
		seen[l] = i
	}
	if d.ConfidencePolicy != "" && !d.ConfidencePolicy.IsValid() {
		errs = append(errs, fmt.Errorf("detection.confidence_policy %q is invalid; valid values: random, margin", d.ConfidencePolicy))
	}
	if lo := d.MinConfidence(); lo < 0 || d.ConfidenceMax > 1 || !(lo < d.ConfidenceMax) {
		errs = append(errs, fmt.Errorf("detection confidence range [%g, %g) must satisfy 0 <= min < max <= 1", lo, d.ConfidenceMax))
	}

	// Telemetry
	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}

	// Unknown provider names only warn; third-party factories may exist.
	validateProviderName("camera", cfg.Camera.Provider.Name)
	validateProviderName("features", cfg.Providers.Features.Name)
	validateProviderName("votes", cfg.Providers.Votes.Name)

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
