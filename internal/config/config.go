// Package config provides the configuration schema, loader, and provider registry
// for the moodlens emotion demo.
package config

import (
	"time"

	"github.com/MrWong99/moodlens/pkg/camera"
)

// LogLevel controls log verbosity for the moodlens server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ConfidencePolicy selects how result confidence is computed.
type ConfidencePolicy string

const (
	// ConfidenceRandom draws confidence uniformly, independent of the tally.
	ConfidenceRandom ConfidencePolicy = "random"

	// ConfidenceMargin derives confidence from the winning vote share.
	ConfidenceMargin ConfidencePolicy = "margin"
)

// IsValid reports whether p is a recognised policy.
func (p ConfidencePolicy) IsValid() bool {
	return p == ConfidenceRandom || p == ConfidenceMargin
}

// Config is the root configuration structure for moodlens.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Camera    CameraConfig    `yaml:"camera"`
	Detection DetectionConfig `yaml:"detection"`
	Providers ProvidersConfig `yaml:"providers"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the moodlens server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// CameraConfig selects the capture backend and the request sent to it.
type CameraConfig struct {
	// Provider selects the registered camera backend ("synthetic", "gocv",
	// "gstreamer").
	Provider ProviderEntry `yaml:"provider"`

	// Facing is the preferred camera ("user" or "environment").
	Facing camera.Facing `yaml:"facing"`

	// IdealWidth and IdealHeight are the preferred resolution.
	IdealWidth  int `yaml:"ideal_width"`
	IdealHeight int `yaml:"ideal_height"`
}

// Constraints converts the camera section into a capture request.
func (c CameraConfig) Constraints() camera.Constraints {
	return camera.Constraints{
		Kind:        camera.KindVideo,
		Facing:      c.Facing,
		IdealWidth:  c.IdealWidth,
		IdealHeight: c.IdealHeight,
	}
}

// DetectionConfig holds the inference cadence and ensemble options. Changes
// are hot-reloadable and take effect at the next detection start.
type DetectionConfig struct {
	// TickPeriod is the fixed period between cycles (e.g., "2s").
	TickPeriod time.Duration `yaml:"tick_period"`

	// VotesPerCycle is the ensemble size.
	VotesPerCycle int `yaml:"votes_per_cycle"`

	// Labels is the ordered label set; vote indices refer to positions here.
	Labels []string `yaml:"labels"`

	// ConfidencePolicy selects "random" or "margin".
	ConfidencePolicy ConfidencePolicy `yaml:"confidence_policy"`

	// ConfidenceMin and ConfidenceMax bound confidence to [min, max).
	// ConfidenceMin is a pointer so an explicit 0 survives defaulting.
	ConfidenceMin *float64 `yaml:"confidence_min"`
	ConfidenceMax float64  `yaml:"confidence_max"`

	// Seed makes the random sources reproducible. 0 seeds from the clock.
	Seed uint64 `yaml:"seed"`
}

// MinConfidence returns the lower confidence bound, or
// [DefaultConfidenceMin] when none is set.
func (d DetectionConfig) MinConfidence() float64 {
	if d.ConfidenceMin == nil {
		return DefaultConfidenceMin
	}
	return *d.ConfidenceMin
}

// ProvidersConfig declares which implementation to use for each pluggable
// capability. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Features ProviderEntry `yaml:"features"`
	Votes    ProviderEntry `yaml:"votes"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "stub", "random").
	Name string `yaml:"name"`

	// Options holds backend-specific values, read with the Opt* helpers.
	Options map[string]any `yaml:"options"`
}

// OptString returns Options[key] as a string, or "" when absent or not a string.
func (e ProviderEntry) OptString(key string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return ""
}

// OptInt returns Options[key] as an int. YAML numbers decode as int or
// float64; both are accepted. ok is false when the key is absent or not numeric.
func (e ProviderEntry) OptInt(key string) (n int, ok bool) {
	switch v := e.Options[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// OptBool returns Options[key] as a bool, false when absent.
func (e ProviderEntry) OptBool(key string) bool {
	v, _ := e.Options[key].(bool)
	return v
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	// ServiceName is reported as service.name.
	ServiceName string `yaml:"service_name"`

	// MetricsPath is the HTTP path of the Prometheus scrape endpoint.
	MetricsPath string `yaml:"metrics_path"`
}
