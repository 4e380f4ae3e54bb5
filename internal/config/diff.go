package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are reported individually; everything that needs a
// restart is folded into RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DetectionChanged is true if any detection option changed. The new
	// options apply at the next detection start.
	DetectionChanged bool
	Detection        DetectionConfig

	// RestartRequired lists the sections whose changes only take effect after
	// a restart (e.g., "camera", "providers").
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !detectionEqual(old.Detection, new.Detection) {
		d.DetectionChanged = true
		d.Detection = new.Detection
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !cameraEqual(old.Camera, new.Camera) {
		d.RestartRequired = append(d.RestartRequired, "camera")
	}
	if !entryEqual(old.Providers.Features, new.Providers.Features) || !entryEqual(old.Providers.Votes, new.Providers.Votes) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func detectionEqual(a, b DetectionConfig) bool {
	return a.TickPeriod == b.TickPeriod &&
		a.VotesPerCycle == b.VotesPerCycle &&
		slices.Equal(a.Labels, b.Labels) &&
		a.ConfidencePolicy == b.ConfidencePolicy &&
		a.MinConfidence() == b.MinConfidence() &&
		a.ConfidenceMax == b.ConfidenceMax &&
		a.Seed == b.Seed
}

func cameraEqual(a, b CameraConfig) bool {
	return entryEqual(a.Provider, b.Provider) &&
		a.Facing == b.Facing &&
		a.IdealWidth == b.IdealWidth &&
		a.IdealHeight == b.IdealHeight
}

// entryEqual compares provider entries. Options are compared by key set and
// formatted value since they may hold nested maps.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || len(a.Options) != len(b.Options) {
		return false
	}
	for k, va := range a.Options {
		vb, ok := b.Options[k]
		if !ok || fmtValue(va) != fmtValue(vb) {
			return false
		}
	}
	return true
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func fmtValue(v any) string { return fmt.Sprintf("%#v", v) }
