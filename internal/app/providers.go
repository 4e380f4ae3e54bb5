package app

import (
	"log/slog"
	"time"

	"github.com/MrWong99/moodlens/internal/config"
	"github.com/MrWong99/moodlens/pkg/camera"
	"github.com/MrWong99/moodlens/pkg/camera/synthetic"
	"github.com/MrWong99/moodlens/pkg/provider/features"
	"github.com/MrWong99/moodlens/pkg/provider/features/stub"
	"github.com/MrWong99/moodlens/pkg/provider/votes"
	"github.com/MrWong99/moodlens/pkg/provider/votes/random"
)

// hardwareCameras holds registration funcs contributed by build-tagged files
// (gocv, gstreamer). They run after the built-in providers.
var hardwareCameras []func(*config.Registry)

// RegisterBuiltins wires every provider compiled into this binary into reg.
func RegisterBuiltins(reg *config.Registry) {
	reg.RegisterCamera("synthetic", func(entry config.ProviderEntry) (camera.Device, error) {
		var opts []synthetic.Option
		if entry.OptBool("deny") {
			opts = append(opts, synthetic.WithDeny(true))
		}
		if ms, ok := entry.OptInt("open_delay_ms"); ok {
			opts = append(opts, synthetic.WithOpenDelay(time.Duration(ms)*time.Millisecond))
		}
		w, wok := entry.OptInt("max_width")
		h, hok := entry.OptInt("max_height")
		if wok && hok {
			opts = append(opts, synthetic.WithMaxResolution(w, h))
		}
		return synthetic.New(opts...), nil
	})

	reg.RegisterFeatures("stub", func(_ config.ProviderEntry, seed uint64) (features.Source, error) {
		return stub.New(stub.WithSeed(seed)), nil
	})

	reg.RegisterVotes("random", func(_ config.ProviderEntry, seed uint64) (votes.Source, error) {
		return random.New(random.WithSeed(seed)), nil
	})

	for _, register := range hardwareCameras {
		register(reg)
	}
	slog.Debug("app: providers registered", "cameras", reg.Cameras())
}
