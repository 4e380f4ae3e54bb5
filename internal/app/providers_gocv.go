//go:build gocv

package app

import (
	"github.com/MrWong99/moodlens/internal/config"
	"github.com/MrWong99/moodlens/pkg/camera"
	"github.com/MrWong99/moodlens/pkg/camera/gocv"
)

func init() {
	hardwareCameras = append(hardwareCameras, func(reg *config.Registry) {
		reg.RegisterCamera("gocv", func(entry config.ProviderEntry) (camera.Device, error) {
			var opts []gocv.Option
			if idx, ok := entry.OptInt("user_index"); ok {
				opts = append(opts, gocv.WithDeviceIndex(camera.FacingUser, idx))
			}
			if idx, ok := entry.OptInt("environment_index"); ok {
				opts = append(opts, gocv.WithDeviceIndex(camera.FacingEnvironment, idx))
			}
			return gocv.New(opts...), nil
		})
	})
}
