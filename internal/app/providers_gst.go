//go:build gstreamer

package app

import (
	"github.com/MrWong99/moodlens/internal/config"
	"github.com/MrWong99/moodlens/pkg/camera"
	"github.com/MrWong99/moodlens/pkg/camera/gst"
)

func init() {
	hardwareCameras = append(hardwareCameras, func(reg *config.Registry) {
		reg.RegisterCamera("gstreamer", func(entry config.ProviderEntry) (camera.Device, error) {
			return gst.New(
				gst.WithDevicePath(camera.FacingUser, entry.OptString("user_device")),
				gst.WithDevicePath(camera.FacingEnvironment, entry.OptString("environment_device")),
			), nil
		})
	})
}
