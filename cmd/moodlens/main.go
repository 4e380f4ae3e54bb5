// Command moodlens serves the webcam emotion demo over HTTP, or runs it
// headless and logs every classification.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/moodlens/internal/app"
	"github.com/MrWong99/moodlens/internal/config"
	"github.com/MrWong99/moodlens/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	cameraName := flag.String("camera", "", "override camera.provider.name (synthetic, gocv, gstreamer)")
	headless := flag.Bool("headless", false, "start camera and detection immediately and log results instead of serving HTTP")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *cameraName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "moodlens: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "moodlens: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("moodlens starting",
		"config", *configPath,
		"camera", cfg.Camera.Provider.Name,
		"headless", *headless,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers + application ───────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)

	application, err := app.New(cfg, reg,
		app.WithLogLevel(level),
		app.WithMetricsHandler(tel.Handler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer application.Shutdown()

	if *headless {
		slog.Info("headless mode, press Ctrl+C to stop")
		if err := application.RunHeadless(ctx); err != nil {
			slog.Error("headless run failed", "err", err)
			return 1
		}
		slog.Info("goodbye")
		return 0
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	var watcher *config.Watcher
	if *configPath != "" {
		watcher, err = config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config hot-reload disabled", "err", err)
			watcher = nil
		} else {
			go reloadOnHangup(ctx, watcher)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)
	if err := application.Run(ctx, watcher); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path, or uses defaults when path is empty, and applies
// the -camera override.
func loadConfig(path, cameraName string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg = config.Default()
	} else if cfg, err = config.Load(path); err != nil {
		return nil, err
	}
	if cameraName != "" && cameraName != cfg.Camera.Provider.Name {
		cfg.Camera.Provider = config.ProviderEntry{Name: cameraName}
	}
	return cfg, nil
}

// reloadOnHangup re-reads the config on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if changed, err := w.Reload(); err != nil {
				slog.Warn("config reload on SIGHUP failed", "path", w.Path(), "err", err)
			} else if !changed {
				slog.Info("config unchanged on SIGHUP", "path", w.Path())
			}
		}
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
