package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/moodlens/internal/config"
)

func TestLoadConfig_DefaultsWithoutPath(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig("", "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Camera.Provider.Name != "synthetic" {
		t.Errorf("camera = %q, want synthetic", cfg.Camera.Provider.Name)
	}
}

func TestLoadConfig_CameraOverride(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "moodlens.yaml")
	body := "camera:\n  provider:\n    name: synthetic\n    options:\n      deny: true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path, "gocv")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Camera.Provider.Name != "gocv" {
		t.Errorf("camera = %q, want gocv", cfg.Camera.Provider.Name)
	}
	if cfg.Camera.Provider.OptBool("deny") {
		t.Error("options of the replaced camera must not carry over")
	}

	same, err := loadConfig(path, "synthetic")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if !same.Camera.Provider.OptBool("deny") {
		t.Error("overriding with the configured name should keep its options")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), "")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestReloadOnHangup_StopsWithContext(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "moodlens.yaml")
	if err := os.WriteFile(path, []byte("server:\n  log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reloadOnHangup(ctx, w)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reloadOnHangup did not return after cancel")
	}
}
