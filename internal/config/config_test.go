package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Session.StrictMode {
		t.Error("strict mode should default on")
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Errorf("PollInterval() = %v, want 2s", cfg.PollInterval())
	}
	if cfg.AcquireRetryDelay() != time.Second {
		t.Errorf("AcquireRetryDelay() = %v, want 1s", cfg.AcquireRetryDelay())
	}
	if filepath.Base(cfg.StorePath()) != "sessions.db" {
		t.Errorf("StorePath() = %s", cfg.StorePath())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"zero poll interval", func(c *Config) { c.Session.PollIntervalMs = 0 }},
		{"negative retry delay", func(c *Config) { c.Session.AcquireRetryDelayMs = -1 }},
		{"zero focus poll", func(c *Config) { c.Sensors.FocusPollIntervalMs = 0 }},
		{"zero frame width", func(c *Config) { c.Sensors.FrameWidth = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
data_dir = "/var/lib/proctord"

[session]
strict_mode = false
poll_interval_ms = 500
acquire_retry_delay_ms = 250

[sensors]
window_class = "exam-browser"
video_device = "/dev/video2"

[logging]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DataDir != "/var/lib/proctord" {
		t.Errorf("DataDir = %s", cfg.DataDir)
	}
	if cfg.Session.StrictMode {
		t.Error("strict mode should be off")
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("PollInterval() = %v", cfg.PollInterval())
	}
	if cfg.Sensors.WindowClass != "exam-browser" {
		t.Errorf("WindowClass = %s", cfg.Sensors.WindowClass)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Format = %s", cfg.Logging.Format)
	}

	// Fields absent from the file keep their defaults.
	if cfg.Sensors.FrameWidth != 320 {
		t.Errorf("FrameWidth = %d, want default 320", cfg.Sensors.FrameWidth)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
session:
  strict_mode: false
  poll_interval_ms: 750
logging:
  level: warn
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.StrictMode {
		t.Error("strict mode should be off")
	}
	if cfg.Session.PollIntervalMs != 750 {
		t.Errorf("PollIntervalMs = %d", cfg.Session.PollIntervalMs)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %s", cfg.Logging.Level)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.toml")).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Session.StrictMode {
		t.Error("expected default strict mode")
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[session]\npoll_interval_ms = -5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(path).Load(); err == nil {
		t.Error("expected validation error for negative poll interval")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROCTORD_STRICT_MODE", "false")
	t.Setenv("PROCTORD_VIDEO_DEVICE", "/dev/video9")

	cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.toml")).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.StrictMode {
		t.Error("env override for strict mode not applied")
	}
	if cfg.Sensors.VideoDevice != "/dev/video9" {
		t.Errorf("VideoDevice = %s", cfg.Sensors.VideoDevice)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[session]\npoll_interval_ms = 1000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loader.Close()

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) { changed <- c })

	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("[session]\npoll_interval_ms = 3000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Session.PollIntervalMs != 3000 {
			t.Errorf("reloaded PollIntervalMs = %d, want 3000", cfg.Session.PollIntervalMs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if loader.Config().Session.PollIntervalMs != 3000 {
		t.Error("Config() not updated after reload")
	}
}

func TestOnChangeRegisteredWhileWatching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[session]\npoll_interval_ms = 1000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loader.Close()

	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Registration after Watch must be safe alongside the watch
	// goroutine and the callback must still fire on the next change.
	changed := make(chan struct{}, 1)
	loader.OnChange(func(*Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	if err := os.WriteFile(path, []byte("[session]\npoll_interval_ms = 2000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for late-registered callback")
	}
}

func TestWatchKeepsOldConfigOnInvalidChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[session]\npoll_interval_ms = 1000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loader.Close()

	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("[session]\npoll_interval_ms = -1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-loader.Errors():
		if err == nil {
			t.Error("expected reload error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	if loader.Config().Session.PollIntervalMs != 1000 {
		t.Error("invalid reload replaced the working config")
	}
}
