// Package config handles configuration loading and validation for proctord.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the proctord daemon configuration.
type Config struct {
	// DataDir is the base proctord data directory.
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`

	Session SessionConfig `toml:"session" json:"session" yaml:"session"`
	Sensors SensorConfig  `toml:"sensors" json:"sensors" yaml:"sensors"`
	Signing SigningConfig `toml:"signing" json:"signing" yaml:"signing"`
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// SessionConfig holds session policy.
type SessionConfig struct {
	// StrictMode enables the stricter rule subset (fullscreen exit,
	// right click, audio monitoring).
	StrictMode bool `toml:"strict_mode" json:"strict_mode" yaml:"strict_mode"`

	// PollIntervalMs is the face/audio sampling cadence.
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`

	// AcquireRetryDelayMs is the backoff before the single automatic
	// capture acquisition retry.
	AcquireRetryDelayMs int `toml:"acquire_retry_delay_ms" json:"acquire_retry_delay_ms" yaml:"acquire_retry_delay_ms"`
}

// SensorConfig holds platform sensor tuning.
type SensorConfig struct {
	// WindowClass identifies the assessment surface window.
	WindowClass string `toml:"window_class" json:"window_class" yaml:"window_class"`

	// FocusPollIntervalMs is how often the active window is sampled.
	FocusPollIntervalMs int `toml:"focus_poll_interval_ms" json:"focus_poll_interval_ms" yaml:"focus_poll_interval_ms"`

	// VideoDevice is the capture node on platforms that use one.
	VideoDevice string `toml:"video_device" json:"video_device" yaml:"video_device"`

	// FrameWidth and FrameHeight describe the raw frame geometry.
	FrameWidth  int `toml:"frame_width" json:"frame_width" yaml:"frame_width"`
	FrameHeight int `toml:"frame_height" json:"frame_height" yaml:"frame_height"`
}

// SigningConfig holds report signing keys.
type SigningConfig struct {
	// KeyPath is the Ed25519 private key (OpenSSH or raw seed).
	KeyPath string `toml:"key_path" json:"key_path" yaml:"key_path"`

	// PublicKeyPath is the matching public key for verification.
	PublicKeyPath string `toml:"public_key_path" json:"public_key_path" yaml:"public_key_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level    string `toml:"level" json:"level" yaml:"level"`
	Format   string `toml:"format" json:"format" yaml:"format"`
	Output   string `toml:"output" json:"output" yaml:"output"`
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".proctord")

	return &Config{
		DataDir: dataDir,
		Session: SessionConfig{
			StrictMode:          true,
			PollIntervalMs:      2000,
			AcquireRetryDelayMs: 1000,
		},
		Sensors: SensorConfig{
			WindowClass:         "proctord",
			FocusPollIntervalMs: 1000,
			VideoDevice:         "/dev/video0",
			FrameWidth:          320,
			FrameHeight:         240,
		},
		Signing: SigningConfig{
			KeyPath:       filepath.Join(dataDir, "signing.key"),
			PublicKeyPath: filepath.Join(dataDir, "signing.pub"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// PollInterval returns the sampling cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Session.PollIntervalMs) * time.Millisecond
}

// AcquireRetryDelay returns the acquisition retry backoff as a duration.
func (c *Config) AcquireRetryDelay() time.Duration {
	return time.Duration(c.Session.AcquireRetryDelayMs) * time.Millisecond
}

// FocusPollInterval returns the focus sampling cadence as a duration.
func (c *Config) FocusPollInterval() time.Duration {
	return time.Duration(c.Sensors.FocusPollIntervalMs) * time.Millisecond
}

// StorePath returns the session archive database path.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must be set")
	}
	if c.Session.PollIntervalMs <= 0 {
		return fmt.Errorf("config: poll_interval_ms must be positive")
	}
	if c.Session.AcquireRetryDelayMs < 0 {
		return fmt.Errorf("config: acquire_retry_delay_ms cannot be negative")
	}
	if c.Sensors.FocusPollIntervalMs <= 0 {
		return fmt.Errorf("config: focus_poll_interval_ms must be positive")
	}
	if c.Sensors.FrameWidth <= 0 || c.Sensors.FrameHeight <= 0 {
		return fmt.Errorf("config: frame geometry must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	return nil
}

// ApplyEnvOverrides applies PROCTORD_* environment variables on top of
// file values. Useful for containerized deployments.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PROCTORD_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PROCTORD_STRICT_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Session.StrictMode = b
		}
	}
	if v := os.Getenv("PROCTORD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROCTORD_VIDEO_DEVICE"); v != "" {
		c.Sensors.VideoDevice = v
	}
}

// EnsureDirectories creates the data directory tree.
func (c *Config) EnsureDirectories() error {
	return os.MkdirAll(c.DataDir, 0700)
}
