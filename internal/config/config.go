// Package config holds the runtime configuration of the virtual camera host
// and its development tools.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/format"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/shm"
)

var ErrInvalid = errors.New("invalid configuration")

// Config defines the runtime configuration.
type Config struct {
	Shm     ShmConfig     `yaml:"shm"`
	Format  string        `yaml:"format"` // pixel format before negotiation
	Preview PreviewConfig `yaml:"preview"`

	MetricsAddr         string `yaml:"metrics_addr"` // empty disables /metrics
	TargetFPS           int    `yaml:"target_fps"`   // 0 follows the frame interval
	RecordingOutputPath string `yaml:"recording_output_path"`

	LogLevel string `yaml:"log_level"`
	LogColor bool   `yaml:"log_color"`
}

// ShmConfig locates the shared frame segment.
type ShmConfig struct {
	Dir          string        `yaml:"dir"`
	Name         string        `yaml:"name"`
	OpenAttempts int           `yaml:"open_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// PreviewConfig controls the HTTP preview server.
type PreviewConfig struct {
	Addr          string        `yaml:"addr"` // empty disables the preview
	Width         int           `yaml:"width"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
	MJPEGInterval time.Duration `yaml:"mjpeg_interval"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Shm: ShmConfig{
			Dir:          shm.DefaultDir,
			Name:         shm.DefaultName,
			OpenAttempts: 3,
			RetryDelay:   100 * time.Millisecond,
		},
		Format: format.PixelFormatYUY2.String(),
		Preview: PreviewConfig{
			Addr:          ":8080",
			Width:         640,
			JPEGQuality:   80,
			MJPEGInterval: 33 * time.Millisecond,
		},
		MetricsAddr:         ":9090",
		RecordingOutputPath: filepath.Clean("./recordings"),
		LogLevel:            "info",
		LogColor:            true,
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks names and ranges.
func (c Config) Validate() error {
	if c.Shm.Name == "" {
		return fmt.Errorf("%w: shm.name is empty", ErrInvalid)
	}
	if c.Shm.OpenAttempts < 1 {
		return fmt.Errorf("%w: shm.open_attempts must be >= 1, got %d", ErrInvalid, c.Shm.OpenAttempts)
	}
	if c.Shm.RetryDelay < 0 {
		return fmt.Errorf("%w: shm.retry_delay must not be negative", ErrInvalid)
	}
	if _, err := format.ParsePixelFormat(c.Format); err != nil {
		return fmt.Errorf("%w: format: %v", ErrInvalid, err)
	}
	if c.TargetFPS < 0 || c.TargetFPS > 120 {
		return fmt.Errorf("%w: target_fps must be in [0,120], got %d", ErrInvalid, c.TargetFPS)
	}
	if c.Preview.Width < 16 || c.Preview.Width > format.CanonicalWidth {
		return fmt.Errorf("%w: preview.width must be in [16,%d], got %d", ErrInvalid, format.CanonicalWidth, c.Preview.Width)
	}
	if c.Preview.JPEGQuality < 1 || c.Preview.JPEGQuality > 100 {
		return fmt.Errorf("%w: preview.jpeg_quality must be in [1,100], got %d", ErrInvalid, c.Preview.JPEGQuality)
	}
	if c.Preview.MJPEGInterval <= 0 {
		return fmt.Errorf("%w: preview.mjpeg_interval must be positive", ErrInvalid)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalid, err)
	}
	return nil
}

// InitialFormat returns the pre-negotiation format at the canonical size.
func (c Config) InitialFormat() format.Format {
	pf, err := format.ParsePixelFormat(c.Format)
	if err != nil {
		return format.Default()
	}
	return format.Format{PixelFormat: pf, Width: format.CanonicalWidth, Height: format.CanonicalHeight}
}

// FrameInterval is the pull period of the host loop.
func (c Config) FrameInterval() time.Duration {
	if c.TargetFPS > 0 {
		return time.Second / time.Duration(c.TargetFPS)
	}
	return time.Duration(format.FrameInterval) * 100
}

// ChannelConfig builds the shared memory reader configuration.
func (c Config) ChannelConfig() shm.ChannelConfig {
	cc := shm.DefaultChannelConfig()
	cc.Dir = c.Shm.Dir
	cc.Name = c.Shm.Name
	cc.Attempts = c.Shm.OpenAttempts
	cc.RetryDelay = c.Shm.RetryDelay
	return cc
}
