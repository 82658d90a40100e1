// Command vcam hosts the virtual camera frame source outside a capture
// framework: it pulls a sample every frame interval from the shared memory
// channel and serves a browser preview, recording control and metrics.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/shm"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	logger.Info("Main", "Virtual camera host starting...")
	logger.Info("Main", "Log level: %s", level)

	if err := os.MkdirAll(cfg.RecordingOutputPath, 0o755); err != nil {
		log.Fatalf("Failed to create recordings directory: %v", err)
	}

	ch := shm.NewChannel(cfg.ChannelConfig(), logger.Default())
	host, err := NewHost(cfg, ch, logger.Default())
	if err != nil {
		log.Fatalf("Failed to create host: %v", err)
	}
	if err := host.Start(); err != nil {
		log.Fatalf("Failed to start host: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := host.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Host stopped")
}

// loadConfig reads -config when given and applies the flags that were set
// explicitly on top of it.
func loadConfig(args []string) (config.Config, error) {
	def := config.DefaultConfig()
	fs := flag.NewFlagSet("vcam", flag.ContinueOnError)

	configPath := fs.String("config", "", "YAML configuration file")
	shmDir := fs.String("shm-dir", def.Shm.Dir, "Directory holding the shared memory segment")
	shmName := fs.String("shm", def.Shm.Name, "Shared memory segment name")
	pixelFormat := fs.String("format", def.Format, "Pixel format before negotiation (YUY2, NV12, I420, RGB24)")
	httpAddr := fs.String("http", def.Preview.Addr, "Preview server address (empty disables)")
	metricsAddr := fs.String("metrics", def.MetricsAddr, "Metrics server address (empty disables)")
	fps := fs.Int("fps", def.TargetFPS, "Pull rate override (0 = 30 fps frame interval)")
	recordPath := fs.String("record-path", def.RecordingOutputPath, "Recording output path")
	previewWidth := fs.Int("preview-width", def.Preview.Width, "Preview JPEG width")
	logLevel := fs.String("log-level", def.LogLevel, "Log level (debug, info, warn, error, silent)")
	logColor := fs.Bool("log-color", def.LogColor, "Enable colored log output")

	if err := fs.Parse(args); err != nil {
		return def, err
	}

	cfg := def
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return def, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "shm-dir":
			cfg.Shm.Dir = *shmDir
		case "shm":
			cfg.Shm.Name = *shmName
		case "format":
			cfg.Format = *pixelFormat
		case "http":
			cfg.Preview.Addr = *httpAddr
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "fps":
			cfg.TargetFPS = *fps
		case "record-path":
			cfg.RecordingOutputPath = *recordPath
		case "preview-width":
			cfg.Preview.Width = *previewWidth
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-color":
			cfg.LogColor = *logColor
		}
	})

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("after flags: %w", err)
	}
	return cfg, nil
}
