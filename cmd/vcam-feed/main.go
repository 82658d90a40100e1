// Command vcam-feed is a development producer for the frame channel. It
// publishes colour bars, or a scaled still image, with a moving box.
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/shm"
)

func main() {
	var (
		dir      string
		name     string
		still    string
		fps      int
		duration time.Duration
		keep     bool
		logLevel string
		logColor bool
	)
	flag.StringVar(&dir, "shm-dir", shm.DefaultDir, "Directory holding the shared memory segment")
	flag.StringVar(&name, "shm", shm.DefaultName, "Shared memory segment name")
	flag.StringVar(&still, "image", "", "JPEG or PNG to use as background (default colour bars)")
	flag.IntVar(&fps, "fps", 30, "Frames published per second")
	flag.DurationVar(&duration, "duration", 0, "Stop after this long (0 = until signalled)")
	flag.BoolVar(&keep, "keep", false, "Leave the segment in place on exit")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)
	if fps < 1 {
		log.Fatalf("Invalid fps: %d", fps)
	}

	var src image.Image
	if still != "" {
		if src, err = loadImage(still); err != nil {
			log.Fatalf("Failed to load image: %v", err)
		}
	}
	feeder := NewFeeder(src)

	w, err := shm.CreateWriter(dir, name)
	if err != nil {
		log.Fatalf("Failed to create segment: %v", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warn("Feed", "Close failed: %v", err)
		}
		if !keep {
			if err := w.Remove(); err != nil {
				logger.Warn("Feed", "Remove failed: %v", err)
			}
		}
	}()

	logger.Info("Feed", "Publishing to %s at %d fps", w.Path(), fps)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var deadline <-chan time.Time
	if duration > 0 {
		deadline = time.After(duration)
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			logger.Info("Feed", "Stopped at frame %d", w.FrameID())
			return
		case <-deadline:
			logger.Info("Feed", "Duration reached at frame %d", w.FrameID())
			return
		case <-ticker.C:
			id, err := w.PublishFrom(feeder.Next)
			if err != nil {
				logger.Error("Feed", "Render failed after frame %d: %v", id, err)
				return
			}
			if id%300 == 0 {
				logger.Debug("Feed", "Published frame %d", id)
			}
		}
	}
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
