package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/format"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/preview"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/scheduler"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/shm"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/pkg/types"
)

// lockedSource serialises the pull loop and HTTP negotiation.
type lockedSource struct {
	mu  sync.Mutex
	src *scheduler.Source
}

func (l *lockedSource) CurrentFormat() format.Format {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.CurrentFormat()
}

func (l *lockedSource) Negotiate(req format.Request) (format.Format, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Negotiate(req)
}

func (l *lockedSource) FillNextFrame(dst []byte) (scheduler.Sample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.FillNextFrame(dst)
}

func (l *lockedSource) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Close()
}

// Host stands in for the capture host: it pulls a sample every frame
// interval and hands copies to the preview server and the recorder.
type Host struct {
	cfg      config.Config
	log      logger.Module
	metrics  *metrics.Metrics
	source   *lockedSource
	recorder *recorder.Recorder
	preview  *preview.Server

	httpServer    *http.Server
	metricsServer *http.Server
	buf           []byte
	seq        uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHost wires a host around ch.
func NewHost(cfg config.Config, ch scheduler.Channel, sink logger.Sink) (*Host, error) {
	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.New()

	src := scheduler.New(ch, scheduler.Options{
		Log:     sink,
		Metrics: m,
		Format:  cfg.InitialFormat(),
	})
	locked := &lockedSource{src: src}
	rec := recorder.NewRecorder(cfg.RecordingOutputPath, sink)

	h := &Host{
		cfg:      cfg,
		log:      logger.For(sink, "Host"),
		metrics:  m,
		source:   locked,
		recorder: rec,
		buf:      make([]byte, shm.FrameSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	if cfg.Preview.Addr != "" {
		pcfg := preview.DefaultConfig()
		pcfg.Addr = cfg.Preview.Addr
		pcfg.Width = cfg.Preview.Width
		pcfg.JPEGQuality = cfg.Preview.JPEGQuality
		pcfg.MJPEGInterval = cfg.Preview.MJPEGInterval

		srv, err := preview.NewServer(pcfg, locked, preview.Options{
			Recorder: rec,
			Metrics:  m,
			Log:      sink,
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create preview server: %w", err)
		}
		h.preview = srv

		mux := http.NewServeMux()
		mux.Handle("/", srv.Handler())
		mux.Handle("/metrics", m.Handler())
		h.httpServer = &http.Server{
			Addr:              pcfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if cfg.MetricsAddr != "" && (h.httpServer == nil || cfg.MetricsAddr != h.httpServer.Addr) {
		h.metricsServer = m.NewServer(cfg.MetricsAddr)
	}

	return h, nil
}

// Start launches the HTTP servers and the pull loop.
func (h *Host) Start() error {
	h.log.Info("Starting virtual camera host...")
	h.log.Info("  Shared memory: %s/%s", h.cfg.Shm.Dir, h.cfg.Shm.Name)
	h.log.Info("  Initial format: %s", h.source.CurrentFormat())
	h.log.Info("  Frame interval: %v", h.cfg.FrameInterval())
	h.log.Info("  Recording path: %s", h.cfg.RecordingOutputPath)

	if h.metricsServer != nil {
		go func() {
			h.log.Info("Starting metrics server on %s", h.metricsServer.Addr)
			if err := h.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.log.Error("Metrics server error: %v", err)
			}
		}()
	}

	if h.preview != nil {
		h.preview.Start()
		go func() {
			h.log.Info("Starting preview server on %s", h.httpServer.Addr)
			if err := h.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.log.Error("Preview server error: %v", err)
			}
		}()
	}

	h.wg.Add(1)
	go h.pullFrames()
	return nil
}

func (h *Host) pullFrames() {
	defer h.wg.Done()

	interval := h.cfg.FrameInterval()
	h.log.Info("Pulling frames every %v", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.pullOnce(); err != nil {
				h.log.Warn("Pull failed: %v", err)
			}
		}
	}
}

// pullOnce fills one sample and distributes a copy. The copy is nil when
// nobody consumes frames.
func (h *Host) pullOnce() (*types.DeliveredFrame, error) {
	sample, err := h.source.FillNextFrame(h.buf)
	if err != nil {
		return nil, err
	}
	h.seq++

	recording := h.recorder.IsRecording()
	if h.preview == nil && !recording {
		return nil, nil
	}

	n := min(sample.Length, len(h.buf))
	frame := &types.DeliveredFrame{
		Data:        append([]byte(nil), h.buf[:n]...),
		Timestamp:   time.Now(),
		Sequence:    h.seq,
		FrameID:     sample.FrameID,
		PixelFormat: sample.Format.PixelFormat.String(),
		Width:       sample.Format.Width,
		Height:      sample.Format.Height,
		Start:       int64(sample.Start),
		End:         int64(sample.End),
		Fallback:    sample.Fallback.String(),
	}

	if h.preview != nil {
		h.preview.Publish(frame)
	}
	if recording {
		if h.recorder.SendFrame(frame) {
			h.metrics.RecorderFramesSent.Add(1)
		} else {
			h.metrics.RecorderFramesDropped.Add(1)
		}
		h.metrics.RecordingBytes.Store(h.recorder.GetStatus().BytesWritten)
	}
	return frame, nil
}

// Shutdown stops the pull loop and releases everything.
func (h *Host) Shutdown() error {
	h.cancel()
	h.wg.Wait()

	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if h.preview != nil {
		h.preview.Stop()
		if err := h.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("preview server: %w", err))
		}
	}
	if h.metricsServer != nil {
		if err := h.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if err := h.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recorder: %w", err))
	}
	h.metrics.RecordingActive.Store(0)
	if err := h.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("channel: %w", err))
	}
	return errors.Join(errs...)
}
