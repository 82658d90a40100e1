// Package recorder dumps delivered frames back to back into raw files that
// can be replayed with ffmpeg -f rawvideo.
package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/pkg/types"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// queueDepth holds about two seconds of frames at 30 fps.
const queueDepth = 60

// Recorder records raw frames to file
type Recorder struct {
	mu       sync.RWMutex
	log      logger.Module
	basePath string
	now      func() time.Time

	recording    bool
	file         *os.File
	out          *bufio.Writer
	filename     string
	sessionID    string
	pixelFormat  string
	width        int
	height       int
	frameCount   uint64
	bytesWritten uint64
	skipped      uint64
	startTime    time.Time
	lastErr      error

	frameChan chan *types.DeliveredFrame
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewRecorder creates a recorder writing into basePath
func NewRecorder(basePath string, sink logger.Sink) *Recorder {
	return &Recorder{
		log:      logger.For(sink, "Recorder"),
		basePath: basePath,
		now:      time.Now,
	}
}

// Start opens a new file for frames of the given layout
func (r *Recorder) Start(pixelFormat string, width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}
	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create recording directory: %w", err)
	}

	start := r.now()
	filename := fmt.Sprintf("recording_%s_%s_%dx%d.raw",
		start.Format("20060102_150405"), pixelFormat, width, height)
	file, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.out = bufio.NewWriterSize(file, 1<<20)
	r.filename = filename
	r.sessionID = uuid.NewString()
	r.pixelFormat = pixelFormat
	r.width = width
	r.height = height
	r.frameCount = 0
	r.bytesWritten = 0
	r.skipped = 0
	r.lastErr = nil
	r.startTime = start
	r.recording = true
	r.frameChan = make(chan *types.DeliveredFrame, queueDepth)
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.writeFrames(r.frameChan, r.stopChan)

	r.log.Info("Recording started: %s (session %s)", filename, r.sessionID)
	return nil
}

// Stop drains queued frames and closes the file
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.recording = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.out != nil {
		err = r.out.Flush()
		r.out = nil
	}
	if r.file != nil {
		if serr := r.file.Sync(); serr != nil && err == nil {
			err = serr
		}
		if cerr := r.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		r.file = nil
	}
	r.log.Info("Recording stopped: %s (%d frames, %d bytes, %d skipped)",
		r.filename, r.frameCount, r.bytesWritten, r.skipped)
	if err != nil {
		return fmt.Errorf("failed to finish %s: %w", r.filename, err)
	}
	return nil
}

// SendFrame queues a frame (non-blocking). It returns false when not
// recording or when the queue is full.
func (r *Recorder) SendFrame(frame *types.DeliveredFrame) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}
	select {
	case r.frameChan <- frame:
		return true
	default:
		return false
	}
}

func (r *Recorder) writeFrames(frames <-chan *types.DeliveredFrame, stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case frame := <-frames:
			r.writeFrame(frame)
		case <-stop:
			for {
				select {
				case frame := <-frames:
					r.writeFrame(frame)
				default:
					return
				}
			}
		}
	}
}

// writeFrame appends one frame. Frames in another layout than the file's
// are skipped so the file stays a uniform raw stream.
func (r *Recorder) writeFrame(frame *types.DeliveredFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.out == nil {
		return
	}
	if frame.PixelFormat != r.pixelFormat || frame.Width != r.width || frame.Height != r.height {
		r.skipped++
		return
	}

	n, err := r.out.Write(frame.Data)
	r.bytesWritten += uint64(n)
	if err != nil {
		if r.lastErr == nil {
			r.log.Error("Write to %s failed: %v", r.filename, err)
		}
		r.lastErr = err
		return
	}
	r.frameCount++
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = r.now().Sub(r.startTime)
	}
	status := RecordingStatus{
		Recording:     r.recording,
		SessionID:     r.sessionID,
		Filename:      r.filename,
		PixelFormat:   r.pixelFormat,
		Width:         r.width,
		Height:        r.height,
		FrameCount:    r.frameCount,
		BytesWritten:  r.bytesWritten,
		SkippedFrames: r.skipped,
		DurationMs:    duration.Milliseconds(),
		StartTime:     r.startTime,
	}
	if r.lastErr != nil {
		status.LastError = r.lastErr.Error()
	}
	return status
}

// Close stops an active recording
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording     bool      `json:"recording"`
	SessionID     string    `json:"session_id,omitempty"`
	Filename      string    `json:"filename"`
	PixelFormat   string    `json:"pixel_format,omitempty"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	FrameCount    uint64    `json:"frame_count"`
	BytesWritten  uint64    `json:"bytes_written"`
	SkippedFrames uint64    `json:"skipped_frames"`
	DurationMs    int64     `json:"duration_ms"`
	StartTime     time.Time `json:"start_time"`
	LastError     string    `json:"last_error,omitempty"`
}
