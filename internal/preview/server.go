// Package preview serves a browser view of the frames the virtual camera
// delivers, together with status, negotiation and recording control.
package preview

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/format"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/pkg/types"
)

const protobufContentType = "application/x-protobuf"

// Source is the negotiation surface of the frame source. Implementations
// must be safe for concurrent use.
type Source interface {
	CurrentFormat() format.Format
	Negotiate(req format.Request) (format.Format, error)
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Recorder *recorder.Recorder
	Metrics  *metrics.Metrics
	Log      logger.Sink
}

// Server serves the preview endpoints.
type Server struct {
	cfg         Config
	log         logger.Module
	source      Source
	recorder    *recorder.Recorder
	metrics     *metrics.Metrics
	monitor     *Monitor
	broadcaster *FrameBroadcaster
	blank       []byte
}

// NewServer returns a configured preview server. Call Start before serving
// streams.
func NewServer(cfg Config, source Source, opts Options) (*Server, error) {
	cfg = cfg.withDefaults()
	enc := Encoder{Width: cfg.Width, Quality: cfg.JPEGQuality}
	blank, err := enc.blankJPEG()
	if err != nil {
		return nil, fmt.Errorf("failed to render blank frame: %w", err)
	}

	return &Server{
		cfg:         cfg,
		log:         logger.For(opts.Log, "Preview"),
		source:      source,
		recorder:    opts.Recorder,
		metrics:     opts.Metrics,
		monitor:     NewMonitor(),
		broadcaster: NewFrameBroadcaster(enc, cfg.MJPEGInterval, opts.Metrics, opts.Log),
		blank:       blank,
	}, nil
}

// Start launches the broadcaster.
func (s *Server) Start() {
	s.broadcaster.Start()
}

// Stop disconnects stream clients and halts the broadcaster.
func (s *Server) Stop() {
	s.broadcaster.Stop()
}

// Publish records a delivered frame and offers it to stream clients.
func (s *Server) Publish(frame *types.DeliveredFrame) {
	s.monitor.Observe(frame)
	s.broadcaster.Publish(frame)
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/snapshot.jpg", s.handleSnapshot)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/capabilities", s.handleCapabilities)
	mux.HandleFunc("/api/format", s.handleFormat)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	s.streamMJPEGFromChannel(w, frameCh, s.blank, s.cfg.KeepAlive)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, ok := s.broadcaster.Snapshot()
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "no frame delivered yet"}, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) statusPayload() map[string]any {
	f := s.source.CurrentFormat()
	payload := map[string]any{
		"monitor":   s.monitor.Snapshot().fields(),
		"format":    formatFields(f),
		"clients":   int64(s.broadcaster.Clients()),
		"timestamp": float64(time.Now().Unix()),
	}
	if s.recorder != nil {
		payload["recording"] = recordingFields(s.recorder.GetStatus())
	}
	return payload
}

func formatFields(f format.Format) map[string]any {
	return map[string]any{
		"pixel_format":  f.PixelFormat.String(),
		"width":         int64(f.Width),
		"height":        int64(f.Height),
		"sample_size":   int64(f.SampleSize()),
		"catalog_index": int64(format.IndexOf(f)),
	}
}

func recordingFields(st recorder.RecordingStatus) map[string]any {
	return map[string]any{
		"recording":      st.Recording,
		"session_id":     st.SessionID,
		"filename":       st.Filename,
		"frame_count":    st.FrameCount,
		"bytes_written":  st.BytesWritten,
		"skipped_frames": st.SkippedFrames,
		"duration_ms":    st.DurationMs,
	}
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, protobufContentType)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	event, err := serializeStatus(s.statusPayload())
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	if wantsProtobuf(r) {
		w.Header().Set("Content-Type", protobufContentType)
		_, _ = w.Write(event.ProtobufData)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(event.JSONData)
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	s.streamStatus(w, r, wantsProtobuf(r))
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"count":        format.Count(),
		"capabilities": format.All(),
	})
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.source.CurrentFormat())
	case http.MethodPost:
		req := format.Request{MajorKind: format.MediaVideo}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "invalid media type"}, http.StatusBadRequest)
			return
		}
		f, err := s.source.Negotiate(req)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{
				"error":   err.Error(),
				"current": s.source.CurrentFormat(),
			}, negotiationStatus(err))
			return
		}
		writeJSON(w, map[string]any{
			"format":    f,
			"requested": map[string]any{"width": req.Width, "height": req.Height},
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func negotiationStatus(err error) int {
	switch {
	case errors.Is(err, format.ErrUnsupportedMediaKind),
		errors.Is(err, format.ErrUnsupportedSubtype),
		errors.Is(err, format.ErrUnsupportedResolution):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder is not configured"}, http.StatusServiceUnavailable)
		return
	}

	f := s.source.CurrentFormat()
	if err := s.recorder.Start(f.PixelFormat.String(), f.Width, f.Height); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordingActive.Store(1)
	}

	st := s.recorder.GetStatus()
	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       st.Filename,
		"session_id": st.SessionID,
		"started_at": float64(st.StartTime.Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder is not configured"}, http.StatusServiceUnavailable)
		return
	}

	if err := s.recorder.Stop(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordingActive.Store(0)
	}

	st := s.recorder.GetStatus()
	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       st.Filename,
		"stats":      st,
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSON(w, recorder.RecordingStatus{})
		return
	}
	writeJSON(w, s.recorder.GetStatus())
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
