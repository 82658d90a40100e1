package preview

import (
	"bufio"
	"bytes"
	"encoding/json"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/convert"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/format"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/pkg/types"
)

type fakeSource struct {
	mu  sync.Mutex
	cur format.Format
}

func (f *fakeSource) CurrentFormat() format.Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

func (f *fakeSource) Negotiate(req format.Request) (format.Format, error) {
	got, err := format.Negotiate(req)
	if err != nil {
		return f.CurrentFormat(), err
	}
	f.mu.Lock()
	f.cur = got
	f.mu.Unlock()
	return got, nil
}

func newTestServer(t *testing.T, opts Options) (*Server, *fakeSource) {
	t.Helper()
	src := &fakeSource{cur: format.Default()}
	cfg := DefaultConfig()
	cfg.Width = 160
	cfg.MJPEGInterval = 0
	cfg.KeepAlive = 50 * time.Millisecond
	s, err := NewServer(cfg, src, opts)
	require.NoError(t, err)
	s.Start()
	t.Cleanup(s.Stop)
	return s, src
}

func whiteFrame(t *testing.T, seq uint64, pf format.PixelFormat) *types.DeliveredFrame {
	t.Helper()
	f := format.Format{PixelFormat: pf, Width: 1920, Height: 1080}
	data := make([]byte, f.SampleSize())
	_, err := convert.Convert(data, bytes.Repeat([]byte{255}, convert.SourceSize), f)
	require.NoError(t, err)
	return &types.DeliveredFrame{
		Data:        data,
		Sequence:    seq,
		FrameID:     int32(seq),
		PixelFormat: pf.String(),
		Width:       f.Width,
		Height:      f.Height,
		Fallback:    "none",
	}
}

func TestHealthAndIndex(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "Virtual Camera Preview")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCapabilities(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/capabilities", nil))

	var body struct {
		Count        int `json:"count"`
		Capabilities []struct {
			Index       int    `json:"index"`
			PixelFormat string `json:"pixel_format"`
			Width       int    `json:"width"`
			SampleSize  int    `json:"sample_size"`
		} `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 16, body.Count)
	require.Len(t, body.Capabilities, 16)
	assert.Equal(t, "NV12", body.Capabilities[5].PixelFormat)
	assert.Equal(t, 1280, body.Capabilities[5].Width)
	assert.Equal(t, 1382400, body.Capabilities[5].SampleSize)
}

func TestFormatNegotiation(t *testing.T) {
	s, src := newTestServer(t, Options{})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/format",
		strings.NewReader(`{"subtype":"NV12","width":1280,"height":720}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, format.Format{PixelFormat: format.PixelFormatNV12, Width: 1920, Height: 1080}, src.CurrentFormat())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/format",
		strings.NewReader(`{"major_kind":"video","subtype":"I420","width":800,"height":600}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported resolution")
	assert.Equal(t, format.PixelFormatNV12, src.CurrentFormat().PixelFormat)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/format", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/format", nil))
	assert.JSONEq(t, `{"pixel_format":"NV12","width":1920,"height":1080}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/format", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusJSONAndProtobuf(t *testing.T) {
	s, _ := newTestServer(t, Options{Recorder: recorder.NewRecorder(t.TempDir(), nil)})
	s.Publish(whiteFrame(t, 1, format.PixelFormatYUY2))
	s.Publish(&types.DeliveredFrame{FrameID: -1, PixelFormat: "YUY2", Width: 1920, Height: 1080, Fallback: "stale_or_missing_frame"})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status struct {
		Monitor MonitorStats `json:"monitor"`
		Format  struct {
			PixelFormat  string `json:"pixel_format"`
			CatalogIndex int    `json:"catalog_index"`
		} `json:"format"`
		Recording struct {
			Recording bool `json:"recording"`
		} `json:"recording"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, uint64(2), status.Monitor.FramesDelivered)
	assert.Equal(t, uint64(1), status.Monitor.NeutralFrames)
	assert.Equal(t, int32(1), status.Monitor.LastFrameID)
	assert.Equal(t, "stale_or_missing_frame", status.Monitor.LastFallback)
	assert.Equal(t, "YUY2", status.Format.PixelFormat)
	assert.Equal(t, 0, status.Format.CatalogIndex)
	assert.False(t, status.Recording.Recording)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Accept", "application/x-protobuf")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-protobuf", rec.Header().Get("Content-Type"))

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(rec.Body.Bytes(), &st))
	m := st.AsMap()
	assert.Equal(t, "YUY2", m["format"].(map[string]any)["pixel_format"])
	assert.Equal(t, 2.0, m["monitor"].(map[string]any)["frames_delivered"])
}

func TestSnapshot(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	for _, pf := range format.Formats {
		s.Publish(whiteFrame(t, uint64(pf)+10, pf))
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
		require.Equal(t, http.StatusOK, rec.Code, pf.String())
		assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

		img, err := jpeg.Decode(rec.Body)
		require.NoError(t, err, pf.String())
		assert.Equal(t, 160, img.Bounds().Dx())
		assert.Equal(t, 90, img.Bounds().Dy())
	}
}

func TestRecordingEndpoints(t *testing.T) {
	m := metrics.New()
	rec := recorder.NewRecorder(t.TempDir(), nil)
	s, _ := newTestServer(t, Options{Recorder: rec, Metrics: m})
	h := s.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/recording/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/recording/start", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var started map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, "recording", started["status"])
	assert.Contains(t, started["file"], "_YUY2_1920x1080.raw")
	assert.Equal(t, uint64(1), m.RecordingActive.Load())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/recording/start", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/recording/status", nil))
	assert.Contains(t, w.Body.String(), `"recording":true`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/recording/stop", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"stopped"`)
	assert.Equal(t, uint64(0), m.RecordingActive.Load())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/recording/stop", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordingWithoutRecorder(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/recording/start", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMJPEGStream(t *testing.T) {
	m := metrics.New()
	s, _ := newTestServer(t, Options{Metrics: m})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return s.broadcaster.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), m.PreviewClients.Load())
	s.Publish(whiteFrame(t, 1, format.PixelFormatNV12))

	reader := bufio.NewReader(resp.Body)
	boundary, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", boundary)
	ctype, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg\r\n", ctype)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	length, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:")))
	require.NoError(t, err)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	body := make([]byte, length)
	_, err = io.ReadFull(reader, body)
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(body))
	require.NoError(t, err)
}

func TestMonitorFPS(t *testing.T) {
	mon := NewMonitor()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	mon.now = func() time.Time { return now }
	mon.startTime = base
	mon.windowStart = base

	for i := 0; i < 30; i++ {
		now = base.Add(time.Duration(i+1) * time.Second / 30)
		mon.Observe(&types.DeliveredFrame{FrameID: int32(i), Fallback: "none"})
	}
	stats := mon.Snapshot()
	assert.InDelta(t, 30.0, stats.CurrentFPS, 0.01)
	assert.Equal(t, uint64(30), stats.NewFrames)
	assert.Equal(t, int32(29), stats.LastFrameID)
}
