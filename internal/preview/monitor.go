package preview

import (
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/pkg/types"
)

// Monitor accumulates delivery statistics from the frames the host loop
// publishes.
type Monitor struct {
	mu  sync.Mutex
	now func() time.Time

	startTime    time.Time
	delivered    uint64
	neutral      uint64
	newFrames    uint64
	lastFrameID  int32
	lastFallback string
	lastDelivery time.Time

	windowStart time.Time
	windowCount int
	currentFPS  float64
}

// NewMonitor creates an empty Monitor.
func NewMonitor() *Monitor {
	now := time.Now()
	return &Monitor{
		now:          time.Now,
		startTime:    now,
		windowStart:  now,
		lastFrameID:  -1,
		lastFallback: "none",
	}
}

// Observe records one delivered frame.
func (m *Monitor) Observe(frame *types.DeliveredFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.delivered++
	if frame.Neutral() {
		m.neutral++
	} else if frame.FrameID != m.lastFrameID {
		m.newFrames++
		m.lastFrameID = frame.FrameID
	}
	m.lastFallback = frame.Fallback
	m.lastDelivery = now

	m.windowCount++
	if elapsed := now.Sub(m.windowStart); elapsed >= time.Second {
		m.currentFPS = float64(m.windowCount) / elapsed.Seconds()
		m.windowStart = now
		m.windowCount = 0
	}
}

// Snapshot returns the current statistics.
func (m *Monitor) Snapshot() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		FramesDelivered: m.delivered,
		NeutralFrames:   m.neutral,
		NewFrames:       m.newFrames,
		LastFrameID:     m.lastFrameID,
		LastFallback:    m.lastFallback,
		CurrentFPS:      m.currentFPS,
		UptimeSeconds:   m.now().Sub(m.startTime).Seconds(),
	}
	if !m.lastDelivery.IsZero() {
		stats.LastDeliveryAge = m.now().Sub(m.lastDelivery).Seconds()
	}
	return stats
}

// MonitorStats is the delivery section of /api/status.
type MonitorStats struct {
	FramesDelivered uint64  `json:"frames_delivered"`
	NeutralFrames   uint64  `json:"neutral_frames"`
	NewFrames       uint64  `json:"new_frames"`
	LastFrameID     int32   `json:"last_frame_id"`
	LastFallback    string  `json:"last_fallback"`
	CurrentFPS      float64 `json:"current_fps"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	LastDeliveryAge float64 `json:"last_delivery_age_seconds"`
}

func (s MonitorStats) fields() map[string]any {
	return map[string]any{
		"frames_delivered":          s.FramesDelivered,
		"neutral_frames":            s.NeutralFrames,
		"new_frames":                s.NewFrames,
		"last_frame_id":             s.LastFrameID,
		"last_fallback":             s.LastFallback,
		"current_fps":               s.CurrentFPS,
		"uptime_seconds":            s.UptimeSeconds,
		"last_delivery_age_seconds": s.LastDeliveryAge,
	}
}
