package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Delivery counters
	FramesDelivered atomic.Uint64
	FramesConverted atomic.Uint64
	NeutralFrames   atomic.Uint64
	NewFrameIDs     atomic.Uint64

	// Fallback reasons
	StaleFrames        atomic.Uint64
	ChannelUnavailable atomic.Uint64
	DestinationSmall   atomic.Uint64
	TornReadSuspects   atomic.Uint64

	// Channel attach
	OpenAttempts atomic.Uint64
	OpenFailures atomic.Uint64

	// Negotiation
	NegotiationsAccepted atomic.Uint64
	NegotiationsRejected atomic.Uint64

	// State
	ChannelAttached  atomic.Uint64 // 0 = detached, 1 = attached
	LastFrameID      atomic.Int64
	ConvertLatencyUs atomic.Uint64
	FormatIndex      atomic.Int64 // catalog index of the current format

	// Consumers
	PreviewClients        atomic.Uint64
	PreviewFramesDropped  atomic.Uint64
	RecorderFramesSent    atomic.Uint64
	RecorderFramesDropped atomic.Uint64
	RecordingActive       atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes        atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.LastFrameID.Store(-1)
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, f func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		f,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Delivery
	m.counter("vcam_frames_delivered_total", "Total samples handed to the consumer", &m.FramesDelivered)
	m.counter("vcam_frames_converted_total", "Total samples converted from a live frame", &m.FramesConverted)
	m.counter("vcam_neutral_frames_total", "Total samples filled with neutral black", &m.NeutralFrames)
	m.counter("vcam_new_frame_ids_total", "Total distinct producer frame ids observed", &m.NewFrameIDs)

	// Fallbacks
	m.counter("vcam_stale_frames_total", "Samples without a valid frame in shared memory", &m.StaleFrames)
	m.counter("vcam_channel_unavailable_total", "Samples produced while shared memory was not attached", &m.ChannelUnavailable)
	m.counter("vcam_destination_too_small_total", "Samples whose destination buffer was too small", &m.DestinationSmall)
	m.counter("vcam_torn_read_suspects_total", "Frames the producer republished during conversion", &m.TornReadSuspects)

	// Attach
	m.counter("vcam_shm_open_attempts_total", "Shared memory mapping attempts", &m.OpenAttempts)
	m.counter("vcam_shm_open_failures_total", "Shared memory open calls that gave up", &m.OpenFailures)

	// Negotiation
	m.counter("vcam_negotiations_accepted_total", "Accepted format negotiations", &m.NegotiationsAccepted)
	m.counter("vcam_negotiations_rejected_total", "Rejected format negotiations", &m.NegotiationsRejected)

	// State
	m.gauge("vcam_channel_attached", "Shared memory attached (0=no, 1=yes)",
		func() float64 { return float64(m.ChannelAttached.Load()) })
	m.gauge("vcam_last_frame_id", "Last producer frame id observed",
		func() float64 { return float64(m.LastFrameID.Load()) })
	m.gauge("vcam_convert_latency_us", "Duration of the last conversion in microseconds",
		func() float64 { return float64(m.ConvertLatencyUs.Load()) })
	m.gauge("vcam_format_index", "Catalog index of the current output format",
		func() float64 { return float64(m.FormatIndex.Load()) })

	// Consumers
	m.gauge("vcam_preview_clients", "Connected preview stream clients",
		func() float64 { return float64(m.PreviewClients.Load()) })
	m.counter("vcam_preview_frames_dropped_total", "Frames dropped for slow preview clients", &m.PreviewFramesDropped)
	m.counter("vcam_recorder_frames_sent_total", "Frames queued to the recorder", &m.RecorderFramesSent)
	m.counter("vcam_recorder_frames_dropped_total", "Frames the recorder queue rejected", &m.RecorderFramesDropped)
	m.gauge("vcam_recording_active", "Recording active (0=inactive, 1=active)",
		func() float64 { return float64(m.RecordingActive.Load()) })
	m.gauge("vcam_recording_bytes", "Bytes written to the current recording",
		func() float64 { return float64(m.RecordingBytes.Load()) })
}

// UpdateConvertLatency records how long the last conversion took
func (m *Metrics) UpdateConvertLatency(d time.Duration) {
	m.ConvertLatencyUs.Store(uint64(d.Microseconds()))
}

// SetAttached records whether the channel is mapped
func (m *Metrics) SetAttached(attached bool) {
	if attached {
		m.ChannelAttached.Store(1)
	} else {
		m.ChannelAttached.Store(0)
	}
}

// Registry exposes the private registry for tests and custom handlers
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics on addr. The caller
// owns its lifecycle.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
