package preview

import (
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/pkg/types"
)

// FrameBroadcaster encodes the latest delivered frame and fans the JPEG out
// to stream clients. Encoding only happens while someone is watching or a
// snapshot is requested.
type FrameBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan []byte
	nextID   int
	latest   *types.DeliveredFrame
	jpeg     []byte
	jpegSeq  uint64
	hasJPEG  bool
	notify   chan struct{}
	stop     chan struct{}
	stopped  bool
	encoder  Encoder
	interval time.Duration
	log      logger.Module
	metrics  *metrics.Metrics
}

// NewFrameBroadcaster creates a broadcaster that encodes with enc and emits
// at most one frame per interval.
func NewFrameBroadcaster(enc Encoder, interval time.Duration, m *metrics.Metrics, sink logger.Sink) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients:  make(map[int]chan []byte),
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		encoder:  enc,
		interval: interval,
		log:      logger.For(sink, "FrameBroadcaster"),
		metrics:  m,
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2)
	fb.clients[id] = ch
	if fb.metrics != nil {
		fb.metrics.PreviewClients.Store(uint64(len(fb.clients)))
	}

	fb.log.Debug("Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.PreviewClients.Store(uint64(len(fb.clients)))
		}
		fb.log.Debug("Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Clients returns the number of subscribed stream clients.
func (fb *FrameBroadcaster) Clients() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Publish hands over the newest frame. It never blocks; frames published
// faster than they are encoded replace each other.
func (fb *FrameBroadcaster) Publish(frame *types.DeliveredFrame) {
	fb.mu.Lock()
	fb.latest = frame
	fb.mu.Unlock()

	select {
	case fb.notify <- struct{}{}:
	default:
	}
}

// Start begins the encode and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster and disconnects all clients.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.stopped {
		return
	}
	close(fb.stop)
	fb.stopped = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
}

func (fb *FrameBroadcaster) run() {
	for {
		select {
		case <-fb.stop:
			return
		case <-fb.notify:
		}

		if fb.Clients() == 0 {
			continue
		}

		data, ok := fb.Snapshot()
		if !ok {
			continue
		}
		fb.broadcast(data)

		if fb.interval > 0 {
			select {
			case <-fb.stop:
				return
			case <-time.After(fb.interval):
			}
		}
	}
}

// Snapshot returns the JPEG of the latest frame, encoding it if the cached
// one is older. ok is false before the first frame.
func (fb *FrameBroadcaster) Snapshot() ([]byte, bool) {
	fb.mu.Lock()
	frame := fb.latest
	if frame == nil {
		fb.mu.Unlock()
		return nil, false
	}
	if fb.hasJPEG && fb.jpegSeq == frame.Sequence {
		data := fb.jpeg
		fb.mu.Unlock()
		return data, true
	}
	fb.mu.Unlock()

	data, err := fb.encoder.Encode(frame)
	if err != nil {
		fb.log.Warn("Failed to encode frame %d: %v", frame.Sequence, err)
		return nil, false
	}

	fb.mu.Lock()
	fb.jpeg = data
	fb.jpegSeq = frame.Sequence
	fb.hasJPEG = true
	fb.mu.Unlock()
	return data, true
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
			if fb.metrics != nil {
				fb.metrics.PreviewFramesDropped.Add(1)
			}
		}
	}
}
