// Package scheduler drives per-pull frame delivery: it attaches to the frame
// channel on demand, converts the latest frame into the negotiated format or
// substitutes neutral black, and stamps every sample on a fixed frame clock.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/convert"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/format"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/shm"
)

// RefTime is a presentation time in 100 ns units.
type RefTime int64

// Duration converts r to a time.Duration.
func (r RefTime) Duration() time.Duration {
	return time.Duration(r) * 100
}

// Channel is the read side of the frame channel. *shm.Channel implements it.
type Channel interface {
	Open() error
	ReadLatest() (shm.Snapshot, []byte, error)
	Changed(shm.Snapshot) bool
	Attached() bool
	Close() error
}

// CapabilityEnumerator lists the formats a source can produce.
type CapabilityEnumerator interface {
	Count() int
	Describe(index int) (format.Capability, error)
}

// Negotiator agrees on an output format with the consumer.
type Negotiator interface {
	Negotiate(req format.Request) (format.Format, error)
	CurrentFormat() format.Format
}

// FrameFiller produces one sample per call into a consumer buffer.
type FrameFiller interface {
	FillNextFrame(dst []byte) (Sample, error)
}

var (
	_ CapabilityEnumerator = (*Source)(nil)
	_ Negotiator           = (*Source)(nil)
	_ FrameFiller          = (*Source)(nil)
)

// State is the attachment state of a Source.
type State int

const (
	StateUnattached State = iota
	StateAttachedNoFrame
	StateAttachedHasFrame
)

func (s State) String() string {
	switch s {
	case StateUnattached:
		return "unattached"
	case StateAttachedNoFrame:
		return "attached_no_frame"
	case StateAttachedHasFrame:
		return "attached_has_frame"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FallbackReason says why a sample carries neutral black instead of a frame.
type FallbackReason int

const (
	FallbackNone FallbackReason = iota
	FallbackChannelUnavailable
	FallbackStaleOrMissingFrame
	FallbackDestinationTooSmall
)

func (r FallbackReason) String() string {
	switch r {
	case FallbackNone:
		return "none"
	case FallbackChannelUnavailable:
		return "channel_unavailable"
	case FallbackStaleOrMissingFrame:
		return "stale_or_missing_frame"
	case FallbackDestinationTooSmall:
		return "destination_too_small"
	default:
		return fmt.Sprintf("FallbackReason(%d)", int(r))
	}
}

// MarshalText encodes r by name.
func (r FallbackReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Sample describes one delivered buffer.
type Sample struct {
	Start     RefTime        `json:"start"`
	End       RefTime        `json:"end"`
	Length    int            `json:"length"`
	FrameID   int32          `json:"frame_id"` // -1 when Fallback is set
	Fallback  FallbackReason `json:"fallback"`
	SyncPoint bool           `json:"sync_point"`
	Format    format.Format  `json:"format"`
}

// Options configures a Source. The zero value is usable.
type Options struct {
	Log     logger.Sink
	Metrics *metrics.Metrics
	// Format is the format active before negotiation. Zero or an unknown
	// pixel format means the default YUY2; the size is always canonical.
	Format format.Format
}

// Source is the frame scheduler. It is not safe for concurrent use; callers
// that negotiate and pull from different goroutines must serialise.
type Source struct {
	ch  Channel
	log logger.Module
	m   *metrics.Metrics

	cur    format.Format
	clock  RefTime
	lastID int32
	state  State
}

// New creates a Source reading from ch. It does not attach until the first
// FillNextFrame.
func New(ch Channel, opts Options) *Source {
	cur := format.Default()
	if opts.Format.PixelFormat.Valid() {
		cur.PixelFormat = opts.Format.PixelFormat
	}
	s := &Source{
		ch:     ch,
		log:    logger.For(opts.Log, "Scheduler"),
		m:      opts.Metrics,
		cur:    cur,
		lastID: -1,
		state:  StateUnattached,
	}
	if opts.Format != (format.Format{}) && opts.Format != cur {
		s.log.Warn("Initial format %s replaced by %s", opts.Format, cur)
	}
	if s.m != nil {
		s.m.FormatIndex.Store(int64(format.IndexOf(cur)))
	}
	return s
}

// Count returns the number of catalog entries.
func (s *Source) Count() int {
	return format.Count()
}

// Describe returns catalog entry index.
func (s *Source) Describe(index int) (format.Capability, error) {
	return format.Describe(index)
}

// CurrentFormat returns the negotiated format.
func (s *Source) CurrentFormat() format.Format {
	return s.cur
}

// State returns the attachment state seen by the last pull.
func (s *Source) State() State {
	return s.state
}

// LastFrameID returns the last producer frame id delivered, -1 if none.
func (s *Source) LastFrameID() int32 {
	return s.lastID
}

// Clock returns the start time of the next sample.
func (s *Source) Clock() RefTime {
	return s.clock
}

// Negotiate validates req against the catalog and makes the result current.
// The resolution always resolves to the canonical size. On error the
// current format is left unchanged.
func (s *Source) Negotiate(req format.Request) (format.Format, error) {
	f, err := format.Negotiate(req)
	if err != nil {
		s.log.Warn("Rejected media type %s %v %dx%d: %v", req.MajorKind, req.Subtype, req.Width, req.Height, err)
		if s.m != nil {
			s.m.NegotiationsRejected.Add(1)
		}
		return s.cur, err
	}

	s.log.Info("Negotiated %s (requested %dx%d)", f, req.Width, req.Height)
	s.cur = f
	if s.m != nil {
		s.m.NegotiationsAccepted.Add(1)
		s.m.FormatIndex.Store(int64(format.IndexOf(f)))
	}
	return f, nil
}

// FillNextFrame fills dst with the next sample. Missing data never produces
// an error: the sample is filled with neutral black and Fallback says why.
// Length is always the byte size of the current format, even when dst was
// too small to hold it.
func (s *Source) FillNextFrame(dst []byte) (Sample, error) {
	if !s.ch.Attached() {
		s.open()
	}

	f := s.cur
	need := f.SampleSize()
	sample := Sample{
		Start:     s.clock,
		End:       s.clock + RefTime(format.FrameInterval),
		Length:    need,
		FrameID:   -1,
		SyncPoint: true,
		Format:    f,
	}
	s.clock = sample.End

	snap, frame, err := s.ch.ReadLatest()
	switch {
	case errors.Is(err, shm.ErrChannelUnavailable):
		s.setState(StateUnattached)
		sample.Fallback = FallbackChannelUnavailable
	case err != nil:
		s.setState(StateAttachedNoFrame)
		sample.Fallback = FallbackStaleOrMissingFrame
	case len(dst) < need:
		s.setState(StateAttachedHasFrame)
		sample.Fallback = FallbackDestinationTooSmall
	default:
		s.setState(StateAttachedHasFrame)
		start := time.Now()
		if _, cerr := convert.Convert(dst, frame, f); cerr != nil {
			s.log.Error("Conversion to %s failed: %v", f, cerr)
			sample.Fallback = FallbackStaleOrMissingFrame
			break
		}
		if s.m != nil {
			s.m.UpdateConvertLatency(time.Since(start))
		}
		if s.ch.Changed(snap) {
			s.log.Debug("Frame %d republished during conversion", snap.FrameID)
			if s.m != nil {
				s.m.TornReadSuspects.Add(1)
			}
		}
		sample.FrameID = snap.FrameID
		s.observe(snap.FrameID)
	}

	if sample.Fallback != FallbackNone {
		convert.Neutral(dst, f.PixelFormat, f.Width, f.Height)
	}
	s.count(sample.Fallback)
	return sample, nil
}

// Close detaches from the channel. The Source attaches again on the next
// FillNextFrame.
func (s *Source) Close() error {
	s.setState(StateUnattached)
	return s.ch.Close()
}

func (s *Source) open() {
	before := s.attempts()
	err := s.ch.Open()
	if s.m != nil {
		s.m.OpenAttempts.Add(uint64(max(s.attempts()-before, 1)))
		if err != nil {
			s.m.OpenFailures.Add(1)
		}
		s.m.SetAttached(s.ch.Attached())
	}
	if err != nil {
		s.log.Debug("Channel not available, delivering neutral frames: %v", err)
	}
}

func (s *Source) attempts() int {
	if a, ok := s.ch.(interface{ Attempts() int }); ok {
		return a.Attempts()
	}
	return 0
}

func (s *Source) setState(st State) {
	if st == s.state {
		return
	}
	s.log.Info("State %s -> %s", s.state, st)
	s.state = st
	if s.m != nil {
		s.m.SetAttached(st != StateUnattached)
	}
}

func (s *Source) observe(id int32) {
	if id == s.lastID {
		return
	}
	s.log.Debug("New frame %d (previous %d)", id, s.lastID)
	s.lastID = id
	if s.m != nil {
		s.m.NewFrameIDs.Add(1)
		s.m.LastFrameID.Store(int64(id))
	}
}

func (s *Source) count(reason FallbackReason) {
	if s.m == nil {
		return
	}
	s.m.FramesDelivered.Add(1)
	switch reason {
	case FallbackNone:
		s.m.FramesConverted.Add(1)
		return
	case FallbackChannelUnavailable:
		s.m.ChannelUnavailable.Add(1)
	case FallbackStaleOrMissingFrame:
		s.m.StaleFrames.Add(1)
	case FallbackDestinationTooSmall:
		s.m.DestinationSmall.Add(1)
	}
	s.m.NeutralFrames.Add(1)
}
