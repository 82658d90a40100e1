package scheduler

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/format"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/shm"
)

type recordingSink struct {
	lines []string
}

func (r *recordingSink) Logf(level logger.LogLevel, module, f string, args ...interface{}) {
	r.lines = append(r.lines, module+": "+f)
}

func unavailableChannel() *shm.Channel {
	cfg := shm.DefaultChannelConfig()
	cfg.Mapper = func(string) ([]byte, func() error, error) {
		return nil, nil, errors.New("no segment")
	}
	cfg.Sleep = func(time.Duration) {}
	return shm.NewChannel(cfg, nil)
}

func regionChannel(mem []byte) *shm.Channel {
	cfg := shm.DefaultChannelConfig()
	cfg.Mapper = shm.MemoryMapper(mem)
	cfg.Sleep = func(time.Duration) {}
	return shm.NewChannel(cfg, nil)
}

func nv12Request(w, h int) format.Request {
	return format.Request{MajorKind: format.MediaVideo, Subtype: format.PixelFormatNV12, Width: w, Height: h}
}

func TestNegotiateForcesCanonicalSize(t *testing.T) {
	m := metrics.New()
	src := New(unavailableChannel(), Options{Metrics: m})

	f, err := src.Negotiate(nv12Request(1280, 720))
	require.NoError(t, err)

	want := format.Format{PixelFormat: format.PixelFormatNV12, Width: 1920, Height: 1080}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("Negotiate() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, want, src.CurrentFormat())
	assert.Equal(t, 3110400, src.CurrentFormat().SampleSize())
	assert.Equal(t, uint64(1), m.NegotiationsAccepted.Load())
	assert.Equal(t, int64(1), m.FormatIndex.Load())
}

func TestNegotiateRejectsUnknownResolution(t *testing.T) {
	m := metrics.New()
	src := New(unavailableChannel(), Options{Metrics: m})
	before := src.CurrentFormat()

	_, err := src.Negotiate(nv12Request(800, 600))
	assert.ErrorIs(t, err, format.ErrUnsupportedResolution)
	assert.Equal(t, before, src.CurrentFormat())
	assert.Equal(t, uint64(1), m.NegotiationsRejected.Load())

	_, err = src.Negotiate(format.Request{MajorKind: format.MediaAudio, Subtype: format.PixelFormatNV12, Width: 1920, Height: 1080})
	assert.ErrorIs(t, err, format.ErrUnsupportedMediaKind)
	assert.Equal(t, before, src.CurrentFormat())
}

func TestDefaultFormat(t *testing.T) {
	src := New(unavailableChannel(), Options{})
	assert.Equal(t, format.Default(), src.CurrentFormat())
	assert.Equal(t, 16, src.Count())
	c, err := src.Describe(5)
	require.NoError(t, err)
	assert.Equal(t, format.PixelFormatNV12, c.PixelFormat)
	assert.Equal(t, 1280, c.Width)
}

func TestInitialFormatIsForcedCanonical(t *testing.T) {
	m := metrics.New()
	src := New(unavailableChannel(), Options{
		Metrics: m,
		Format:  format.Format{PixelFormat: format.PixelFormatYUY2, Width: 641, Height: 480},
	})
	want := format.Default()
	assert.Equal(t, want, src.CurrentFormat())
	assert.Equal(t, int64(format.IndexOf(want)), m.FormatIndex.Load())

	src = New(unavailableChannel(), Options{
		Format: format.Format{PixelFormat: format.PixelFormatNV12, Width: 640, Height: 360},
	})
	assert.Equal(t, format.Format{PixelFormat: format.PixelFormatNV12, Width: 1920, Height: 1080}, src.CurrentFormat())

	src = New(unavailableChannel(), Options{Format: format.Format{Width: 1920, Height: 1080}})
	assert.Equal(t, want, src.CurrentFormat())
}

func TestOddInitialSizeDeliversCanonicalFrame(t *testing.T) {
	mem := shm.NewRegion()
	w, err := shm.NewWriter(mem)
	require.NoError(t, err)
	require.NoError(t, w.Publish(bytes.Repeat([]byte{255}, shm.FrameSize)))

	src := New(regionChannel(mem), Options{
		Format: format.Format{PixelFormat: format.PixelFormatYUY2, Width: 641, Height: 480},
	})
	dst := make([]byte, format.Default().SampleSize())
	var sample Sample
	require.NotPanics(t, func() { sample, err = src.FillNextFrame(dst) })
	require.NoError(t, err)
	assert.Equal(t, FallbackNone, sample.Fallback)
	assert.Equal(t, format.Default(), sample.Format)
	assert.Equal(t, []byte{235, 128, 235, 128}, dst[:4])
}

func TestUnopenedChannelDeliversNeutralFrames(t *testing.T) {
	m := metrics.New()
	src := New(unavailableChannel(), Options{Metrics: m})
	_, err := src.Negotiate(nv12Request(1920, 1080))
	require.NoError(t, err)

	dst := make([]byte, 3110400)
	sample, err := src.FillNextFrame(dst)
	require.NoError(t, err)

	assert.Equal(t, RefTime(0), sample.Start)
	assert.Equal(t, RefTime(333333), sample.End)
	assert.Equal(t, 3110400, sample.Length)
	assert.Equal(t, FallbackChannelUnavailable, sample.Fallback)
	assert.Equal(t, int32(-1), sample.FrameID)
	assert.True(t, sample.SyncPoint)
	assert.Equal(t, StateUnattached, src.State())

	luma := 1920 * 1080
	assert.True(t, bytes.Equal(bytes.Repeat([]byte{16}, luma), dst[:luma]))
	assert.True(t, bytes.Equal(bytes.Repeat([]byte{128}, 1036800), dst[luma:]))
	first := bytes.Clone(dst)

	sample, err = src.FillNextFrame(dst)
	require.NoError(t, err)
	assert.Equal(t, RefTime(333333), sample.Start)
	assert.Equal(t, RefTime(666666), sample.End)
	assert.True(t, bytes.Equal(first, dst))

	assert.Equal(t, uint64(2), m.ChannelUnavailable.Load())
	assert.Equal(t, uint64(2), m.NeutralFrames.Load())
	assert.Equal(t, uint64(2), m.OpenFailures.Load())
	assert.Equal(t, uint64(6), m.OpenAttempts.Load())
}

func TestWhiteFrameDelivery(t *testing.T) {
	mem := shm.NewRegion()
	w, err := shm.NewWriter(mem)
	require.NoError(t, err)
	white := bytes.Repeat([]byte{255}, shm.FrameSize)
	require.NoError(t, w.Publish(white))

	m := metrics.New()
	src := New(regionChannel(mem), Options{Metrics: m})

	_, err = src.Negotiate(format.Request{MajorKind: format.MediaVideo, Subtype: format.PixelFormatRGB24, Width: 1920, Height: 1080})
	require.NoError(t, err)
	rgb := make([]byte, shm.FrameSize)
	sample, err := src.FillNextFrame(rgb)
	require.NoError(t, err)
	assert.Equal(t, FallbackNone, sample.Fallback)
	assert.Equal(t, int32(1), sample.FrameID)
	assert.Equal(t, StateAttachedHasFrame, src.State())
	assert.True(t, bytes.Equal(white, rgb))

	_, err = src.Negotiate(format.Request{MajorKind: format.MediaVideo, Subtype: format.PixelFormatYUY2, Width: 640, Height: 480})
	require.NoError(t, err)
	yuy2 := make([]byte, 1920*1080*2)
	sample, err = src.FillNextFrame(yuy2)
	require.NoError(t, err)
	assert.Equal(t, FallbackNone, sample.Fallback)
	assert.Equal(t, len(yuy2), sample.Length)
	assert.True(t, bytes.Equal(bytes.Repeat([]byte{235, 128}, 1920*1080), yuy2))

	assert.Equal(t, int32(1), src.LastFrameID())
	assert.Equal(t, uint64(1), m.NewFrameIDs.Load())
	assert.Equal(t, uint64(2), m.FramesConverted.Load())
	assert.Equal(t, int64(1), m.LastFrameID.Load())
}

func TestStaleFrameAfterAttach(t *testing.T) {
	mem := shm.NewRegion()
	w, err := shm.NewWriter(mem)
	require.NoError(t, err)

	src := New(regionChannel(mem), Options{})
	dst := make([]byte, format.Default().SampleSize())
	sample, err := src.FillNextFrame(dst)
	require.NoError(t, err)
	assert.Equal(t, FallbackStaleOrMissingFrame, sample.Fallback)
	assert.Equal(t, StateAttachedNoFrame, src.State())
	assert.Equal(t, []byte{16, 128, 16, 128}, dst[:4])

	require.NoError(t, w.Publish(make([]byte, shm.FrameSize)))
	sample, err = src.FillNextFrame(dst)
	require.NoError(t, err)
	assert.Equal(t, FallbackNone, sample.Fallback)
	assert.Equal(t, StateAttachedHasFrame, src.State())

	w.Invalidate()
	sample, err = src.FillNextFrame(dst)
	require.NoError(t, err)
	assert.Equal(t, FallbackStaleOrMissingFrame, sample.Fallback)
	assert.Equal(t, RefTime(2*format.FrameInterval), sample.Start)
}

func TestDestinationTooSmall(t *testing.T) {
	mem := shm.NewRegion()
	w, err := shm.NewWriter(mem)
	require.NoError(t, err)
	require.NoError(t, w.Publish(bytes.Repeat([]byte{255}, shm.FrameSize)))

	m := metrics.New()
	src := New(regionChannel(mem), Options{Metrics: m})
	dst := bytes.Repeat([]byte{0xEE}, 10)
	sample, err := src.FillNextFrame(dst)
	require.NoError(t, err)

	assert.Equal(t, FallbackDestinationTooSmall, sample.Fallback)
	assert.Equal(t, format.Default().SampleSize(), sample.Length)
	assert.Equal(t, []byte{16, 128, 16, 128, 16, 128, 16, 128, 16, 128}, dst)
	assert.Equal(t, uint64(1), m.DestinationSmall.Load())
}

func TestNewFrameIDsAreTracked(t *testing.T) {
	mem := shm.NewRegion()
	w, err := shm.NewWriter(mem)
	require.NoError(t, err)

	sink := &recordingSink{}
	src := New(regionChannel(mem), Options{Log: sink})
	assert.Equal(t, int32(-1), src.LastFrameID())

	dst := make([]byte, format.Default().SampleSize())
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Publish(make([]byte, shm.FrameSize)))
		sample, err := src.FillNextFrame(dst)
		require.NoError(t, err)
		assert.Equal(t, int32(i+1), sample.FrameID)
	}
	// Same frame twice keeps the id.
	sample, err := src.FillNextFrame(dst)
	require.NoError(t, err)
	assert.Equal(t, int32(3), sample.FrameID)
	assert.Equal(t, int32(3), src.LastFrameID())

	var newFrames int
	for _, l := range sink.lines {
		if l == "Scheduler: New frame %d (previous %d)" {
			newFrames++
		}
	}
	assert.Equal(t, 3, newFrames)
}

// flippingChannel republishes after every read.
type flippingChannel struct {
	frame []byte
	id    int32
}

func (f *flippingChannel) Open() error    { return nil }
func (f *flippingChannel) Attached() bool { return true }
func (f *flippingChannel) Close() error   { return nil }
func (f *flippingChannel) ReadLatest() (shm.Snapshot, []byte, error) {
	f.id++
	return shm.Snapshot{FrameID: f.id, BufferIndex: int(f.id % 2), ByteLength: shm.FrameSize}, f.frame, nil
}
func (f *flippingChannel) Changed(snap shm.Snapshot) bool { return true }

func TestTornReadSuspectsAreCountedOnly(t *testing.T) {
	m := metrics.New()
	ch := &flippingChannel{frame: bytes.Repeat([]byte{255}, shm.FrameSize)}
	src := New(ch, Options{Metrics: m, Format: format.Format{PixelFormat: format.PixelFormatRGB24, Width: 1920, Height: 1080}})

	dst := make([]byte, shm.FrameSize)
	sample, err := src.FillNextFrame(dst)
	require.NoError(t, err)
	assert.Equal(t, FallbackNone, sample.Fallback)
	assert.True(t, bytes.Equal(ch.frame, dst))
	assert.Equal(t, uint64(1), m.TornReadSuspects.Load())
}

func TestCloseDetaches(t *testing.T) {
	mem := shm.NewRegion()
	w, err := shm.NewWriter(mem)
	require.NoError(t, err)
	require.NoError(t, w.Publish(make([]byte, shm.FrameSize)))

	ch := regionChannel(mem)
	src := New(ch, Options{})
	_, err = src.FillNextFrame(make([]byte, format.Default().SampleSize()))
	require.NoError(t, err)
	assert.True(t, ch.Attached())

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.False(t, ch.Attached())
	assert.Equal(t, StateUnattached, src.State())

	sample, err := src.FillNextFrame(make([]byte, format.Default().SampleSize()))
	require.NoError(t, err)
	assert.Equal(t, FallbackNone, sample.Fallback)
}

func TestRefTimeDuration(t *testing.T) {
	assert.Equal(t, 33333300*time.Nanosecond, RefTime(format.FrameInterval).Duration())
	assert.Equal(t, "stale_or_missing_frame", FallbackStaleOrMissingFrame.String())
	assert.Equal(t, "attached_has_frame", StateAttachedHasFrame.String())
}
