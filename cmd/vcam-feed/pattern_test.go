package main

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/convert"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/format"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/shm"
)

func TestBoxStaysInFrame(t *testing.T) {
	bounds := image.Rect(0, 0, format.CanonicalWidth, format.CanonicalHeight)
	for n := 0; n < 1000; n++ {
		assert.True(t, boxAt(n).In(bounds), "frame %d: %v", n, boxAt(n))
	}
	assert.NotEqual(t, boxAt(0), boxAt(1))
}

func TestColourBarsRoundTrip(t *testing.T) {
	f := NewFeeder(nil)
	buf := make([]byte, shm.FrameSize)
	require.NoError(t, f.Next(buf))

	img, err := convert.SourceImage(buf)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, img.RGBAAt(10, 10))
	assert.Equal(t, color.RGBA{0x00, 0x00, 0xff, 0xff}, img.RGBAAt(format.CanonicalWidth*6/8+10, 10))
	assert.Equal(t, color.RGBA{0x80, 0x80, 0x80, 0xff}, img.RGBAAt(boxSize/2, format.CanonicalHeight/2))
}

func TestShortBufferIsNotPublished(t *testing.T) {
	w, err := shm.NewWriter(shm.NewRegion())
	require.NoError(t, err)
	f := NewFeeder(nil)

	id, err := w.PublishFrom(func(buf []byte) error { return f.Next(buf[:10]) })
	assert.ErrorIs(t, err, convert.ErrShortBuffer)
	assert.Equal(t, int32(0), id)
	assert.Equal(t, int32(0), w.FrameID())

	id, err = w.PublishFrom(f.Next)
	require.NoError(t, err)
	assert.Equal(t, int32(1), id)
}

func TestStillImageIsScaled(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 36))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 0x20, 0x40, 0x60, 0xff
	}
	f := NewFeeder(src)
	buf := make([]byte, shm.FrameSize)
	require.NoError(t, f.Next(buf))

	// Bottom-left pixel of the picture is the first BGR triple.
	for i, want := range []byte{0x60, 0x40, 0x20} {
		assert.InDelta(t, want, buf[i], 1)
	}
	assert.Equal(t, 1, f.frame)
}
