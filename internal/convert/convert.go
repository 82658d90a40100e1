// Package convert turns canonical BGR frames from the shared segment into the
// negotiated output layout.
//
// Source frames are 1920x1080 BGR24 stored bottom-up. Scaling is nearest
// neighbour and colour conversion is the integer BT.601 studio-swing
// transform without clamping.
package convert

import (
	"errors"
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/format"
)

const (
	srcWidth  = format.CanonicalWidth
	srcHeight = format.CanonicalHeight
	srcStride = srcWidth * 3

	// SourceSize is the byte length of one canonical BGR frame.
	SourceSize = srcStride * srcHeight
)

var (
	ErrShortBuffer       = errors.New("buffer too small")
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// YUV converts one RGB pixel. Results wrap rather than saturate.
func YUV(r, g, b byte) (y, u, v byte) {
	R, G, B := int(r), int(g), int(b)
	y = byte(((66*R + 129*G + 25*B + 128) >> 8) + 16)
	u = byte(((-38*R - 74*G + 112*B + 128) >> 8) + 128)
	v = byte(((112*R - 94*G - 18*B + 128) >> 8) + 128)
	return y, u, v
}

// SourceX maps destination column x of an outW-wide frame to a source column.
func SourceX(x, outW int) int {
	return x * srcWidth / outW
}

// SourceRow maps destination row y (top-down) of an outH-high frame to a
// source row. Source rows are stored bottom-up.
func SourceRow(y, outH int) int {
	return srcHeight - 1 - y*srcHeight/outH
}

func pixel(src []byte, row, col int) (byte, byte, byte) {
	off := row*srcStride + col*3
	return src[off+2], src[off+1], src[off]
}

// Convert writes the frame in src into dst using f and returns the number
// of bytes written. f.Width and f.Height must be positive and even.
func Convert(dst, src []byte, f format.Format) (int, error) {
	if !f.PixelFormat.Valid() || f.Width <= 0 || f.Height <= 0 || f.Width%2 != 0 || f.Height%2 != 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	if len(src) < SourceSize {
		return 0, fmt.Errorf("%w: source %d < %d", ErrShortBuffer, len(src), SourceSize)
	}
	need := f.SampleSize()
	if len(dst) < need {
		return 0, fmt.Errorf("%w: destination %d < %d", ErrShortBuffer, len(dst), need)
	}

	switch f.PixelFormat {
	case format.PixelFormatYUY2:
		toYUY2(dst, src, f.Width, f.Height)
	case format.PixelFormatNV12:
		toNV12(dst, src, f.Width, f.Height)
	case format.PixelFormatI420:
		toI420(dst, src, f.Width, f.Height)
	case format.PixelFormatRGB24:
		toRGB24(dst, src, f.Width, f.Height)
	}
	return need, nil
}

func toYUY2(dst, src []byte, w, h int) {
	i := 0
	for y := 0; y < h; y++ {
		row := SourceRow(y, h)
		for x := 0; x < w; x += 2 {
			r1, g1, b1 := pixel(src, row, SourceX(x, w))
			r2, g2, b2 := pixel(src, row, SourceX(x+1, w))
			y1, u, v := YUV(r1, g1, b1)
			y2, _, _ := YUV(r2, g2, b2)
			dst[i] = y1
			dst[i+1] = u
			dst[i+2] = y2
			dst[i+3] = v
			i += 4
		}
	}
}

func toNV12(dst, src []byte, w, h int) {
	uv := dst[w*h:]
	for y := 0; y < h; y++ {
		row := SourceRow(y, h)
		luma := dst[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			r, g, b := pixel(src, row, SourceX(x, w))
			Y, U, V := YUV(r, g, b)
			luma[x] = Y
			if y%2 == 0 && x%2 == 0 {
				ci := (y/2)*w + x
				uv[ci] = U
				uv[ci+1] = V
			}
		}
	}
}

func toI420(dst, src []byte, w, h int) {
	uPlane := dst[w*h:]
	vPlane := uPlane[w*h/4:]
	for y := 0; y < h; y++ {
		row := SourceRow(y, h)
		luma := dst[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			r, g, b := pixel(src, row, SourceX(x, w))
			Y, U, V := YUV(r, g, b)
			luma[x] = Y
			if y%2 == 0 && x%2 == 0 {
				ci := (y/2)*(w/2) + x/2
				uPlane[ci] = U
				vPlane[ci] = V
			}
		}
	}
}

// toRGB24 copies the canonical frame as is. Smaller sizes take the top-left
// w x h window, emitted top-down.
func toRGB24(dst, src []byte, w, h int) {
	if w == srcWidth && h == srcHeight {
		copy(dst, src[:SourceSize])
		return
	}
	n := w * 3
	for y := 0; y < h; y++ {
		from := (srcHeight - 1 - y) * srcStride
		copy(dst[y*n:(y+1)*n], src[from:from+n])
	}
}

// Neutral fills dst with black in layout pf and returns the number of bytes
// written, at most the frame size for w x h.
func Neutral(dst []byte, pf format.PixelFormat, w, h int) int {
	n := min(len(dst), format.BufferByteSize(pf, w, h))
	if n <= 0 {
		return 0
	}
	out := dst[:n]

	switch pf {
	case format.PixelFormatYUY2:
		for i := range out {
			if i%2 == 0 {
				out[i] = 16
			} else {
				out[i] = 128
			}
		}
	case format.PixelFormatNV12, format.PixelFormatI420:
		luma := min(n, w*h)
		fill(out[:luma], 16)
		fill(out[luma:], 128)
	case format.PixelFormatRGB24:
		clear(out)
	}
	return n
}

func fill(b []byte, v byte) {
	if len(b) == 0 {
		return
	}
	b[0] = v
	for i := 1; i < len(b); i *= 2 {
		copy(b[i:], b[:i])
	}
}
