// Package format holds the fixed capability catalog of the virtual camera and
// the policy that reconciles a caller's requested media type with it.
package format

import (
	"fmt"
	"strings"
)

// Canonical frame geometry. The shared segment always carries frames of this
// size and negotiation always resolves to it.
const (
	CanonicalWidth  = 1920
	CanonicalHeight = 1080
)

// FrameInterval is 1/30 s in 100 ns units.
const FrameInterval int64 = 333333

// PixelFormat identifies an output pixel layout.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = -1
	PixelFormatYUY2    PixelFormat = 0 // packed 4:2:2, Y0 U Y1 V
	PixelFormatNV12    PixelFormat = 1 // Y plane + interleaved UV plane
	PixelFormatI420    PixelFormat = 2 // Y plane + U plane + V plane
	PixelFormatRGB24   PixelFormat = 3 // packed BGR, bottom-up
)

// Formats lists the catalog's pixel formats in format-group order.
var Formats = [...]PixelFormat{PixelFormatYUY2, PixelFormatNV12, PixelFormatI420, PixelFormatRGB24}

func (pf PixelFormat) String() string {
	switch pf {
	case PixelFormatYUY2:
		return "YUY2"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatI420:
		return "I420"
	case PixelFormatRGB24:
		return "RGB24"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes pf by name.
func (pf PixelFormat) MarshalText() ([]byte, error) {
	return []byte(pf.String()), nil
}

// UnmarshalText decodes a format name. Unknown names decode to
// PixelFormatUnknown so that negotiation can reject them.
func (pf *PixelFormat) UnmarshalText(text []byte) error {
	parsed, err := ParsePixelFormat(string(text))
	if err != nil {
		*pf = PixelFormatUnknown
		return nil
	}
	*pf = parsed
	return nil
}

// Valid reports whether pf is one of the catalog formats.
func (pf PixelFormat) Valid() bool {
	return pf >= PixelFormatYUY2 && pf <= PixelFormatRGB24
}

// FourCC returns the compression tag advertised for pf. RGB24 is
// uncompressed and reports 0 (BI_RGB).
func (pf PixelFormat) FourCC() uint32 {
	switch pf {
	case PixelFormatYUY2:
		return fourCC('Y', 'U', 'Y', '2')
	case PixelFormatNV12:
		return fourCC('N', 'V', '1', '2')
	case PixelFormatI420:
		return fourCC('I', '4', '2', '0')
	default:
		return 0
	}
}

// BitsPerPixel returns the average storage cost of one pixel.
func (pf PixelFormat) BitsPerPixel() int {
	switch pf {
	case PixelFormatYUY2:
		return 16
	case PixelFormatNV12, PixelFormatI420:
		return 12
	case PixelFormatRGB24:
		return 24
	default:
		return 0
	}
}

func fourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// ParsePixelFormat accepts the names used in config files and the HTTP API.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YUY2", "YUYV":
		return PixelFormatYUY2, nil
	case "NV12":
		return PixelFormatNV12, nil
	case "I420", "YUV420P":
		return PixelFormatI420, nil
	case "RGB24", "BGR24":
		return PixelFormatRGB24, nil
	default:
		return PixelFormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedSubtype, s)
	}
}

// BufferByteSize returns the number of bytes one frame of pf occupies at w x h.
// Unknown formats report 0.
func BufferByteSize(pf PixelFormat, w, h int) int {
	switch pf {
	case PixelFormatYUY2:
		return w * h * 2
	case PixelFormatRGB24:
		return w * h * 3
	case PixelFormatNV12, PixelFormatI420:
		return w * h * 3 / 2
	default:
		return 0
	}
}

// Format is a negotiated output format.
type Format struct {
	PixelFormat PixelFormat `json:"pixel_format"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
}

// SampleSize is BufferByteSize for f.
func (f Format) SampleSize() int {
	return BufferByteSize(f.PixelFormat, f.Width, f.Height)
}

// Canonical reports whether f has the canonical resolution.
func (f Format) Canonical() bool {
	return f.Width == CanonicalWidth && f.Height == CanonicalHeight
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dx%d", f.PixelFormat, f.Width, f.Height)
}

// Default is the format active before any negotiation.
func Default() Format {
	return Format{PixelFormat: PixelFormatYUY2, Width: CanonicalWidth, Height: CanonicalHeight}
}
