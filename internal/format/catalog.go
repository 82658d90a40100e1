package format

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedMediaKind  = errors.New("unsupported media kind")
	ErrUnsupportedSubtype    = errors.New("unsupported subtype")
	ErrUnsupportedResolution = errors.New("unsupported resolution")
	ErrIndexOutOfRange       = errors.New("capability index out of range")
)

// MediaKind is the major type of a requested media stream.
type MediaKind int

const (
	MediaUnknown MediaKind = iota
	MediaVideo
	MediaAudio
)

func (k MediaKind) String() string {
	switch k {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// MarshalText encodes k by name.
func (k MediaKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes "video", "audio"; anything else is MediaUnknown.
func (k *MediaKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "video", "Video", "VIDEO":
		*k = MediaVideo
	case "audio", "Audio", "AUDIO":
		*k = MediaAudio
	default:
		*k = MediaUnknown
	}
	return nil
}

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Resolutions lists the catalog sizes in size-group order.
var Resolutions = [...]Resolution{
	{1920, 1080},
	{1280, 720},
	{960, 540},
	{640, 480},
}

// Capability describes one advertised (format, size) pair.
type Capability struct {
	Index         int         `json:"index"`
	PixelFormat   PixelFormat `json:"pixel_format"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	FrameInterval int64       `json:"frame_interval"`
	SampleSize    int         `json:"sample_size"`
}

// Format returns the capability's pixel format and size.
func (c Capability) Format() Format {
	return Format{PixelFormat: c.PixelFormat, Width: c.Width, Height: c.Height}
}

// Request is a caller's proposed media type. Height may be negative for a
// top-down layout; only its magnitude is checked.
type Request struct {
	MajorKind MediaKind   `json:"major_kind"`
	Subtype   PixelFormat `json:"subtype"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
}

// Count returns the number of catalog entries.
func Count() int {
	return len(Resolutions) * len(Formats)
}

// Describe returns the capability at index (sizeGroup*4 + formatGroup).
func Describe(index int) (Capability, error) {
	if index < 0 || index >= Count() {
		return Capability{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	res := Resolutions[index/len(Formats)]
	pf := Formats[index%len(Formats)]
	return Capability{
		Index:         index,
		PixelFormat:   pf,
		Width:         res.Width,
		Height:        res.Height,
		FrameInterval: FrameInterval,
		SampleSize:    BufferByteSize(pf, res.Width, res.Height),
	}, nil
}

// All returns every catalog entry in index order.
func All() []Capability {
	caps := make([]Capability, 0, Count())
	for i := 0; i < Count(); i++ {
		c, _ := Describe(i)
		caps = append(caps, c)
	}
	return caps
}

// IndexOf returns the catalog index of f, or -1.
func IndexOf(f Format) int {
	for si, res := range Resolutions {
		if res.Width != f.Width || res.Height != f.Height {
			continue
		}
		for fi, pf := range Formats {
			if pf == f.PixelFormat {
				return si*len(Formats) + fi
			}
		}
	}
	return -1
}

// SupportedResolution reports whether w x h is a catalog size.
func SupportedResolution(w, h int) bool {
	for _, res := range Resolutions {
		if res.Width == w && res.Height == h {
			return true
		}
	}
	return false
}

// Negotiate validates req against the catalog. The accepted pixel format is
// the requested one, but the resolution is always the canonical one: smaller
// catalog sizes are acknowledged and not honored.
func Negotiate(req Request) (Format, error) {
	if req.MajorKind != MediaVideo {
		return Format{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaKind, req.MajorKind)
	}
	if !req.Subtype.Valid() {
		return Format{}, fmt.Errorf("%w: %d", ErrUnsupportedSubtype, int(req.Subtype))
	}
	h := req.Height
	if h < 0 {
		h = -h
	}
	if !SupportedResolution(req.Width, h) {
		return Format{}, fmt.Errorf("%w: %dx%d", ErrUnsupportedResolution, req.Width, h)
	}
	return Format{
		PixelFormat: req.Subtype,
		Width:       CanonicalWidth,
		Height:      CanonicalHeight,
	}, nil
}
