package types

import "time"

// DeliveredFrame is a copy of one sample handed to the consumer, shared with
// the preview server and the recorder.
type DeliveredFrame struct {
	Data        []byte    // Sample bytes in PixelFormat layout
	Timestamp   time.Time // Wall clock time of delivery
	Sequence    uint64    // Sequential delivery number
	FrameID     int32     // Producer frame id, -1 for neutral frames
	PixelFormat string    // YUY2, NV12, I420 or RGB24
	Width       int       // Frame width
	Height      int       // Frame height
	Start       int64     // Presentation start, 100 ns units
	End         int64     // Presentation end, 100 ns units
	Fallback    string    // Why the frame is neutral, "none" otherwise
}

// Neutral reports whether the frame carries fallback black.
func (f *DeliveredFrame) Neutral() bool {
	return f.Fallback != "" && f.Fallback != "none"
}
