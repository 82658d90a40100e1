// Package shm implements the double-buffered shared memory frame channel
// between an external BGR frame producer and this process.
//
// Segment layout (native byte order, offsets fixed across writer and reader):
//
//	0   int32   frameId            atomic, bumped on every publish
//	4   uint32  dataSize           atomic, FrameSize when a frame is valid
//	8   int32   activeBufferIndex  atomic, 0 or 1
//	12  [FrameSize]byte data[0]
//	12+FrameSize [FrameSize]byte data[1]
//
// The producer fills the inactive buffer, then publishes dataSize, the new
// index and the new frameId. Only the index flip is ordered; a reader that is
// still copying when the producer flips twice can observe a torn frame.
package shm

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/format"
)

const (
	// FrameSize is one canonical BGR24 frame.
	FrameSize = format.CanonicalWidth * format.CanonicalHeight * 3

	offFrameID      = 0
	offDataSize     = 4
	offActiveBuffer = 8
	HeaderSize      = 12

	// SegmentSize is the full mapping: header plus two frame buffers.
	SegmentSize = HeaderSize + 2*FrameSize

	// DefaultName is the well-known segment name.
	DefaultName = "vcam_shm"
	// DefaultDir is where POSIX shared memory objects live on Linux.
	DefaultDir = "/dev/shm"
)

var (
	ErrChannelUnavailable  = errors.New("shared memory channel unavailable")
	ErrStaleOrMissingFrame = errors.New("no valid frame in shared memory")
	ErrSegmentTooSmall     = errors.New("shared memory segment too small")
	ErrFrameSize           = errors.New("frame has wrong size")
)

// Snapshot describes the frame a single ReadLatest observed.
type Snapshot struct {
	FrameID     int32  `json:"frame_id"`
	BufferIndex int    `json:"buffer_index"`
	ByteLength  uint32 `json:"byte_length"`
}

// NewRegion allocates an in-process segment, useful for tests and for
// producers living in the same process.
func NewRegion() []byte {
	return make([]byte, SegmentSize)
}

func int32At(mem []byte, off int) *int32 {
	return (*int32)(unsafe.Pointer(&mem[off]))
}

func uint32At(mem []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

func loadFrameID(mem []byte) int32      { return atomic.LoadInt32(int32At(mem, offFrameID)) }
func loadDataSize(mem []byte) uint32    { return atomic.LoadUint32(uint32At(mem, offDataSize)) }
func loadActiveBuffer(mem []byte) int32 { return atomic.LoadInt32(int32At(mem, offActiveBuffer)) }

func storeFrameID(mem []byte, v int32)      { atomic.StoreInt32(int32At(mem, offFrameID), v) }
func storeDataSize(mem []byte, v uint32)    { atomic.StoreUint32(uint32At(mem, offDataSize), v) }
func storeActiveBuffer(mem []byte, v int32) { atomic.StoreInt32(int32At(mem, offActiveBuffer), v) }

// frameBuffer returns data[i] as a sub-slice of mem. i must be 0 or 1.
func frameBuffer(mem []byte, i int) []byte {
	start := HeaderSize + i*FrameSize
	return mem[start : start+FrameSize : start+FrameSize]
}
