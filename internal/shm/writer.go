package shm

import (
	"fmt"
	"os"
)

// Writer is the producer side of the channel. The production producer lives
// in another process; this one backs tests and the feed tool.
type Writer struct {
	mem     []byte
	release func() error
	path    string
}

// CreateWriter creates (or reuses) the segment dir/name, sizes it and resets
// its header.
func CreateWriter(dir, name string) (*Writer, error) {
	path := segmentPath(dir, name)
	mem, release, err := mapReadWrite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared memory %s: %w", path, err)
	}
	w := &Writer{mem: mem, release: release, path: path}
	w.reset()
	return w, nil
}

// NewWriter writes into an existing region such as one from NewRegion.
func NewWriter(mem []byte) (*Writer, error) {
	if len(mem) < SegmentSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrSegmentTooSmall, len(mem), SegmentSize)
	}
	w := &Writer{mem: mem}
	w.reset()
	return w, nil
}

func (w *Writer) reset() {
	storeDataSize(w.mem, 0)
	storeActiveBuffer(w.mem, 0)
	storeFrameID(w.mem, 0)
}

// Path returns the backing file path, empty for in-process regions.
func (w *Writer) Path() string {
	return w.path
}

// FrameID returns the id of the last published frame.
func (w *Writer) FrameID() int32 {
	return loadFrameID(w.mem)
}

// Publish copies a FrameSize BGR frame into the inactive buffer and makes it
// current.
func (w *Writer) Publish(frame []byte) error {
	if len(frame) != FrameSize {
		return fmt.Errorf("%w: %d != %d", ErrFrameSize, len(frame), FrameSize)
	}
	w.PublishFunc(func(buf []byte) { copy(buf, frame) })
	return nil
}

// PublishFunc lets fill write the next frame in place, then publishes it:
// bytes first, then dataSize, the buffer index and finally the frame id.
func (w *Writer) PublishFunc(fill func(buf []byte)) int32 {
	id, _ := w.PublishFrom(func(buf []byte) error {
		fill(buf)
		return nil
	})
	return id
}

// PublishFrom is PublishFunc for fills that can fail. On error the header is
// left untouched, so readers keep seeing the previous frame, and the current
// frame id is returned with the error.
func (w *Writer) PublishFrom(fill func(buf []byte) error) (int32, error) {
	target := int32(0)
	if loadActiveBuffer(w.mem) == 0 {
		target = 1
	}
	if err := fill(frameBuffer(w.mem, int(target))); err != nil {
		return loadFrameID(w.mem), err
	}

	storeDataSize(w.mem, FrameSize)
	storeActiveBuffer(w.mem, target)
	id := loadFrameID(w.mem) + 1
	storeFrameID(w.mem, id)
	return id, nil
}

// Invalidate marks the channel as carrying no usable frame.
func (w *Writer) Invalidate() {
	storeDataSize(w.mem, 0)
}

// Close unmaps the segment. The segment itself stays until Remove.
func (w *Writer) Close() error {
	if w.release == nil {
		return nil
	}
	release := w.release
	w.release = nil
	return release()
}

// Remove unlinks the backing segment.
func (w *Writer) Remove() error {
	if w.path == "" {
		return nil
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
