package shm

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/logger"
)

// Mapper maps the segment at path and returns the mapped bytes plus a
// release function.
type Mapper func(path string) (mem []byte, release func() error, err error)

// ChannelConfig configures how the reader attaches to the segment.
type ChannelConfig struct {
	Dir        string
	Name       string
	Attempts   int
	RetryDelay time.Duration

	// Mapper defaults to a read-only mmap of Dir/Name.
	Mapper Mapper
	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)
}

// DefaultChannelConfig returns 3 attempts spaced 100 ms apart.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		Dir:        DefaultDir,
		Name:       DefaultName,
		Attempts:   3,
		RetryDelay: 100 * time.Millisecond,
	}
}

// MemoryMapper attaches to an in-process region regardless of path.
func MemoryMapper(mem []byte) Mapper {
	return func(string) ([]byte, func() error, error) {
		if len(mem) < SegmentSize {
			return nil, nil, ErrSegmentTooSmall
		}
		return mem, func() error { return nil }, nil
	}
}

// Channel is the read side of the frame channel. It is not safe for
// concurrent use; the owner calls it from a single pull loop.
type Channel struct {
	cfg     ChannelConfig
	log     logger.Module
	mem     []byte
	release func() error

	opens    int
	attempts int
}

// NewChannel creates a detached channel. No I/O happens until Open.
func NewChannel(cfg ChannelConfig, sink logger.Sink) *Channel {
	def := DefaultChannelConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Mapper == nil {
		cfg.Mapper = mapReadOnly
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Channel{
		cfg: cfg,
		log: logger.For(sink, "Channel"),
	}
}

// Name returns the configured segment name.
func (c *Channel) Name() string {
	return c.cfg.Name
}

// Path returns the filesystem path of the segment.
func (c *Channel) Path() string {
	return segmentPath(c.cfg.Dir, c.cfg.Name)
}

func segmentPath(dir, name string) string {
	return filepath.Join(dir, strings.TrimPrefix(name, "/"))
}

// Attached reports whether the segment is mapped.
func (c *Channel) Attached() bool {
	return c.mem != nil
}

// Attempts returns the number of mapping attempts made so far.
func (c *Channel) Attempts() int {
	return c.attempts
}

// Opens returns the number of Open calls that had to try mapping.
func (c *Channel) Opens() int {
	return c.opens
}

// Open attaches to the segment, retrying a bounded number of times with a
// fixed delay. It returns immediately if already attached. A failure wraps
// ErrChannelUnavailable and leaves the channel ready for a later Open.
func (c *Channel) Open() error {
	if c.mem != nil {
		return nil
	}

	path := c.Path()
	var lastErr error
	for i := 0; i < c.cfg.Attempts; i++ {
		c.attempts++
		mem, release, err := c.cfg.Mapper(path)
		if err == nil {
			if len(mem) < SegmentSize {
				_ = release()
				err = fmt.Errorf("%w: %d < %d", ErrSegmentTooSmall, len(mem), SegmentSize)
			} else {
				c.mem = mem
				c.release = release
				break
			}
		}
		lastErr = err
		c.cfg.Sleep(c.cfg.RetryDelay)
	}
	c.opens++

	if c.mem == nil {
		c.log.Warn("Shared memory %s not available after %d attempts (open #%d): %v",
			path, c.cfg.Attempts, c.opens, lastErr)
		return fmt.Errorf("%w: %s: %v", ErrChannelUnavailable, path, lastErr)
	}

	c.log.Info("Successfully opened shared memory: %s", path)
	return nil
}

// ReadLatest returns the snapshot of the frame the producer currently
// designates and the buffer that holds it. The buffer aliases shared memory
// and is only meaningful until the producer flips twice.
//
// Returns ErrChannelUnavailable when not attached and ErrStaleOrMissingFrame
// when dataSize is not FrameSize or the buffer index is out of range. The
// snapshot is filled in either way once attached.
func (c *Channel) ReadLatest() (Snapshot, []byte, error) {
	if c.mem == nil {
		return Snapshot{FrameID: -1}, nil, ErrChannelUnavailable
	}

	idx := loadActiveBuffer(c.mem)
	size := loadDataSize(c.mem)
	id := loadFrameID(c.mem)

	snap := Snapshot{FrameID: id, BufferIndex: int(idx), ByteLength: size}
	if size != FrameSize || idx < 0 || idx > 1 {
		return snap, nil, ErrStaleOrMissingFrame
	}
	return snap, frameBuffer(c.mem, int(idx)), nil
}

// Changed reports whether the producer has published since snap was taken.
// A true result after a copy means the copy may be torn.
func (c *Channel) Changed(snap Snapshot) bool {
	if c.mem == nil {
		return false
	}
	return loadFrameID(c.mem) != snap.FrameID || int(loadActiveBuffer(c.mem)) != snap.BufferIndex
}

// Close releases the mapping. Safe to call repeatedly or without Open.
func (c *Channel) Close() error {
	if c.mem == nil {
		return nil
	}
	release := c.release
	c.mem = nil
	c.release = nil
	if release != nil {
		if err := release(); err != nil {
			return fmt.Errorf("failed to unmap %s: %w", c.Path(), err)
		}
	}
	return nil
}
