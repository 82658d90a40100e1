package preview

import "time"

// Config defines the runtime configuration for the preview server.
type Config struct {
	Addr string
	// Width of the thumbnail; the height follows the aspect ratio.
	Width       int
	JPEGQuality int
	// MJPEGInterval is the minimum spacing between encoded stream frames.
	MJPEGInterval  time.Duration
	StatusInterval time.Duration
	// KeepAlive is the blank frame cadence when nothing is delivered.
	KeepAlive time.Duration
}

// DefaultConfig returns the default preview configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		Width:          640,
		JPEGQuality:    80,
		MJPEGInterval:  33 * time.Millisecond,
		StatusInterval: 2 * time.Second,
		KeepAlive:      5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Width <= 0 {
		c.Width = def.Width
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.MJPEGInterval < 0 {
		c.MJPEGInterval = 0
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = def.KeepAlive
	}
	return c
}
