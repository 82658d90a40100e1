//go:build unix

package shm

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterAndChannelShareFile(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateWriter(dir, "vcam_test")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = w.Close()
		_ = w.Remove()
	})

	st, err := os.Stat(w.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(SegmentSize), st.Size())

	cfg := DefaultChannelConfig()
	cfg.Dir = dir
	cfg.Name = "vcam_test"
	ch := NewChannel(cfg, nil)
	require.NoError(t, ch.Open())
	defer ch.Close()

	_, _, err = ch.ReadLatest()
	assert.ErrorIs(t, err, ErrStaleOrMissingFrame)

	frame := bytes.Repeat([]byte{0x20, 0x40, 0x80}, FrameSize/3)
	require.NoError(t, w.Publish(frame))

	snap, buf, err := ch.ReadLatest()
	require.NoError(t, err)
	assert.Equal(t, int32(1), snap.FrameID)
	assert.True(t, bytes.Equal(frame, buf))
}

func TestOpenMissingSegment(t *testing.T) {
	cfg := DefaultChannelConfig()
	cfg.Dir = t.TempDir()
	cfg.RetryDelay = 0
	ch := NewChannel(cfg, nil)
	assert.ErrorIs(t, ch.Open(), ErrChannelUnavailable)
	assert.Equal(t, 3, ch.Attempts())
}

func TestRemoveIsIdempotent(t *testing.T) {
	w, err := CreateWriter(t.TempDir(), "gone")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Remove())
	require.NoError(t, w.Remove())
}
