//go:build unix

package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func mapReadOnly(path string) ([]byte, func() error, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, nil, err
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, nil, fmt.Errorf("fstat: %w", err)
	}
	if st.Size < SegmentSize {
		return nil, nil, fmt.Errorf("%w: %d < %d", ErrSegmentTooSmall, st.Size, SegmentSize)
	}

	mem, err := unix.Mmap(fd, 0, SegmentSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap: %w", err)
	}
	return mem, func() error { return unix.Munmap(mem) }, nil
}

func mapReadWrite(path string) ([]byte, func() error, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o666)
	if err != nil {
		return nil, nil, err
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, SegmentSize); err != nil {
		return nil, nil, fmt.Errorf("ftruncate: %w", err)
	}

	mem, err := unix.Mmap(fd, 0, SegmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap: %w", err)
	}
	return mem, func() error { return unix.Munmap(mem) }, nil
}
