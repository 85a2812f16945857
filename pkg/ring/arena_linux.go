//go:build linux

package ring

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// newSlotArena maps an anonymous MAP_SHARED region of the given size. Such a
// mapping is shared with a child created by fork() (not across exec()).
// This module spawns no child processes: worker groups run as goroutines,
// which all see the mapping directly. This mirrors the vectored, page-aligned
// I/O the teacher's directio_linux.go performs for on-disk buffers, applied
// here to an in-memory shared region instead of a file.
func newSlotArena(size int) (*slotArena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("ring: arena size must be positive, got %d", size)
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("ring: mmap shared arena of %d bytes: %w", size, err)
	}
	return &slotArena{
		bytes: b,
		closer: func() error {
			return unix.Munmap(b)
		},
	}, nil
}
