//go:build !linux

package ring

import "fmt"

// newSlotArena falls back to a process-local allocation on platforms
// without an anonymous MAP_SHARED mapping wired up. Workers run in-process
// (goroutines) on every platform, so they all see the same bytes.
func newSlotArena(size int) (*slotArena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("ring: arena size must be positive, got %d", size)
	}
	return &slotArena{bytes: make([]byte, size)}, nil
}
