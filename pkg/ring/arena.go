package ring

// slotArena is the shared-memory-backed byte region holding all N slots
// plus the one trash slot. Construction is platform-specific (arena_linux.go
// / arena_default.go): on Linux the region is an anonymous shared mapping,
// elsewhere a plain Go slice. Workers in this module run as goroutines in
// the control process, and the views handed to them alias the arena without
// copying — the zero-copy requirement from spec.md §1(a) and §9 ("Opaque
// payloads"). Shared-memory creation failure is fatal at startup per §4.A.
type slotArena struct {
	bytes  []byte
	closer func() error
}

// Bytes returns the full backing region.
func (a *slotArena) Bytes() []byte { return a.bytes }

// Close releases the shared-memory backing. Safe to call once.
func (a *slotArena) Close() error {
	if a.closer == nil {
		return nil
	}
	closer := a.closer
	a.closer = nil
	return closer()
}
