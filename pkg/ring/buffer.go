// Package ring implements the shared-memory Slot Buffer: a fixed-capacity
// ring of N equally-sized slots, each holding a Metadata record plus an
// opaque data payload, manipulated through the writer/reader/observer token
// protocol from spec.md §4.A.
package ring

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JulianBaader/mimocorb2/pkg/slot"
)

// Config describes one Slot Buffer's identity and shape. It is the
// per-buffer portion of the Configuration surface in spec.md §6.
type Config struct {
	// Name is the buffer's unique identity.
	Name string

	// SlotCount is N, the ring's capacity. Must be >= 1.
	SlotCount int

	// Layout is the data payload's schema and element count.
	Layout slot.DataLayout

	// Overwrite selects the writer's full-buffer policy. Per the Open
	// Question in spec.md §9 this is a per-buffer property, defaulting to
	// true when the zero value is used through DefaultConfig.
	Overwrite bool
}

// Validate checks the structural invariants from spec.md §3.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("ring: buffer name must not be empty")
	}
	if c.SlotCount < 1 {
		return fmt.Errorf("ring: slot_count must be >= 1, got %d", c.SlotCount)
	}
	return c.Layout.Validate()
}

// DefaultConfig returns a Config with overwrite enabled, resolving the
// "overwrite per-buffer vs permanently-on" Open Question from spec.md §9.
func DefaultConfig(name string, slotCount int, layout slot.DataLayout) Config {
	return Config{
		Name:      name,
		SlotCount: slotCount,
		Layout:    layout,
		Overwrite: true,
	}
}

// statsAccumulator holds the fields that must be read and updated together
// to compute a consistent rate/avg-deadtime snapshot — §4.A's "last-stats
// snapshot".
type statsAccumulator struct {
	mu             sync.Mutex
	totalDeadtime  float64
	lastTime       time.Time
	lastEventCount int64
	lastDeadtime   float64
}

// Buffer is the shared-memory slot ring described in spec.md §3-4.A. All
// methods are safe for concurrent use by multiple writer, reader, and
// observer roles within one process. Only the slot bytes live in the arena;
// the token queues, counters, and flags are ordinary Go values in process
// memory, so a Buffer is not shared across OS processes.
type Buffer struct {
	cfg Config

	arena     *slotArena
	slotBytes int // MetadataBytes + DataBytes, per slot

	empty  *tokenQueue
	filled *tokenQueue

	eventCount     atomic.Int64
	overwriteCount atomic.Int64
	pausedCount    atomic.Int64
	paused         atomic.Bool
	flushSent      atomic.Bool

	stats statsAccumulator
}

// New allocates a Buffer's shared-memory arena and seeds the empty queue
// with every slot index. Shared-memory allocation failure is fatal at
// startup per spec.md §4.A.
func New(cfg Config) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slotBytes := slot.MetadataBytes + cfg.Layout.DataBytes()
	// arena holds N real slots plus one trash slot at index cfg.SlotCount.
	arena, err := newSlotArena(slotBytes * (cfg.SlotCount + 1))
	if err != nil {
		return nil, fmt.Errorf("ring: buffer %q: %w", cfg.Name, err)
	}

	b := &Buffer{
		cfg:       cfg,
		arena:     arena,
		slotBytes: slotBytes,
		empty:     newTokenQueue(cfg.SlotCount),
		filled:    newTokenQueue(cfg.SlotCount + 1),
	}
	b.stats.lastTime = time.Now()

	for i := 0; i < cfg.SlotCount; i++ {
		b.empty.push(Token(i))
	}
	return b, nil
}

// Name returns the buffer's identity.
func (b *Buffer) Name() string { return b.cfg.Name }

// Layout returns the buffer's data payload shape.
func (b *Buffer) Layout() slot.DataLayout { return b.cfg.Layout }

// SlotCount returns N.
func (b *Buffer) SlotCount() int { return b.cfg.SlotCount }

func (b *Buffer) trashToken() Token { return Token(b.cfg.SlotCount) }

func (b *Buffer) offset(tok Token) int {
	idx := tok
	if tok.IsTrash() {
		idx = b.trashToken()
	}
	return int(idx) * b.slotBytes
}

// MetadataView returns the raw, fixed-size metadata region for tok. The
// slice aliases shared memory directly — no copy is made, per the
// "Opaque payloads" design note in spec.md §9.
func (b *Buffer) MetadataView(tok Token) []byte {
	off := b.offset(tok)
	return b.arena.Bytes()[off : off+slot.MetadataBytes]
}

// DataView returns the raw data payload region for tok, aliasing shared
// memory without a copy.
func (b *Buffer) DataView(tok Token) []byte {
	off := b.offset(tok) + slot.MetadataBytes
	return b.arena.Bytes()[off : off+b.cfg.Layout.DataBytes()]
}

// AcquireWrite implements the writer acquisition algorithm from spec.md
// §4.A: trash-slot routing while paused, then the empty/overwrite
// decision tree.
func (b *Buffer) AcquireWrite(ctx context.Context) (Token, error) {
	if b.paused.Load() {
		return TrashToken, nil
	}

	if tok, ok := b.empty.tryPop(); ok {
		return tok, nil
	}

	if !b.cfg.Overwrite {
		return b.empty.pop(ctx)
	}

	if tok, ok := b.filled.tryPop(); ok {
		if tok.IsNull() {
			// Never cannibalize the shutdown sentinel; put it back and
			// fall through to the blocking path.
			b.filled.tryPush(NullToken)
			return b.empty.pop(ctx)
		}
		b.overwriteCount.Add(1)
		return tok, nil
	}

	// Every slot is in-flight with some reader/writer/observer; wait
	// rather than spin-stealing, which would livelock.
	return b.empty.pop(ctx)
}

// ReleaseWrite finalizes a write lease: trash writes only bump
// paused_count, real writes stamp deadtime into the slot's metadata,
// advance event_count/total_deadtime, and publish the slot onto filled.
func (b *Buffer) ReleaseWrite(tok Token, deadtime float64) error {
	if tok.IsTrash() {
		b.pausedCount.Add(1)
		return nil
	}
	if tok.IsNull() || int(tok) < 0 || int(tok) >= b.cfg.SlotCount {
		return fmt.Errorf("ring: release_write: invalid token %d", tok)
	}

	deadtime = slot.Clamp01(deadtime)
	meta := slot.Decode(b.MetadataView(tok))
	meta.Deadtime = deadtime
	meta.Encode(b.MetadataView(tok))

	b.eventCount.Add(1)
	b.stats.mu.Lock()
	b.stats.totalDeadtime += deadtime
	b.stats.mu.Unlock()

	b.filled.push(tok)
	return nil
}

// AcquireRead pops the next filled token, which may be NullToken signaling
// end of stream.
func (b *Buffer) AcquireRead(ctx context.Context) (Token, error) {
	return b.filled.pop(ctx)
}

// ReleaseRead returns a real token to empty, or re-enqueues the flush
// sentinel so sibling readers still observe it.
func (b *Buffer) ReleaseRead(tok Token) error {
	if tok.IsNull() {
		b.filled.push(NullToken)
		return nil
	}
	if int(tok) < 0 || int(tok) >= b.cfg.SlotCount {
		return fmt.Errorf("ring: release_read: invalid token %d", tok)
	}
	b.empty.push(tok)
	return nil
}

// AcquireObserve pops the next filled token without removing data
// ownership from the writer/reader cycle.
func (b *Buffer) AcquireObserve(ctx context.Context) (Token, error) {
	return b.filled.pop(ctx)
}

// ReleaseObserve always re-enqueues tok onto filled: observation never
// advances a slot to empty, so any number of observers may interleave.
func (b *Buffer) ReleaseObserve(tok Token) error {
	b.filled.push(tok)
	return nil
}

// SendFlushEvent is idempotent: only the first call enqueues the NULL
// sentinel onto filled.
func (b *Buffer) SendFlushEvent() {
	if b.flushSent.CompareAndSwap(false, true) {
		b.filled.push(NullToken)
	}
}

// FlushEventReceived reports whether send_flush_event has been called.
func (b *Buffer) FlushEventReceived() bool { return b.flushSent.Load() }

// Pause routes subsequent writes to the trash slot.
func (b *Buffer) Pause() { b.paused.Store(true) }

// Resume restores normal write routing.
func (b *Buffer) Resume() { b.paused.Store(false) }

// Paused reports the current pause state.
func (b *Buffer) Paused() bool { return b.paused.Load() }

// Stats is the snapshot returned by Buffer.Stats, matching the get_stats
// fields from spec.md §4.A.
type Stats struct {
	Name           string
	EventCount     int64
	OverwriteCount int64
	FilledRatio    float64
	EmptyRatio     float64
	FlushReceived  bool
	Rate           float64
	AvgDeadtime    float64
	PausedCount    int64
	Paused         bool
}

// Stats computes a get_stats snapshot, updating the last-snapshot fields
// used for the rate and avg-deadtime deltas.
func (b *Buffer) Stats() Stats {
	now := time.Now()
	eventCount := b.eventCount.Load()

	b.stats.mu.Lock()
	dt := now.Sub(b.stats.lastTime).Seconds()
	deltaEvents := eventCount - b.stats.lastEventCount
	deltaDeadtime := b.stats.totalDeadtime - b.stats.lastDeadtime

	rate := 0.0
	if dt > 0 {
		rate = float64(deltaEvents) / dt
	}
	avgDeadtime := 0.0
	if deltaEvents != 0 {
		avgDeadtime = deltaDeadtime / float64(deltaEvents)
	}

	b.stats.lastTime = now
	b.stats.lastEventCount = eventCount
	b.stats.lastDeadtime = b.stats.totalDeadtime
	b.stats.mu.Unlock()

	filledLen := b.filled.len()
	if b.flushSent.Load() {
		// The sentinel occupies one filled slot without representing
		// data; it is excluded from filled_ratio per spec.md §4.A.
		filledLen--
		if filledLen < 0 {
			filledLen = 0
		}
	}

	return Stats{
		Name:           b.cfg.Name,
		EventCount:     eventCount,
		OverwriteCount: b.overwriteCount.Load(),
		FilledRatio:    float64(filledLen) / float64(b.cfg.SlotCount),
		EmptyRatio:     float64(b.empty.len()) / float64(b.cfg.SlotCount),
		FlushReceived:  b.flushSent.Load(),
		Rate:           rate,
		AvgDeadtime:    avgDeadtime,
		PausedCount:    b.pausedCount.Load(),
		Paused:         b.paused.Load(),
	}
}

// Close releases the buffer's shared-memory backing. Owned by the Control
// Loop, invoked once at teardown.
func (b *Buffer) Close() error {
	return b.arena.Close()
}
