package ring

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/JulianBaader/mimocorb2/pkg/slot"
)

func testLayout() slot.DataLayout {
	return slot.DataLayout{
		Schema:     slot.Schema{{Name: "x", Type: slot.Float64}},
		DataLength: 1,
	}
}

func mustNew(t *testing.T, name string, n int, overwrite bool) *Buffer {
	t.Helper()
	cfg := DefaultConfig(name, n, testLayout())
	cfg.Overwrite = overwrite
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func writeX(t *testing.T, b *Buffer, x float64) {
	t.Helper()
	ctx := context.Background()
	tok, err := b.AcquireWrite(ctx)
	if err != nil {
		t.Fatalf("AcquireWrite: %v", err)
	}
	meta := slot.Metadata{Counter: 0, Timestamp: 0, Deadtime: 0}
	meta.Encode(b.MetadataView(tok))
	binary.LittleEndian.PutUint64(b.DataView(tok), math.Float64bits(x))
	if err := b.ReleaseWrite(tok, 0); err != nil {
		t.Fatalf("ReleaseWrite: %v", err)
	}
}

// TestSingleSlotProgress checks the N=1 boundary behavior from spec.md §8:
// a writer followed by a reader must complete.
func TestSingleSlotProgress(t *testing.T) {
	b := mustNew(t, "A", 1, false)
	writeX(t, b, 1.0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tok, err := b.AcquireRead(ctx)
	if err != nil {
		t.Fatalf("AcquireRead: %v", err)
	}
	if tok.IsNull() {
		t.Fatalf("expected real token, got NULL")
	}
	if err := b.ReleaseRead(tok); err != nil {
		t.Fatalf("ReleaseRead: %v", err)
	}
}

// TestPauseRoutesToTrash verifies invariant 5: under pause no writer
// advances event_count, and paused_count increases once per blocked write.
func TestPauseRoutesToTrash(t *testing.T) {
	b := mustNew(t, "A", 2, false)
	b.Pause()

	for i := 0; i < 5; i++ {
		writeX(t, b, float64(i))
	}

	stats := b.Stats()
	if stats.EventCount != 0 {
		t.Fatalf("expected event_count=0 while paused, got %d", stats.EventCount)
	}
	if stats.PausedCount != 5 {
		t.Fatalf("expected paused_count=5, got %d", stats.PausedCount)
	}

	b.Resume()
	writeX(t, b, 99)
	stats = b.Stats()
	if stats.EventCount != 1 {
		t.Fatalf("expected event_count=1 after resume, got %d", stats.EventCount)
	}
}

// TestOverwriteUnderStarvation matches end-to-end scenario 3: N=2,
// overwrite=true, four writes with no consumer.
func TestOverwriteUnderStarvation(t *testing.T) {
	b := mustNew(t, "A", 2, true)
	for i := 1; i <= 4; i++ {
		writeX(t, b, float64(i))
	}

	stats := b.Stats()
	if stats.EventCount != 4 {
		t.Fatalf("expected event_count=4, got %d", stats.EventCount)
	}
	if stats.OverwriteCount < 2 {
		t.Fatalf("expected overwrite_count>=2, got %d", stats.OverwriteCount)
	}
}

// TestFlushSentinelVisibility matches end-to-end scenario 5: two readers
// sharing a buffer both observe the sentinel, and it remains present
// afterward.
func TestFlushSentinelVisibility(t *testing.T) {
	b := mustNew(t, "A", 4, false)
	b.SendFlushEvent()
	b.SendFlushEvent() // idempotent, per spec.md §8

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tok, err := b.AcquireRead(ctx)
			if err != nil {
				return
			}
			results[idx] = tok.IsNull()
			_ = b.ReleaseRead(tok)
		}(i)
	}
	wg.Wait()

	for i, ok := range results {
		if !ok {
			t.Fatalf("reader %d did not observe the sentinel", i)
		}
	}

	tok, err := b.AcquireRead(ctx)
	if err != nil {
		t.Fatalf("AcquireRead after both readers: %v", err)
	}
	if !tok.IsNull() {
		t.Fatalf("expected the sentinel to remain in filled")
	}
	_ = b.ReleaseRead(tok)

	if !b.FlushEventReceived() {
		t.Fatalf("flush_event_received should remain true")
	}
}

// TestObserverDoesNotConsume checks that observation recirculates the
// token into filled rather than moving it to empty.
func TestObserverDoesNotConsume(t *testing.T) {
	b := mustNew(t, "A", 2, false)
	writeX(t, b, 1.0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	tok, err := b.AcquireObserve(ctx)
	if err != nil {
		t.Fatalf("AcquireObserve: %v", err)
	}
	if err := b.ReleaseObserve(tok); err != nil {
		t.Fatalf("ReleaseObserve: %v", err)
	}

	stats := b.Stats()
	// N=2 with one slot written: only the never-written slot is empty.
	if stats.EmptyRatio != 0.5 {
		t.Fatalf("observing should not free a slot, got empty_ratio=%v", stats.EmptyRatio)
	}

	readTok, err := b.AcquireRead(ctx)
	if err != nil {
		t.Fatalf("AcquireRead after observe: %v", err)
	}
	if readTok.IsNull() {
		t.Fatalf("expected real token")
	}
}
