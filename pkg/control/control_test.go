package control

import (
	"context"
	"testing"
	"time"

	"github.com/JulianBaader/mimocorb2/pkg/ring"
	"github.com/JulianBaader/mimocorb2/pkg/slot"
	"github.com/JulianBaader/mimocorb2/pkg/workergroup"
)

func testBuffer(t *testing.T, name string) *ring.Buffer {
	t.Helper()
	layout := slot.DataLayout{Schema: slot.Schema{{Name: "x", Type: slot.Float64}}, DataLength: 1}
	b, err := ring.New(ring.DefaultConfig(name, 2, layout))
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPauseResumeDispatch(t *testing.T) {
	loop := New()
	buf := testBuffer(t, "A")
	loop.RegisterBuffer(buf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx, 10*time.Millisecond) }()

	loop.Commands() <- Command{Domain: DomainBuffer, Selector: Selector{Names: []string{"A"}}, Verb: Pause}
	time.Sleep(20 * time.Millisecond)
	if !buf.Paused() {
		t.Fatal("expected buffer paused after Pause command")
	}

	loop.Commands() <- Command{Domain: DomainBuffer, Selector: Selector{Names: []string{"A"}}, Verb: Resume}
	time.Sleep(20 * time.Millisecond)
	if buf.Paused() {
		t.Fatal("expected buffer resumed after Resume command")
	}
}

// TestBufferShutdownSendsFlushEvent matches scenario 5 / invariant 4: a
// buffer's own shutdown command is send_flush_event, not some other form
// of teardown.
func TestBufferShutdownSendsFlushEvent(t *testing.T) {
	loop := New()
	buf := testBuffer(t, "A")
	loop.RegisterBuffer(buf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx, 10*time.Millisecond) }()

	loop.Commands() <- Command{Domain: DomainBuffer, Selector: Selector{Names: []string{"A"}}, Verb: Shutdown}
	time.Sleep(20 * time.Millisecond)
	if !buf.FlushEventReceived() {
		t.Fatal("expected buffer shutdown to call SendFlushEvent")
	}
}

// TestBufferRootsSelectorTargetsOnlyRoots matches the `buffer roots
// shutdown` form.
func TestBufferRootsSelectorTargetsOnlyRoots(t *testing.T) {
	loop := New()
	root := testBuffer(t, "raw")
	other := testBuffer(t, "filtered")
	loop.RegisterBuffer(root)
	loop.RegisterBuffer(other)
	loop.SetRoots([]string{"raw"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx, 10*time.Millisecond) }()

	loop.Commands() <- Command{Domain: DomainBuffer, Selector: Selector{Roots: true}, Verb: Shutdown}
	time.Sleep(20 * time.Millisecond)
	if !root.FlushEventReceived() {
		t.Fatal("expected root buffer to receive the flush event")
	}
	if other.FlushEventReceived() {
		t.Fatal("expected non-root buffer to be left alone")
	}
}

// TestWorkerAllShutdown matches the `worker all shutdown` form.
func TestWorkerAllShutdown(t *testing.T) {
	loop := New()
	g, err := workergroup.New(workergroup.Config{
		Name:              "g",
		NumberOfProcesses: 1,
		Run:               func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() },
	})
	if err != nil {
		t.Fatalf("workergroup.New: %v", err)
	}
	g.Start(context.Background())
	loop.RegisterGroup(g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx, 10*time.Millisecond) }()

	loop.Commands() <- Command{Domain: DomainWorker, Selector: Selector{All: true}, Verb: Shutdown}

	deadline := time.After(time.Second)
	for g.AliveProcesses() != 0 {
		select {
		case <-deadline:
			t.Fatalf("expected worker group to shut down, still %d alive", g.AliveProcesses())
		default:
		}
	}
}

func TestSnapshotReportsBuffersAndAliveCounts(t *testing.T) {
	loop := New()
	buf := testBuffer(t, "A")
	loop.RegisterBuffer(buf)
	g, err := workergroup.New(workergroup.Config{
		Name:              "g",
		NumberOfProcesses: 1,
		Run:               func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() },
	})
	if err != nil {
		t.Fatalf("workergroup.New: %v", err)
	}
	g.Start(context.Background())
	defer g.Shutdown()
	loop.RegisterGroup(g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx, 5*time.Millisecond) }()

	select {
	case snap := <-loop.Stats():
		if _, ok := snap.Buffers["A"]; !ok {
			t.Fatal("expected snapshot to include buffer A")
		}
		if snap.Alive["g"] != 1 {
			t.Fatalf("expected 1 alive replica, got %d", snap.Alive["g"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a snapshot")
	}
}

func TestDispatchUnknownTargetErrorsWithoutPanicking(t *testing.T) {
	loop := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx, 10*time.Millisecond) }()

	loop.Commands() <- Command{Domain: DomainBuffer, Selector: Selector{Names: []string{"missing"}}, Verb: Pause}
	time.Sleep(20 * time.Millisecond)

	if err := loop.dispatch(Command{Domain: DomainBuffer, Selector: Selector{Names: []string{"missing"}}, Verb: Pause}); err == nil {
		t.Fatal("expected an error for an unregistered buffer")
	}
}
