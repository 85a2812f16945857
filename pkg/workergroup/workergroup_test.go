package workergroup

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAliveProcessesDropsAsRepliasFinish(t *testing.T) {
	release := make(chan struct{})
	g, err := New(Config{
		Name:              "g",
		NumberOfProcesses: 3,
		Run: func(ctx context.Context) error {
			<-release
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.Start(context.Background())

	deadline := time.After(time.Second)
	for g.AliveProcesses() != 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 alive, got %d", g.AliveProcesses())
		default:
		}
	}

	close(release)
	if err := g.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n := g.AliveProcesses(); n != 0 {
		t.Fatalf("expected 0 alive after drain, got %d", n)
	}
}

func TestShutdownWithGraceWaitsAndReturnsError(t *testing.T) {
	g, err := New(Config{
		Name:              "g",
		NumberOfProcesses: 2,
		ShutdownGrace:     time.Second,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.Start(context.Background())

	err = g.Shutdown()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := g.AliveProcesses(); n != 0 {
		t.Fatalf("expected 0 alive after shutdown, got %d", n)
	}
}

func TestShutdownWithoutGraceReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	g, err := New(Config{
		Name:              "g",
		NumberOfProcesses: 1,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			<-release // simulate a replica that is slow to actually exit
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.Start(context.Background())

	done := make(chan struct{})
	go func() {
		_ = g.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown with zero ShutdownGrace should return immediately without waiting for replicas")
	}
	close(release)
	_ = g.Wait()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config{Name: "g", NumberOfProcesses: 0, Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("expected error for zero processes")
	}
	if _, err := New(Config{Name: "g", NumberOfProcesses: 1}); err == nil {
		t.Fatal("expected error for nil Run")
	}
}
