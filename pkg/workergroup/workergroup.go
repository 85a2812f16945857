// Package workergroup manages a named collection of identical worker
// processes: starting a configured number of goroutine-isolated replicas
// of a single worker function, tracking which are still alive, and
// shutting the group down in response to the upstream flush sentinel or
// an operator-issued stop.
package workergroup

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunFunc is a worker's entry point, as invoked inside the group. It
// receives a context cancelled on shutdown. The worker templates in
// pkg/worker return nil when they observe the flush sentinel and a wrapped
// context error when the context is cancelled.
type RunFunc func(ctx context.Context) error

// Config describes a single named worker group.
type Config struct {
	Name             string
	NumberOfProcesses int
	Run              RunFunc
	// ShutdownGrace bounds how long Shutdown waits for replicas to exit on
	// their own after ctx is cancelled before the group considers them
	// stuck and returns without waiting further. Zero means Shutdown
	// returns right after cancelling, without waiting at all.
	ShutdownGrace time.Duration
}

func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("workergroup: name is required")
	}
	if c.NumberOfProcesses <= 0 {
		return fmt.Errorf("workergroup %q: number_of_processes must be >= 1, got %d", c.Name, c.NumberOfProcesses)
	}
	if c.Run == nil {
		return fmt.Errorf("workergroup %q: Run function is required", c.Name)
	}
	return nil
}

// replicaState tracks one running instance of the group's worker function.
type replicaState struct {
	alive bool
	err   error
}

// Group supervises NumberOfProcesses concurrent instances of a single
// worker function — the Go-native analogue of a multiprocessing worker
// pool, using goroutines plus a cancellable context rather than OS
// processes for isolation. initialize_processes/start_processes/
// alive_processes/shutdown name the four lifecycle operations this type
// provides.
type Group struct {
	cfg Config

	mu       sync.Mutex
	replicas []replicaState
	cancel   context.CancelFunc
	eg       *errgroup.Group
	egCtx    context.Context
	started  bool
	done     chan struct{}
}

// New validates cfg and prepares a Group. It does not start any replicas —
// that is the job of Start, mirroring the original's two-phase
// initialize_processes/start_processes split.
func New(cfg Config) (*Group, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Group{
		cfg:      cfg,
		replicas: make([]replicaState, cfg.NumberOfProcesses),
	}, nil
}

// Start launches NumberOfProcesses goroutines, each running cfg.Run under
// a context derived from parent. A second call is a no-op.
func (g *Group) Start(parent context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return
	}
	g.started = true

	ctx, cancel := context.WithCancel(parent)
	eg, egCtx := errgroup.WithContext(ctx)
	g.cancel = cancel
	g.eg = eg
	g.egCtx = egCtx
	g.done = make(chan struct{})

	for i := range g.replicas {
		i := i
		g.replicas[i].alive = true
		eg.Go(func() error {
			err := g.cfg.Run(egCtx)
			g.mu.Lock()
			g.replicas[i].alive = false
			g.replicas[i].err = err
			g.mu.Unlock()
			if err != nil {
				log.Printf("workergroup %q: replica %d exited with error: %v", g.cfg.Name, i, err)
			}
			return err
		})
	}

	go func() {
		_ = eg.Wait()
		close(g.done)
	}()
}

// AliveProcesses reports how many of the group's replicas are still
// running.
func (g *Group) AliveProcesses() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, r := range g.replicas {
		if r.alive {
			n++
		}
	}
	return n
}

// Name returns the group's configured name.
func (g *Group) Name() string { return g.cfg.Name }

// Shutdown requests termination by cancelling every replica's context.
// With the default ShutdownGrace (zero), this is a force-kill: Shutdown
// returns immediately after cancel() without waiting for replicas to
// exit, since graceful exit is expected to already have happened via
// flush-event propagation, not via Shutdown itself. A positive
// ShutdownGrace instead waits up to that long for replicas to drain and
// returns their first non-nil error; if the grace elapses first it returns
// an error without waiting further.
func (g *Group) Shutdown() error {
	g.mu.Lock()
	cancel := g.cancel
	done := g.done
	grace := g.cfg.ShutdownGrace
	g.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if grace <= 0 {
		return nil
	}

	select {
	case <-done:
	case <-time.After(grace):
		log.Printf("workergroup %q: shutdown grace period elapsed with replicas still running", g.cfg.Name)
		return fmt.Errorf("workergroup %q: replicas still running after %v shutdown grace", g.cfg.Name, grace)
	}

	return g.eg.Wait()
}

// Wait blocks until every replica has returned, without cancelling
// anything — used when a group is expected to drain naturally from an
// upstream flush sentinel.
func (g *Group) Wait() error {
	g.mu.Lock()
	eg := g.eg
	g.mu.Unlock()
	if eg == nil {
		return nil
	}
	return eg.Wait()
}
