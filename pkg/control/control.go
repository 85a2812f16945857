// Package control implements the control loop that owns every shared
// buffer and worker group in a run: dispatching namespaced commands,
// aggregating per-buffer statistics into a single newest-wins snapshot
// channel, fanning worker log output into one print channel, and
// exposing per-group liveness over the standard gRPC health-checking
// protocol.
package control

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	healthgrpc "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/JulianBaader/mimocorb2/pkg/ring"
	"github.com/JulianBaader/mimocorb2/pkg/workergroup"
)

// Domain names which namespace a Command's Selector resolves against:
// `buffer {all|roots|named[names]} {shutdown|pause|resume}` and
// `worker {all|named[names]} shutdown`.
type Domain string

const (
	DomainBuffer Domain = "buffer"
	DomainWorker Domain = "worker"
)

// Verb is the action a Command applies to every buffer or worker group
// its Selector resolves to. Shutdown means different things per Domain:
// on a buffer it means send_flush_event (the only clean way to stop a
// buffer — readers drain it and propagate the sentinel downstream); on a
// worker group it means terminate the group's replicas.
type Verb string

const (
	Shutdown Verb = "shutdown"
	Pause    Verb = "pause"
	Resume   Verb = "resume"
)

// Selector picks which buffers or worker groups within a Domain a
// Command applies to. Exactly one of All, Roots, or Names should be set;
// Roots is only meaningful for DomainBuffer.
type Selector struct {
	All   bool
	Roots bool
	Names []string
}

// Command is a single namespaced instruction sent to the control loop.
type Command struct {
	Domain   Domain
	Selector Selector
	Verb     Verb
}

// PrintLine is one line of worker output fanned into the aggregation
// channel from Component G.
type PrintLine struct {
	Worker string
	Line   string
	At     time.Time
}

// Snapshot is the aggregate telemetry pushed to Stats() subscribers: the
// latest Stats() of every registered buffer plus each worker group's
// alive-process count.
type Snapshot struct {
	Buffers map[string]ring.Stats
	Alive   map[string]int
	At      time.Time
}

// Loop owns every buffer and worker group for one run and serializes
// command dispatch, statistics aggregation, and health reporting.
type Loop struct {
	mu      sync.RWMutex
	buffers map[string]*ring.Buffer
	groups  map[string]*workergroup.Group
	roots   map[string]bool

	commands chan Command
	prints   chan PrintLine
	stats    chan Snapshot

	health *healthgrpc.Server
}

// New builds an empty control loop. RegisterBuffer/RegisterGroup wire
// components in before Run starts the aggregation loops.
func New() *Loop {
	return &Loop{
		buffers:  make(map[string]*ring.Buffer),
		groups:   make(map[string]*workergroup.Group),
		roots:    make(map[string]bool),
		commands: make(chan Command, 16),
		prints:   make(chan PrintLine, 256),
		// Stats is intentionally capacity 1: a slow subscriber should see
		// the newest snapshot, never a backlog of stale ones.
		stats:  make(chan Snapshot, 1),
		health: healthgrpc.NewServer(),
	}
}

func (l *Loop) RegisterBuffer(b *ring.Buffer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffers[b.Name()] = b
}

func (l *Loop) RegisterGroup(g *workergroup.Group) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.groups[g.Name()] = g
	l.health.SetServingStatus(g.Name(), healthpb.HealthCheckResponse_NOT_SERVING)
}

// SetRoots records which registered buffers are topology roots (as
// identified by pkg/topology.Roots at startup), so that a
// `buffer roots ...` command can resolve its target set.
func (l *Loop) SetRoots(names []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roots = make(map[string]bool, len(names))
	for _, n := range names {
		l.roots[n] = true
	}
}

// HealthServer exposes the loop's liveness state over the standard gRPC
// Health Checking Protocol; callers register it with
// healthpb.RegisterHealthServer on their own grpc.Server.
func (l *Loop) HealthServer() *healthgrpc.Server { return l.health }

// Commands returns the channel operators send namespaced commands on.
func (l *Loop) Commands() chan<- Command { return l.commands }

// Prints returns the send side of the print fan-in channel (Component G);
// Run logs every line it receives. Worker stdout/stderr is not captured
// into it: only lines that callers send on it arrive there.
func (l *Loop) Prints() chan<- PrintLine { return l.prints }

// Stats returns the read side of the newest-wins telemetry channel
// (Component H).
func (l *Loop) Stats() <-chan Snapshot { return l.stats }

// Run drives command dispatch, print aggregation, and periodic telemetry
// computation until ctx is cancelled.
func (l *Loop) Run(ctx context.Context, telemetryInterval time.Duration) error {
	if telemetryInterval <= 0 {
		telemetryInterval = time.Second
	}
	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-l.commands:
			if err := l.dispatch(cmd); err != nil {
				log.Printf("control: command %+v failed: %v", cmd, err)
			}
		case pl := <-l.prints:
			log.Printf("[%s] %s", pl.Worker, pl.Line)
		case <-ticker.C:
			l.publishSnapshot()
		}
	}
}

func (l *Loop) dispatch(cmd Command) error {
	switch cmd.Domain {
	case DomainBuffer:
		return l.dispatchBuffer(cmd.Selector, cmd.Verb)
	case DomainWorker:
		return l.dispatchWorker(cmd.Selector, cmd.Verb)
	default:
		return fmt.Errorf("control: unknown domain %q", cmd.Domain)
	}
}

// resolveBuffers resolves a buffer Selector to the concrete set of
// buffers it names, covering the `{all|roots|named[names]}` forms.
func (l *Loop) resolveBuffers(sel Selector) ([]*ring.Buffer, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch {
	case sel.All:
		bufs := make([]*ring.Buffer, 0, len(l.buffers))
		for _, b := range l.buffers {
			bufs = append(bufs, b)
		}
		return bufs, nil
	case sel.Roots:
		bufs := make([]*ring.Buffer, 0, len(l.roots))
		for name := range l.roots {
			if b, ok := l.buffers[name]; ok {
				bufs = append(bufs, b)
			}
		}
		return bufs, nil
	default:
		bufs := make([]*ring.Buffer, 0, len(sel.Names))
		for _, name := range sel.Names {
			b, ok := l.buffers[name]
			if !ok {
				return nil, fmt.Errorf("control: %q is not a registered buffer", name)
			}
			bufs = append(bufs, b)
		}
		return bufs, nil
	}
}

// resolveGroups resolves a worker Selector to the concrete set of worker
// groups it names. DomainWorker has no `roots` form.
func (l *Loop) resolveGroups(sel Selector) ([]*workergroup.Group, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if sel.All {
		groups := make([]*workergroup.Group, 0, len(l.groups))
		for _, g := range l.groups {
			groups = append(groups, g)
		}
		return groups, nil
	}
	groups := make([]*workergroup.Group, 0, len(sel.Names))
	for _, name := range sel.Names {
		g, ok := l.groups[name]
		if !ok {
			return nil, fmt.Errorf("control: %q is not a registered worker group", name)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (l *Loop) dispatchBuffer(sel Selector, verb Verb) error {
	bufs, err := l.resolveBuffers(sel)
	if err != nil {
		return err
	}
	switch verb {
	case Shutdown:
		// A buffer's own "shutdown" is send_flush_event: there is no
		// other clean way to stop a buffer, since its readers must drain
		// and propagate the sentinel downstream themselves (invariant 4).
		for _, b := range bufs {
			b.SendFlushEvent()
		}
		return nil
	case Pause:
		for _, b := range bufs {
			b.Pause()
		}
		return nil
	case Resume:
		for _, b := range bufs {
			b.Resume()
		}
		return nil
	default:
		return fmt.Errorf("control: unknown buffer verb %q", verb)
	}
}

func (l *Loop) dispatchWorker(sel Selector, verb Verb) error {
	groups, err := l.resolveGroups(sel)
	if err != nil {
		return err
	}
	switch verb {
	case Shutdown:
		var firstErr error
		for _, g := range groups {
			if err := g.Shutdown(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	default:
		return fmt.Errorf("control: unsupported worker verb %q", verb)
	}
}

func (l *Loop) publishSnapshot() {
	l.mu.RLock()
	snap := Snapshot{
		Buffers: make(map[string]ring.Stats, len(l.buffers)),
		Alive:   make(map[string]int, len(l.groups)),
		At:      time.Now(),
	}
	for name, b := range l.buffers {
		snap.Buffers[name] = b.Stats()
	}
	for name, g := range l.groups {
		alive := g.AliveProcesses()
		snap.Alive[name] = alive
		status := healthpb.HealthCheckResponse_SERVING
		if alive == 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		l.health.SetServingStatus(name, status)
	}
	l.mu.RUnlock()

	// Newest-wins: drain any stale snapshot before pushing.
	select {
	case <-l.stats:
	default:
	}
	select {
	case l.stats <- snap:
	default:
	}
}
