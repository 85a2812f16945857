package worker

import (
	"context"
	"time"

	"github.com/JulianBaader/mimocorb2/pkg/ring"
)

// IsAliveProbe is the liveness probe template: 0 reads, 0 writes, 1
// observe. It reports alive as long as the observed buffer has not been
// sent a flush event and a user-supplied heartbeat keeps returning
// true, matching the dual condition in the original mimocorb2
// worker_templates.IsAliveWorker.
type IsAliveProbe struct {
	io        *BufferIO
	observed  *ring.Buffer
	heartbeat func() bool
}

// NewIsAliveProbe validates the 0-read/0-write/1-observe arity.
func NewIsAliveProbe(io *BufferIO, heartbeat func() bool) (*IsAliveProbe, error) {
	if err := checkArity(io, "IsAlive", 0, 0, 1, false); err != nil {
		return nil, err
	}
	if heartbeat == nil {
		heartbeat = func() bool { return true }
	}
	return &IsAliveProbe{io: io, observed: io.Observes[0], heartbeat: heartbeat}, nil
}

// IsAlive reports whether the probed worker is still considered live: the
// observed buffer has not been sent a flush event and the heartbeat
// predicate still holds.
func (p *IsAliveProbe) IsAlive() bool {
	return !p.observed.FlushEventReceived() && p.heartbeat()
}

// Run polls IsAlive on interval until ctx is cancelled or the observed
// buffer shuts down, invoking report for every transition. It is a
// convenience loop; callers that only need point-in-time checks can call
// IsAlive directly (e.g. from a gRPC health check handler).
func (p *IsAliveProbe) Run(ctx context.Context, interval time.Duration, report func(alive bool)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			alive := p.IsAlive()
			if alive != last && report != nil {
				report(alive)
			}
			last = alive
			if !alive {
				return nil
			}
		}
	}
}
