package worker

import (
	"context"
	"fmt"

	"github.com/JulianBaader/mimocorb2/pkg/access"
	"github.com/JulianBaader/mimocorb2/pkg/ring"
	"github.com/JulianBaader/mimocorb2/pkg/slot"
)

// ObserveFunc is invoked for every event an Observer sees. Observers are a
// side channel: they never advance the data, so ObserveFunc must return
// promptly.
type ObserveFunc func(data []byte, meta slot.Metadata) error

// Observer is the side-channel consumer template: 0 reads, 0 writes, 1
// observe.
type Observer struct {
	io       *BufferIO
	observed *ring.Buffer
	fn       ObserveFunc
	policy   FailurePolicy
}

// NewObserver validates the 0-read/0-write/1-observe arity.
func NewObserver(io *BufferIO, fn ObserveFunc, policy FailurePolicy) (*Observer, error) {
	if err := checkArity(io, "Observer", 0, 0, 1, false); err != nil {
		return nil, err
	}
	return &Observer{io: io, observed: io.Observes[0], fn: fn, policy: policy}, nil
}

// Run observes events until the observed buffer's flush sentinel is seen
// or ctx is cancelled. Observer generators must terminate promptly when
// the observed buffer shuts down, per spec.md §4.C.
func (o *Observer) Run(ctx context.Context) error {
	for {
		lease, err := access.OpenObserver(ctx, o.observed)
		if err != nil {
			return fmt.Errorf("worker %q: acquire observe: %w", o.io.Name, err)
		}
		if lease.IsFlush() {
			_ = lease.Release()
			return nil
		}

		meta := lease.Metadata()
		data := lease.Data()
		err = o.fn(data, meta)

		if relErr := lease.Release(); relErr != nil {
			return fmt.Errorf("worker %q: release observe: %w", o.io.Name, relErr)
		}

		if err != nil {
			if abort := o.policy.handle(o.io.Name, err); abort {
				return fmt.Errorf("worker %q: observe: %w", o.io.Name, err)
			}
		}
	}
}
