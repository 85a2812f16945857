package worker

import (
	"context"
	"fmt"

	"github.com/JulianBaader/mimocorb2/pkg/access"
	"github.com/JulianBaader/mimocorb2/pkg/ring"
)

// FilterFunc is the user predicate for a Filter worker. Returning a single
// bool broadcasts that decision to every sink; returning one bool per sink
// decides copy-vs-drop independently per sink.
type FilterFunc func(data []byte) ([]bool, error)

// Filter copies an event into whichever sinks its predicate selects,
// dropping it for the rest.
type Filter struct {
	io     *BufferIO
	source *ring.Buffer
	sinks  []*ring.Buffer
	fn     FilterFunc
	policy FailurePolicy
}

// NewFilter validates the 1-read/>=1-write/0-observe arity and that every
// sink matches the source's schema and length.
func NewFilter(io *BufferIO, fn FilterFunc, policy FailurePolicy) (*Filter, error) {
	if err := checkArity(io, "Filter", 1, 1, 0, true); err != nil {
		io.FlushSinks()
		return nil, err
	}
	source := io.Reads[0]
	if err := checkShapeCompat(io.Name, source, io.Writes); err != nil {
		io.FlushSinks()
		return nil, err
	}
	return &Filter{io: io, source: source, sinks: io.Writes, fn: fn, policy: policy}, nil
}

func normalizeDecisions(decisions []bool, n int) ([]bool, error) {
	switch len(decisions) {
	case 1:
		out := make([]bool, n)
		for i := range out {
			out[i] = decisions[0]
		}
		return out, nil
	case n:
		return decisions, nil
	default:
		return nil, fmt.Errorf("filter predicate returned %d decisions, want 1 or %d", len(decisions), n)
	}
}

// Run drains the source until the flush sentinel is observed.
func (f *Filter) Run(ctx context.Context) error {
	for {
		lease, err := access.OpenReader(ctx, f.source)
		if err != nil {
			return fmt.Errorf("worker %q: acquire read: %w", f.io.Name, err)
		}
		if lease.IsFlush() {
			_ = lease.Release()
			f.io.FlushSinks()
			return nil
		}

		meta := lease.Metadata()
		data := lease.Data()

		decisions, err := f.fn(data)
		if err != nil {
			if abort := f.policy.handle(f.io.Name, err); abort {
				_ = lease.Release()
				f.io.FlushSinks()
				return fmt.Errorf("worker %q: filter predicate: %w", f.io.Name, err)
			}
			_ = lease.Release()
			continue
		}

		decisions, err = normalizeDecisions(decisions, len(f.sinks))
		if err != nil {
			_ = lease.Release()
			if abort := f.policy.handle(f.io.Name, err); abort {
				f.io.FlushSinks()
				return fmt.Errorf("worker %q: %w", f.io.Name, err)
			}
			continue
		}

		for i, keep := range decisions {
			if !keep {
				continue
			}
			if err := copyInto(ctx, f.sinks[i], meta, data); err != nil {
				_ = lease.Release()
				return fmt.Errorf("worker %q: copy to %q: %w", f.io.Name, f.sinks[i].Name(), err)
			}
		}

		if err := lease.Release(); err != nil {
			return fmt.Errorf("worker %q: release read: %w", f.io.Name, err)
		}
	}
}
