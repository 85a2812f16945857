package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JulianBaader/mimocorb2/pkg/access"
	"github.com/JulianBaader/mimocorb2/pkg/ring"
	"github.com/JulianBaader/mimocorb2/pkg/slot"
)

// Generator produces one payload per call. Returning Done (io.EOF) signals
// the terminal sentinel from spec.md §4.C step 1; any other non-nil error
// is a transient user-code failure handled per FailurePolicy.
type Generator func(ctx context.Context) (payload []byte, err error)

// Importer drives a Generator into a single sink buffer, stamping
// counter/timestamp/deadtime on every event — the only template that
// originates metadata (spec.md §4.C "Metadata preservation rule").
type Importer struct {
	io     *BufferIO
	sink   *ring.Buffer
	gen    Generator
	policy FailurePolicy
}

// NewImporter validates the 0-read/1-write/0-observe arity and returns an
// Importer bound to io's single sink.
func NewImporter(io *BufferIO, gen Generator, policy FailurePolicy) (*Importer, error) {
	if err := checkArity(io, "Importer", 0, 1, 0, false); err != nil {
		io.FlushSinks()
		return nil, err
	}
	return &Importer{io: io, sink: io.Writes[0], gen: gen, policy: policy}, nil
}

// Run drives the generator until it signals Done, the sink's flush event
// is observed, or ctx is cancelled.
func (imp *Importer) Run(ctx context.Context) error {
	counter := int64(0)
	lastEvent := time.Now()

	for {
		if imp.sink.FlushEventReceived() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := imp.gen(ctx)
		if errors.Is(err, Done) {
			imp.sink.SendFlushEvent()
			return nil
		}
		if err != nil {
			if abort := imp.policy.handle(imp.io.Name, err); abort {
				imp.io.FlushSinks()
				return fmt.Errorf("worker %q: importer generator: %w", imp.io.Name, err)
			}
			continue
		}

		tReady := time.Now()
		timestamp := float64(tReady.UnixNano()) / 1e9

		if imp.sink.FlushEventReceived() {
			return nil
		}

		lease, err := access.OpenWriter(ctx, imp.sink)
		if err != nil {
			return fmt.Errorf("worker %q: acquire write: %w", imp.io.Name, err)
		}

		if !lease.IsTrash() {
			if len(payload) != len(lease.Data()) {
				_ = lease.Release(0)
				err := fmt.Errorf("worker %q: payload size %d != slot data size %d", imp.io.Name, len(payload), len(lease.Data()))
				if abort := imp.policy.handle(imp.io.Name, err); abort {
					imp.io.FlushSinks()
					return err
				}
				continue
			}
			copy(lease.Data(), payload)

			tRelease := time.Now()
			denom := tRelease.Sub(lastEvent).Seconds()
			deadtime := 0.0
			if denom > 0 {
				deadtime = slot.Clamp01(tRelease.Sub(tReady).Seconds() / denom)
			}

			meta := slot.Metadata{Counter: counter, Timestamp: timestamp, Deadtime: deadtime}
			meta.Encode(lease.Metadata())
			if err := lease.Release(deadtime); err != nil {
				return fmt.Errorf("worker %q: release write: %w", imp.io.Name, err)
			}
			counter++
			lastEvent = tRelease
		} else {
			// Trash write: release bumps paused_count only.
			if err := lease.Release(0); err != nil {
				return fmt.Errorf("worker %q: release trash write: %w", imp.io.Name, err)
			}
		}
	}
}
