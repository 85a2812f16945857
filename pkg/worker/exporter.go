package worker

import (
	"context"
	"fmt"

	"github.com/JulianBaader/mimocorb2/pkg/access"
	"github.com/JulianBaader/mimocorb2/pkg/ring"
	"github.com/JulianBaader/mimocorb2/pkg/slot"
)

// ExportFunc receives each event's data and metadata after it has been
// fanned out (if any sinks are configured) to the Exporter's pass-through
// sinks. A non-nil error is treated as a transient user-code failure.
type ExportFunc func(data []byte, meta slot.Metadata) error

// Exporter drains a single source, optionally fanning identical copies out
// to zero or more pass-through sinks, then yields each event to the user.
type Exporter struct {
	io     *BufferIO
	source *ring.Buffer
	sinks  []*ring.Buffer
	fn     ExportFunc
	policy FailurePolicy
}

// NewExporter validates the 1-read/0..n-write/0-observe arity and that any
// pass-through sinks share the source's schema and length.
func NewExporter(io *BufferIO, fn ExportFunc, policy FailurePolicy) (*Exporter, error) {
	if err := checkArity(io, "Exporter", 1, 0, 0, true); err != nil {
		io.FlushSinks()
		return nil, err
	}
	source := io.Reads[0]
	if err := checkShapeCompat(io.Name, source, io.Writes); err != nil {
		io.FlushSinks()
		return nil, err
	}
	return &Exporter{io: io, source: source, sinks: io.Writes, fn: fn, policy: policy}, nil
}

// Run drains the source until the flush sentinel is observed or ctx is
// cancelled.
func (e *Exporter) Run(ctx context.Context) error {
	for {
		lease, err := access.OpenReader(ctx, e.source)
		if err != nil {
			return fmt.Errorf("worker %q: acquire read: %w", e.io.Name, err)
		}

		if lease.IsFlush() {
			_ = lease.Release()
			e.io.FlushSinks()
			return nil
		}

		meta := lease.Metadata()
		data := lease.Data()

		for _, sink := range e.sinks {
			if err := copyInto(ctx, sink, meta, data); err != nil {
				_ = lease.Release()
				return fmt.Errorf("worker %q: fan out to %q: %w", e.io.Name, sink.Name(), err)
			}
		}

		if e.fn != nil {
			if err := e.fn(data, meta); err != nil {
				if abort := e.policy.handle(e.io.Name, err); abort {
					_ = lease.Release()
					e.io.FlushSinks()
					return fmt.Errorf("worker %q: export: %w", e.io.Name, err)
				}
			}
		}

		if err := lease.Release(); err != nil {
			return fmt.Errorf("worker %q: release read: %w", e.io.Name, err)
		}
	}
}

// copyInto writes meta and data verbatim into a fresh slot of sink — the
// byte-for-byte metadata preservation rule shared by Exporter, Filter, and
// Processor.
func copyInto(ctx context.Context, sink *ring.Buffer, meta slot.Metadata, data []byte) error {
	lease, err := access.OpenWriter(ctx, sink)
	if err != nil {
		return err
	}
	if lease.IsTrash() {
		return lease.Release(0)
	}
	if len(data) != len(lease.Data()) {
		_ = lease.Release(0)
		return fmt.Errorf("payload size %d != sink %q slot size %d", len(data), sink.Name(), len(lease.Data()))
	}
	meta.Encode(lease.Metadata())
	copy(lease.Data(), data)
	return lease.Release(meta.Deadtime)
}
