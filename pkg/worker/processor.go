package worker

import (
	"context"
	"fmt"

	"github.com/JulianBaader/mimocorb2/pkg/access"
	"github.com/JulianBaader/mimocorb2/pkg/ring"
)

// ProcessFunc transforms one source payload into zero or more sink
// payloads. The returned slice must have exactly len(sinks) entries; a nil
// entry skips that sink. Processor sinks may differ in schema/length from
// the source, unlike Exporter and Filter.
type ProcessFunc func(data []byte) ([][]byte, error)

// Processor transforms each event and routes the per-sink results,
// preserving the source's metadata verbatim on every sink it writes to.
type Processor struct {
	io     *BufferIO
	source *ring.Buffer
	sinks  []*ring.Buffer
	fn     ProcessFunc
	policy FailurePolicy
}

// NewProcessor validates the 1-read/>=1-write/0-observe arity.
func NewProcessor(io *BufferIO, fn ProcessFunc, policy FailurePolicy) (*Processor, error) {
	if err := checkArity(io, "Processor", 1, 1, 0, true); err != nil {
		io.FlushSinks()
		return nil, err
	}
	return &Processor{io: io, source: io.Reads[0], sinks: io.Writes, fn: fn, policy: policy}, nil
}

// Run drains the source until the flush sentinel is observed.
func (p *Processor) Run(ctx context.Context) error {
	for {
		lease, err := access.OpenReader(ctx, p.source)
		if err != nil {
			return fmt.Errorf("worker %q: acquire read: %w", p.io.Name, err)
		}
		if lease.IsFlush() {
			_ = lease.Release()
			p.io.FlushSinks()
			return nil
		}

		meta := lease.Metadata()
		data := lease.Data()

		results, err := p.fn(data)
		if err != nil {
			_ = lease.Release()
			if abort := p.policy.handle(p.io.Name, err); abort {
				p.io.FlushSinks()
				return fmt.Errorf("worker %q: process: %w", p.io.Name, err)
			}
			continue
		}
		if len(results) != len(p.sinks) {
			_ = lease.Release()
			err := fmt.Errorf("worker %q: process returned %d results, want %d", p.io.Name, len(results), len(p.sinks))
			if abort := p.policy.handle(p.io.Name, err); abort {
				p.io.FlushSinks()
				return err
			}
			continue
		}

		for i, out := range results {
			if out == nil {
				continue
			}
			if err := copyInto(ctx, p.sinks[i], meta, out); err != nil {
				_ = lease.Release()
				return fmt.Errorf("worker %q: write to %q: %w", p.io.Name, p.sinks[i].Name(), err)
			}
		}

		if err := lease.Release(); err != nil {
			return fmt.Errorf("worker %q: release read: %w", p.io.Name, err)
		}
	}
}
