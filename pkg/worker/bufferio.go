// Package worker implements the six stereotyped worker templates from
// spec.md §4.C — Importer, Exporter, Processor, Filter, Observer, and
// IsAlive — each enforcing an arity precondition at construction and
// preserving metadata byte-for-byte except where it originates it.
package worker

import (
	"fmt"
	"log"

	"github.com/JulianBaader/mimocorb2/pkg/ring"
)

// BufferIO is the per-worker wiring struct from spec.md §3: the ordered
// read/write/observe handles bound to one worker instance, plus its
// config map and on-disk/logging context.
type BufferIO struct {
	Name           string
	SetupDirectory string
	RunDirectory   string

	Reads    []*ring.Buffer
	Writes   []*ring.Buffer
	Observes []*ring.Buffer

	Config map[string]string

	Logger *log.Logger
}

// FlushSinks sends the flush event to every write buffer this worker owns.
// Called on configuration errors (force-shutdown of sinks, §7) and on
// normal end-of-stream propagation.
func (b *BufferIO) FlushSinks() {
	for _, w := range b.Writes {
		w.SendFlushEvent()
	}
}

// logf writes a line to the worker's logger if one is configured.
func (b *BufferIO) logf(format string, args ...interface{}) {
	if b.Logger == nil {
		return
	}
	b.Logger.Printf("[%s] %s", b.Name, fmt.Sprintf(format, args...))
}

// arityError is a Configuration-class error per spec.md §7: invalid arity
// or shape/dtype mismatch at template construction.
type arityError struct {
	worker string
	detail string
}

func (e *arityError) Error() string {
	return fmt.Sprintf("worker %q: configuration error: %s", e.worker, e.detail)
}

func checkArity(io *BufferIO, template string, reads, writes, observes int, writesAtLeast bool) error {
	if len(io.Reads) != reads {
		return &arityError{io.Name, fmt.Sprintf("%s requires %d read buffer(s), got %d", template, reads, len(io.Reads))}
	}
	if writesAtLeast {
		if len(io.Writes) < writes {
			return &arityError{io.Name, fmt.Sprintf("%s requires >=%d write buffer(s), got %d", template, writes, len(io.Writes))}
		}
	} else if len(io.Writes) != writes {
		return &arityError{io.Name, fmt.Sprintf("%s requires %d write buffer(s), got %d", template, writes, len(io.Writes))}
	}
	if len(io.Observes) != observes {
		return &arityError{io.Name, fmt.Sprintf("%s requires %d observe buffer(s), got %d", template, observes, len(io.Observes))}
	}
	return nil
}

// checkShapeCompat verifies that every sink declares the same schema and
// length as source, the "shape/dtype compatibility" rule for Exporter
// fan-out and Filter sinks in spec.md §4.C.
func checkShapeCompat(worker string, source *ring.Buffer, sinks []*ring.Buffer) error {
	for _, sink := range sinks {
		if !source.Layout().Equal(sink.Layout()) {
			return &arityError{worker, fmt.Sprintf("sink %q shape/dtype mismatch with source %q", sink.Name(), source.Name())}
		}
	}
	return nil
}
