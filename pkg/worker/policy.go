package worker

import (
	"io"
	"log"
)

// Done is the terminal sentinel a Generator returns to signal a clean end
// of stream — reusing io.EOF the way bufio.Scanner and
// database/sql's Rows.Next do, rather than inventing a bespoke sentinel
// error for the same concept.
var Done = io.EOF

// FailurePolicy controls how a template reacts to a transient error raised
// by user code (a generator, transform, or predicate), per spec.md §7.
type FailurePolicy struct {
	// Debug selects abort-on-error when true; when false the template
	// logs the event and continues.
	Debug bool

	// OnError, if set, is invoked for every transient error (both
	// continued and fatal) so the caller can mirror it onto the print
	// fan-in channel (Component G).
	OnError func(worker string, err error)
}

// handle applies the policy to a transient error from user code. It
// returns true if the worker loop should abort.
func (p FailurePolicy) handle(workerName string, err error) (abort bool) {
	if p.OnError != nil {
		p.OnError(workerName, err)
	}
	if !p.Debug {
		log.Printf("worker %q: continuing after error: %v", workerName, err)
	}
	return p.Debug
}
