// Package access implements the three scoped buffer-access roles from
// spec.md §4.B: Writer, Reader, and Observer. Each is a short-lived lease
// over one ring.Buffer slot with a typed (metadata, data) view over the slot
// bytes and an idempotent Release. A lease is released only when its holder
// calls Release; nothing in this package releases it on a panic or any
// other exit path.
package access

import (
	"context"
	"fmt"

	"github.com/JulianBaader/mimocorb2/pkg/ring"
	"github.com/JulianBaader/mimocorb2/pkg/slot"
)

// WriteLease is the Writer role's handle: acquired with OpenWriter,
// released with Release or Discard.
type WriteLease struct {
	buf      *ring.Buffer
	tok      ring.Token
	released bool
}

// OpenWriter acquires a write lease on buf, blocking until a slot is
// available (or ctx is done) unless the buffer is paused, in which case the
// trash token is returned immediately per spec.md §4.A.
func OpenWriter(ctx context.Context, buf *ring.Buffer) (*WriteLease, error) {
	tok, err := buf.AcquireWrite(ctx)
	if err != nil {
		return nil, fmt.Errorf("access: open writer on %q: %w", buf.Name(), err)
	}
	return &WriteLease{buf: buf, tok: tok}, nil
}

// IsTrash reports whether this lease was routed to the trash slot because
// the buffer is paused. Callers may still write into Data/Metadata, but the
// bytes are discarded.
func (w *WriteLease) IsTrash() bool { return w.tok.IsTrash() }

// Metadata returns the mutable metadata view for this lease's slot.
func (w *WriteLease) Metadata() []byte { return w.buf.MetadataView(w.tok) }

// Data returns the mutable data-payload view for this lease's slot.
func (w *WriteLease) Data() []byte { return w.buf.DataView(w.tok) }

// Release finalizes the lease, stamping deadtime and publishing the slot
// (a no-op beyond bookkeeping if this lease is a trash write).
func (w *WriteLease) Release(deadtime float64) error {
	if w.released {
		return nil
	}
	w.released = true
	return w.buf.ReleaseWrite(w.tok, deadtime)
}

// SendFlushEvent is a pass-through to the underlying buffer, exposed on
// the Writer role per spec.md §4.B.
func (w *WriteLease) SendFlushEvent() { w.buf.SendFlushEvent() }

// ReadLease is the Reader role's handle.
type ReadLease struct {
	buf      *ring.Buffer
	tok      ring.Token
	released bool
}

// OpenReader acquires a read lease, blocking until a filled slot (or the
// flush sentinel) is available.
func OpenReader(ctx context.Context, buf *ring.Buffer) (*ReadLease, error) {
	tok, err := buf.AcquireRead(ctx)
	if err != nil {
		return nil, fmt.Errorf("access: open reader on %q: %w", buf.Name(), err)
	}
	return &ReadLease{buf: buf, tok: tok}, nil
}

// IsFlush reports whether this lease observed the shutdown sentinel rather
// than real data.
func (r *ReadLease) IsFlush() bool { return r.tok.IsNull() }

// Metadata returns the decoded metadata record for this lease's slot. It
// is an error to call this on a flush lease.
func (r *ReadLease) Metadata() slot.Metadata {
	return slot.Decode(r.buf.MetadataView(r.tok))
}

// MetadataBytes returns the raw metadata view, for byte-for-byte copies.
func (r *ReadLease) MetadataBytes() []byte { return r.buf.MetadataView(r.tok) }

// Data returns the read-only data-payload view for this lease's slot.
func (r *ReadLease) Data() []byte { return r.buf.DataView(r.tok) }

// Release returns the slot to empty, or re-enqueues the sentinel.
func (r *ReadLease) Release() error {
	if r.released {
		return nil
	}
	r.released = true
	return r.buf.ReleaseRead(r.tok)
}

// ObserveLease is the Observer role's handle. Observation never advances
// ownership: the slot stays in filled for other readers/observers.
type ObserveLease struct {
	buf      *ring.Buffer
	tok      ring.Token
	released bool
}

// OpenObserver acquires an observe lease, blocking until a filled slot is
// available. Observer critical sections must stay short — per spec.md §4.B
// and §9, a held observer lease can starve writers on a small buffer.
func OpenObserver(ctx context.Context, buf *ring.Buffer) (*ObserveLease, error) {
	tok, err := buf.AcquireObserve(ctx)
	if err != nil {
		return nil, fmt.Errorf("access: open observer on %q: %w", buf.Name(), err)
	}
	return &ObserveLease{buf: buf, tok: tok}, nil
}

// IsFlush reports whether this lease observed the shutdown sentinel.
func (o *ObserveLease) IsFlush() bool { return o.tok.IsNull() }

// Metadata returns the decoded metadata record.
func (o *ObserveLease) Metadata() slot.Metadata {
	return slot.Decode(o.buf.MetadataView(o.tok))
}

// Data returns the read-only data-payload view.
func (o *ObserveLease) Data() []byte { return o.buf.DataView(o.tok) }

// Release re-enqueues the slot onto filled.
func (o *ObserveLease) Release() error {
	if o.released {
		return nil
	}
	o.released = true
	return o.buf.ReleaseObserve(o.tok)
}
