package ring

// Token is a slot-index lease handed out by acquire/release pairs on a
// Buffer. Non-negative values index into the slot arena; the two negative
// sentinels below carry the special meanings from spec.md §4.A.
type Token int32

const (
	// NullToken is the flush-event sentinel: enqueued once onto filled by
	// send_flush_event and re-enqueued by every reader/observer that pops
	// it, so it remains observable to later readers for the life of the
	// buffer.
	NullToken Token = -1

	// TrashToken is handed out by acquire_write while the buffer is
	// paused. Writes against it land in the 1-slot trash arena and never
	// reach filled.
	TrashToken Token = -2
)

// IsNull reports whether tok is the flush sentinel.
func (tok Token) IsNull() bool { return tok == NullToken }

// IsTrash reports whether tok is the trash-slot sentinel.
func (tok Token) IsTrash() bool { return tok == TrashToken }
