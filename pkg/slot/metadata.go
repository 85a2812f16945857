// Package slot defines the fixed-schema metadata record and element dtype
// machinery shared by every buffer, worker template, and on-disk format in
// the runtime.
package slot

import (
	"encoding/binary"
	"math"
)

// MetadataBytes is the wire size of a Metadata record: one int64 counter and
// two float64 fields, tight packed, little-endian.
const MetadataBytes = 8 + 8 + 8

// Metadata is the fixed schema carried alongside every slot's data payload.
// Only an Importer ever originates a Metadata value; every other worker
// template must copy it byte-for-byte from source to sink.
type Metadata struct {
	// Counter is assigned by the producing Importer and increases by
	// exactly 1 between consecutive events from that Importer.
	Counter int64

	// Timestamp is wall-clock seconds since epoch, recorded at production.
	Timestamp float64

	// Deadtime is the fraction of the inter-event interval spent blocked
	// acquiring the write lease, clamped to [0, 1].
	Deadtime float64
}

// Encode writes m into buf in the fixed little-endian layout. buf must be at
// least MetadataBytes long.
func (m Metadata) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.Counter))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(m.Timestamp))
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(m.Deadtime))
}

// Decode reads a Metadata value out of buf, which must be at least
// MetadataBytes long.
func Decode(buf []byte) Metadata {
	return Metadata{
		Counter:   int64(binary.LittleEndian.Uint64(buf[0:8])),
		Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16])),
		Deadtime:  math.Float64frombits(binary.LittleEndian.Uint64(buf[16:24])),
	}
}

// Clamp01 clamps v into [0, 1], the Deadtime invariant from §3.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
