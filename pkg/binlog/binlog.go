// Package binlog writes and reads the versioned binary log format used to
// archive a buffer's events to disk: a fixed header describing the
// per-event schema followed by a stream of (metadata, data) records.
//
// The record-level write shape is grounded on the vectored-write pattern in
// the teacher's asynclogger O_DIRECT writer (writevAlignedWithOffset):
// metadata and data are written as two separate writes, metadata first.
// Both go through a bufio.Writer over a regular file, not a Writev syscall,
// and O_DIRECT is not used — see DESIGN.md for why it does not fit small,
// variable-cadence event records.
package binlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/JulianBaader/mimocorb2/pkg/slot"
)

// Magic identifies a mimocorb2 binary log file.
var Magic = [4]byte{'M', 'C', 'B', '2'}

// FormatVersion is the current on-disk format version.
const FormatVersion uint32 = 1

// Header precedes every log file: magic, version, then the schema the
// records that follow were written with.
type Header struct {
	Layout slot.DataLayout
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeHeader(w io.Writer, h Header) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	if err := writeUint32(w, FormatVersion); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(h.Layout.Schema))); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(h.Layout.DataLength)); err != nil {
		return err
	}
	for _, f := range h.Layout.Schema {
		nameBytes := []byte(f.Name)
		if err := writeUint32(w, uint32(len(nameBytes))); err != nil {
			return err
		}
		if _, err := w.Write(nameBytes); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(f.Type)); err != nil {
			return err
		}
	}
	return nil
}

func readHeader(r io.Reader) (Header, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Header{}, fmt.Errorf("binlog: read magic: %w", err)
	}
	if magic != Magic {
		return Header{}, fmt.Errorf("binlog: bad magic %q", magic)
	}
	version, err := readUint32(r)
	if err != nil {
		return Header{}, fmt.Errorf("binlog: read version: %w", err)
	}
	if version != FormatVersion {
		return Header{}, fmt.Errorf("binlog: unsupported format version %d", version)
	}
	fieldCount, err := readUint32(r)
	if err != nil {
		return Header{}, fmt.Errorf("binlog: read field count: %w", err)
	}
	dataLength, err := readUint32(r)
	if err != nil {
		return Header{}, fmt.Errorf("binlog: read data length: %w", err)
	}
	schema := make(slot.Schema, fieldCount)
	for i := range schema {
		nameLen, err := readUint32(r)
		if err != nil {
			return Header{}, fmt.Errorf("binlog: read field %d name length: %w", i, err)
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return Header{}, fmt.Errorf("binlog: read field %d name: %w", i, err)
		}
		typeVal, err := readUint32(r)
		if err != nil {
			return Header{}, fmt.Errorf("binlog: read field %d type: %w", i, err)
		}
		schema[i] = slot.Field{Name: string(nameBytes), Type: slot.FieldType(typeVal)}
	}
	layout := slot.DataLayout{Schema: schema, DataLength: int(dataLength)}
	if err := layout.Validate(); err != nil {
		return Header{}, fmt.Errorf("binlog: invalid layout in header: %w", err)
	}
	return Header{Layout: layout}, nil
}

// Writer appends (metadata, data) records to a single archive file.
type Writer struct {
	f      *os.File
	bw     *bufio.Writer
	layout slot.DataLayout
}

// Create truncates or creates path and writes a fresh header for layout.
func Create(path string, layout slot.DataLayout) (*Writer, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("binlog: create %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("binlog: create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := writeHeader(bw, Header{Layout: layout}); err != nil {
		f.Close()
		return nil, fmt.Errorf("binlog: write header %s: %w", path, err)
	}
	return &Writer{f: f, bw: bw, layout: layout}, nil
}

// WriteRecord appends one event's metadata and data, in that order, as two
// writes into the buffered writer (metadata first, then payload).
func (w *Writer) WriteRecord(meta slot.Metadata, data []byte) error {
	if len(data) != w.layout.DataBytes() {
		return fmt.Errorf("binlog: record length %d != layout length %d", len(data), w.layout.DataBytes())
	}
	var metaBuf [slot.MetadataBytes]byte
	meta.Encode(metaBuf[:])
	if _, err := w.bw.Write(metaBuf[:]); err != nil {
		return fmt.Errorf("binlog: write metadata: %w", err)
	}
	if _, err := w.bw.Write(data); err != nil {
		return fmt.Errorf("binlog: write data: %w", err)
	}
	return nil
}

// Flush pushes buffered bytes to the OS; Sync additionally fsyncs.
func (w *Writer) Flush() error { return w.bw.Flush() }

func (w *Writer) Sync() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) Close() error {
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("binlog: flush on close: %w", err)
	}
	return w.f.Close()
}

// Reader replays an archive file written by Writer.
type Reader struct {
	f      *os.File
	br     *bufio.Reader
	Header Header
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("binlog: open %s: %w", path, err)
	}
	br := bufio.NewReader(f)
	header, err := readHeader(br)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{f: f, br: br, Header: header}, nil
}

// ReadRecord reads the next event, returning io.EOF once the file is
// exhausted.
func (r *Reader) ReadRecord() (slot.Metadata, []byte, error) {
	var metaBuf [slot.MetadataBytes]byte
	if _, err := io.ReadFull(r.br, metaBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return slot.Metadata{}, nil, fmt.Errorf("binlog: truncated record: %w", err)
		}
		return slot.Metadata{}, nil, err
	}
	data := make([]byte, r.Header.Layout.DataBytes())
	if _, err := io.ReadFull(r.br, data); err != nil {
		return slot.Metadata{}, nil, fmt.Errorf("binlog: truncated record data: %w", err)
	}
	return slot.Decode(metaBuf[:]), data, nil
}

func (r *Reader) Close() error { return r.f.Close() }
