package slot

import "fmt"

// FieldType is a primitive numeric element type recognized for a data
// payload field, matching the "numeric_type_code" values from §6.
type FieldType int

const (
	Int8 FieldType = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
)

// Size returns the wire size in bytes of a single value of type t.
func (t FieldType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

func (t FieldType) String() string {
	switch t {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// Field is one named column of a data payload's element record.
type Field struct {
	Name string
	Type FieldType
}

// Schema is the ordered set of fields making up one array element. It is
// the "named record with user-chosen fields" from §3.
type Schema []Field

// ElementSize returns the byte size of a single element under this schema.
func (s Schema) ElementSize() int {
	n := 0
	for _, f := range s {
		n += f.Type.Size()
	}
	return n
}

// Validate rejects an empty schema or a field with an unrecognized type or
// a duplicate field name.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("slot: schema must declare at least one field")
	}
	seen := make(map[string]struct{}, len(s))
	for _, f := range s {
		if f.Name == "" {
			return fmt.Errorf("slot: field name must not be empty")
		}
		if f.Type.Size() == 0 {
			return fmt.Errorf("slot: field %q has unrecognized type %v", f.Name, f.Type)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("slot: duplicate field name %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Equal reports whether s and other declare the same fields in the same
// order with the same types — the "shape/dtype compatibility" check used by
// Exporter fan-out sinks, Filter sinks, and pass-through templates.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i].Name != other[i].Name || s[i].Type != other[i].Type {
			return false
		}
	}
	return true
}

// DataLayout describes the fixed shape of a buffer's data payload: a
// Schema repeated DataLength times.
type DataLayout struct {
	Schema     Schema
	DataLength int
}

// DataBytes is the total byte size of one slot's data payload.
func (d DataLayout) DataBytes() int {
	return d.Schema.ElementSize() * d.DataLength
}

// Validate checks DataLength >= 1 and delegates to Schema.Validate.
func (d DataLayout) Validate() error {
	if d.DataLength < 1 {
		return fmt.Errorf("slot: data_length must be >= 1, got %d", d.DataLength)
	}
	return d.Schema.Validate()
}

// Equal reports whether d and other have the same schema and length —
// used for the Processor/Exporter/Filter arity and dtype checks in §4.C.
func (d DataLayout) Equal(other DataLayout) bool {
	return d.DataLength == other.DataLength && d.Schema.Equal(other.Schema)
}
