package dataio

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Kind is the numpy type character of a field: b, i, u, f, S or U.
type Kind byte

const (
	KindBool    Kind = 'b'
	KindInt     Kind = 'i'
	KindUint    Kind = 'u'
	KindFloat   Kind = 'f'
	KindBytes   Kind = 'S'
	KindUnicode Kind = 'U'
)

// Field describes one member of a record.
type Field struct {
	Name   string
	Kind   Kind
	Size   int // bytes occupied in the record
	Offset int // byte offset within the record
	Order  binary.ByteOrder
}

// DType is a parsed numpy array-protocol descriptor. Plain dtypes are
// represented as a record with a single field.
type DType struct {
	Fields   []Field
	ItemSize int
}

// FieldIndex returns the position of the named field or -1.
func (d *DType) FieldIndex(name string) int {
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// ParseDType parses the "dtype" entry of arrays.json. It accepts either a
// type string such as "<i8" or a structured descr list such as
// [["index", "<i8"], ["cluster_label", "<i8"]]. plainName names the single
// column of a non-structured dtype.
func ParseDType(raw json.RawMessage, plainName string) (*DType, error) {
	var typeStr string
	if err := json.Unmarshal(raw, &typeStr); err == nil {
		f, err := parseTypeStr(typeStr)
		if err != nil {
			return nil, err
		}
		f.Name = plainName
		return &DType{Fields: []Field{f}, ItemSize: f.Size}, nil
	}

	var descr [][]json.RawMessage
	if err := json.Unmarshal(raw, &descr); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, string(raw))
	}
	if len(descr) == 0 {
		return nil, fmt.Errorf("%w: empty descr", ErrUnsupportedDType)
	}

	dt := &DType{Fields: make([]Field, 0, len(descr))}
	for _, entry := range descr {
		// a third element is a subarray shape
		if len(entry) != 2 {
			return nil, fmt.Errorf("%w: descr entry with %d elements", ErrUnsupportedDType, len(entry))
		}
		var name, ts string
		if err := json.Unmarshal(entry[0], &name); err != nil {
			return nil, fmt.Errorf("%w: field name %s", ErrUnsupportedDType, string(entry[0]))
		}
		if err := json.Unmarshal(entry[1], &ts); err != nil {
			return nil, fmt.Errorf("%w: nested dtype for field %q", ErrUnsupportedDType, name)
		}
		f, err := parseTypeStr(ts)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		f.Name = name
		f.Offset = dt.ItemSize
		dt.ItemSize += f.Size
		dt.Fields = append(dt.Fields, f)
	}
	return dt, nil
}

// parseTypeStr parses a numpy typestr like "<i8", "|b1" or "<U16".
func parseTypeStr(s string) (Field, error) {
	var f Field
	if len(s) < 2 {
		return f, fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
	}

	f.Order = binary.LittleEndian
	switch s[0] {
	case '<', '|':
		s = s[1:]
	case '>':
		f.Order = binary.BigEndian
		s = s[1:]
	case '=':
		f.Order = binary.NativeEndian
		s = s[1:]
	}
	if len(s) < 2 {
		return f, fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
	}

	f.Kind = Kind(s[0])
	n, err := strconv.Atoi(s[1:])
	if err != nil || n <= 0 {
		return f, fmt.Errorf("%w: %q", ErrUnsupportedDType, s)
	}

	switch f.Kind {
	case KindBool:
		if n != 1 {
			return f, fmt.Errorf("%w: bool of size %d", ErrUnsupportedDType, n)
		}
		f.Size = 1
	case KindInt, KindUint:
		if n != 1 && n != 2 && n != 4 && n != 8 {
			return f, fmt.Errorf("%w: integer of size %d", ErrUnsupportedDType, n)
		}
		f.Size = n
	case KindFloat:
		if n != 4 && n != 8 {
			return f, fmt.Errorf("%w: float of size %d", ErrUnsupportedDType, n)
		}
		f.Size = n
	case KindBytes:
		f.Size = n
	case KindUnicode:
		// UTF-32 code units
		f.Size = n * 4
	default:
		return f, fmt.Errorf("%w: kind %q", ErrUnsupportedDType, string(f.Kind))
	}
	return f, nil
}
