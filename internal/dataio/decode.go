package dataio

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// arrowType maps a numpy kind onto the column type used for it.
// Integers widen to 64 bits so callers can compare labels without a type switch.
func arrowType(k Kind) arrow.DataType {
	switch k {
	case KindBool:
		return arrow.FixedWidthTypes.Boolean
	case KindInt:
		return arrow.PrimitiveTypes.Int64
	case KindUint:
		return arrow.PrimitiveTypes.Uint64
	case KindFloat:
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.BinaryTypes.String
	}
}

// Schema returns the Arrow schema records of this dtype decode into.
func (d *DType) Schema() *arrow.Schema {
	fields := make([]arrow.Field, len(d.Fields))
	for i, f := range d.Fields {
		fields[i] = arrow.Field{Name: f.Name, Type: arrowType(f.Kind)}
	}
	return arrow.NewSchema(fields, nil)
}

// decodeRecords converts rows of C-ordered records into a column-oriented
// record batch. Bytes past the last row are ignored, as numpy memmap does.
// The result owns its buffers; data may be unmapped afterwards.
func decodeRecords(mem memory.Allocator, dt *DType, data []byte, rows int) (arrow.RecordBatch, error) {
	if rows < 0 {
		return nil, fmt.Errorf("%w: negative row count %d", ErrCorruptArray, rows)
	}
	want := rows * dt.ItemSize
	if len(data) < want {
		return nil, fmt.Errorf("%w: %d bytes, want %d (%d rows of %d)", ErrCorruptArray, len(data), want, rows, dt.ItemSize)
	}
	data = data[:want]

	b := array.NewRecordBuilder(mem, dt.Schema())
	defer b.Release()
	b.Reserve(rows)

	for i, f := range dt.Fields {
		fb := b.Field(i)
		for r := 0; r < rows; r++ {
			start := r*dt.ItemSize + f.Offset
			v := data[start : start+f.Size]
			switch f.Kind {
			case KindBool:
				fb.(*array.BooleanBuilder).Append(v[0] != 0)
			case KindInt:
				fb.(*array.Int64Builder).Append(readInt(v, f))
			case KindUint:
				fb.(*array.Uint64Builder).Append(readUint(v, f))
			case KindFloat:
				fb.(*array.Float64Builder).Append(readFloat(v, f))
			case KindBytes:
				fb.(*array.StringBuilder).Append(string(bytes.TrimRight(v, "\x00")))
			case KindUnicode:
				fb.(*array.StringBuilder).Append(readUnicode(v, f))
			}
		}
	}

	return b.NewRecordBatch(), nil
}

func readUint(v []byte, f Field) uint64 {
	switch f.Size {
	case 1:
		return uint64(v[0])
	case 2:
		return uint64(f.Order.Uint16(v))
	case 4:
		return uint64(f.Order.Uint32(v))
	default:
		return f.Order.Uint64(v)
	}
}

func readInt(v []byte, f Field) int64 {
	switch f.Size {
	case 1:
		return int64(int8(v[0]))
	case 2:
		return int64(int16(f.Order.Uint16(v)))
	case 4:
		return int64(int32(f.Order.Uint32(v)))
	default:
		return int64(f.Order.Uint64(v))
	}
}

func readFloat(v []byte, f Field) float64 {
	if f.Size == 4 {
		return float64(math.Float32frombits(f.Order.Uint32(v)))
	}
	return math.Float64frombits(f.Order.Uint64(v))
}

func readUnicode(v []byte, f Field) string {
	var sb strings.Builder
	for i := 0; i+4 <= len(v); i += 4 {
		r := f.Order.Uint32(v[i:])
		if r == 0 {
			break
		}
		sb.WriteRune(rune(r))
	}
	return sb.String()
}
