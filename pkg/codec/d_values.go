package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var LayoutMismatchErr = errors.New("encoded values do not match layout")

type Type uint8

const (
	TypeBool Type = iota + 1
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeF32
	TypeF64
	TypeUtf8
	TypeBlob
)

func (t Type) size() int {
	switch t {
	case TypeBool, TypeI8, TypeU8:
		return 1
	case TypeI16, TypeU16:
		return 2
	case TypeI32, TypeU32, TypeF32:
		return 4
	case TypeI64, TypeU64, TypeF64:
		return 8
	case TypeUtf8, TypeBlob:
		// u32 offset into the dynamic section + u32 length
		return 8
	}
	panic(fmt.Sprintf("unknown type %d", t))
}

func (t Type) dynamic() bool {
	return t == TypeUtf8 || t == TypeBlob
}

// EncodedValues is a row payload: validity bitmap, static slots, dynamic section.
type EncodedValues []byte

// Layout describes the fields of an EncodedValues payload.
type Layout struct {
	fields     []Type
	offsets    []int
	bitmapSize int
	staticSize int
}

func NewLayout(fields ...Type) *Layout {
	l := &Layout{
		fields:     fields,
		offsets:    make([]int, len(fields)),
		bitmapSize: (len(fields) + 7) / 8,
	}
	offset := l.bitmapSize
	for i, f := range fields {
		l.offsets[i] = offset
		offset += f.size()
	}
	l.staticSize = offset
	return l
}

func (l *Layout) Fields() int { return len(l.fields) }

// Allocate returns a row with every field undefined.
func (l *Layout) Allocate() EncodedValues {
	return make(EncodedValues, l.staticSize)
}

func (l *Layout) Validate(row EncodedValues) error {
	if len(row) < l.staticSize {
		return LayoutMismatchErr
	}
	return nil
}

func (l *Layout) IsDefined(row EncodedValues, idx int) bool {
	return row[idx/8]&(1<<(idx%8)) != 0
}

func (l *Layout) setDefined(row EncodedValues, idx int, defined bool) {
	if defined {
		row[idx/8] |= 1 << (idx % 8)
	} else {
		row[idx/8] &^= 1 << (idx % 8)
	}
}

// AllDefined reports whether every field carries a value.
func (l *Layout) AllDefined(row EncodedValues) bool {
	for i := range l.fields {
		if !l.IsDefined(row, i) {
			return false
		}
	}
	return true
}

func (l *Layout) SetUndefined(row EncodedValues, idx int) {
	l.setDefined(row, idx, false)
}

func (l *Layout) slot(row EncodedValues, idx int, t Type) []byte {
	if l.fields[idx] != t {
		panic(fmt.Sprintf("field %d has type %d, not %d", idx, l.fields[idx], t))
	}
	off := l.offsets[idx]
	return row[off : off+t.size()]
}

func (l *Layout) SetBool(row EncodedValues, idx int, v bool) {
	s := l.slot(row, idx, TypeBool)
	s[0] = 0
	if v {
		s[0] = 1
	}
	l.setDefined(row, idx, true)
}

func (l *Layout) GetBool(row EncodedValues, idx int) (bool, bool) {
	if !l.IsDefined(row, idx) {
		return false, false
	}
	return l.slot(row, idx, TypeBool)[0] == 1, true
}

func (l *Layout) SetI32(row EncodedValues, idx int, v int32) {
	binary.LittleEndian.PutUint32(l.slot(row, idx, TypeI32), uint32(v))
	l.setDefined(row, idx, true)
}

func (l *Layout) GetI32(row EncodedValues, idx int) (int32, bool) {
	if !l.IsDefined(row, idx) {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(l.slot(row, idx, TypeI32))), true
}

func (l *Layout) SetI64(row EncodedValues, idx int, v int64) {
	binary.LittleEndian.PutUint64(l.slot(row, idx, TypeI64), uint64(v))
	l.setDefined(row, idx, true)
}

func (l *Layout) GetI64(row EncodedValues, idx int) (int64, bool) {
	if !l.IsDefined(row, idx) {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(l.slot(row, idx, TypeI64))), true
}

func (l *Layout) SetU64(row EncodedValues, idx int, v uint64) {
	binary.LittleEndian.PutUint64(l.slot(row, idx, TypeU64), v)
	l.setDefined(row, idx, true)
}

func (l *Layout) GetU64(row EncodedValues, idx int) (uint64, bool) {
	if !l.IsDefined(row, idx) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(l.slot(row, idx, TypeU64)), true
}

func (l *Layout) SetF64(row EncodedValues, idx int, v float64) {
	binary.LittleEndian.PutUint64(l.slot(row, idx, TypeF64), math.Float64bits(v))
	l.setDefined(row, idx, true)
}

func (l *Layout) GetF64(row EncodedValues, idx int) (float64, bool) {
	if !l.IsDefined(row, idx) {
		return 0, false
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(l.slot(row, idx, TypeF64))), true
}

// SetUtf8 appends the string to the dynamic section; it may reallocate the row.
func (l *Layout) SetUtf8(row *EncodedValues, idx int, v string) {
	l.setDynamic(row, idx, TypeUtf8, []byte(v))
}

func (l *Layout) GetUtf8(row EncodedValues, idx int) (string, bool) {
	b, ok := l.getDynamic(row, idx, TypeUtf8)
	return string(b), ok
}

func (l *Layout) SetBlob(row *EncodedValues, idx int, v []byte) {
	l.setDynamic(row, idx, TypeBlob, v)
}

func (l *Layout) GetBlob(row EncodedValues, idx int) ([]byte, bool) {
	return l.getDynamic(row, idx, TypeBlob)
}

func (l *Layout) setDynamic(row *EncodedValues, idx int, t Type, v []byte) {
	offset := len(*row) - l.staticSize
	*row = append(*row, v...)
	s := l.slot(*row, idx, t)
	binary.LittleEndian.PutUint32(s[0:4], uint32(offset))
	binary.LittleEndian.PutUint32(s[4:8], uint32(len(v)))
	l.setDefined(*row, idx, true)
}

func (l *Layout) getDynamic(row EncodedValues, idx int, t Type) ([]byte, bool) {
	if !l.IsDefined(row, idx) {
		return nil, false
	}
	s := l.slot(row, idx, t)
	start := l.staticSize + int(binary.LittleEndian.Uint32(s[0:4]))
	end := start + int(binary.LittleEndian.Uint32(s[4:8]))
	if end > len(row) {
		return nil, false
	}
	out := make([]byte, end-start)
	copy(out, row[start:end])
	return out, true
}
