package codec

import (
	"encoding/binary"
	"errors"
	"math"
)

var MalformedKeyErr = errors.New("malformed key encoding")

// Ascending encodings. Descending ones are the bitwise NOT of these.

func AppendBool(dst []byte, v bool) []byte {
	if v {
		return append(dst, 1)
	}
	return append(dst, 0)
}

func AppendU8(dst []byte, v uint8) []byte { return append(dst, v) }

func AppendU16(dst []byte, v uint16) []byte { return binary.BigEndian.AppendUint16(dst, v) }

func AppendU32(dst []byte, v uint32) []byte { return binary.BigEndian.AppendUint32(dst, v) }

func AppendU64(dst []byte, v uint64) []byte { return binary.BigEndian.AppendUint64(dst, v) }

func AppendI8(dst []byte, v int8) []byte { return append(dst, uint8(v)^0x80) }

func AppendI16(dst []byte, v int16) []byte { return AppendU16(dst, uint16(v)^(1<<15)) }

func AppendI32(dst []byte, v int32) []byte { return AppendU32(dst, uint32(v)^(1<<31)) }

func AppendI64(dst []byte, v int64) []byte { return AppendU64(dst, uint64(v)^(1<<63)) }

func AppendF32(dst []byte, v float32) []byte {
	bits := math.Float32bits(v)
	if bits&(1<<31) != 0 {
		bits = ^bits
	} else {
		bits ^= 1 << 31
	}
	return AppendU32(dst, bits)
}

func AppendF64(dst []byte, v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits ^= 1 << 63
	}
	return AppendU64(dst, bits)
}

// AppendBytes escapes 0x00 as 0x00 0xff and terminates with 0x00 0x00, so a
// prefix always sorts before any of its extensions.
func AppendBytes(dst []byte, v []byte) []byte {
	for _, b := range v {
		if b == 0x00 {
			dst = append(dst, 0x00, 0xff)
		} else {
			dst = append(dst, b)
		}
	}
	return append(dst, 0x00, 0x00)
}

func AppendString(dst []byte, v string) []byte { return AppendBytes(dst, []byte(v)) }

func invert(b []byte) {
	for i := range b {
		b[i] = ^b[i]
	}
}

// KeyBuilder composes an EncodedKey out of typed components.
type KeyBuilder struct {
	buf  []byte
	desc bool
}

func NewKeyBuilder() *KeyBuilder {
	return &KeyBuilder{buf: make([]byte, 0, 32)}
}

// Desc makes the next component sort in descending order.
func (kb *KeyBuilder) Desc() *KeyBuilder {
	kb.desc = true
	return kb
}

func (kb *KeyBuilder) push(encode func([]byte) []byte) *KeyBuilder {
	start := len(kb.buf)
	kb.buf = encode(kb.buf)
	if kb.desc {
		invert(kb.buf[start:])
		kb.desc = false
	}
	return kb
}

func (kb *KeyBuilder) Bool(v bool) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendBool(b, v) })
}
func (kb *KeyBuilder) U8(v uint8) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendU8(b, v) })
}
func (kb *KeyBuilder) U16(v uint16) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendU16(b, v) })
}
func (kb *KeyBuilder) U32(v uint32) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendU32(b, v) })
}
func (kb *KeyBuilder) U64(v uint64) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendU64(b, v) })
}
func (kb *KeyBuilder) I8(v int8) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendI8(b, v) })
}
func (kb *KeyBuilder) I16(v int16) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendI16(b, v) })
}
func (kb *KeyBuilder) I32(v int32) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendI32(b, v) })
}
func (kb *KeyBuilder) I64(v int64) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendI64(b, v) })
}
func (kb *KeyBuilder) F32(v float32) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendF32(b, v) })
}
func (kb *KeyBuilder) F64(v float64) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendF64(b, v) })
}
func (kb *KeyBuilder) Bytes(v []byte) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendBytes(b, v) })
}
func (kb *KeyBuilder) String(v string) *KeyBuilder {
	return kb.push(func(b []byte) []byte { return AppendString(b, v) })
}

// Raw appends bytes without any encoding, e.g. a namespace prefix.
func (kb *KeyBuilder) Raw(v ...byte) *KeyBuilder {
	kb.buf = append(kb.buf, v...)
	return kb
}

func (kb *KeyBuilder) Build() EncodedKey {
	out := make([]byte, len(kb.buf))
	copy(out, kb.buf)
	return out
}

// KeyReader decodes components in the order they were written.
type KeyReader struct {
	buf  []byte
	desc bool
	err  error
}

func NewKeyReader(key []byte) *KeyReader {
	return &KeyReader{buf: key}
}

func (kr *KeyReader) Desc() *KeyReader {
	kr.desc = true
	return kr
}

func (kr *KeyReader) Err() error { return kr.err }

// Remaining returns the undecoded tail.
func (kr *KeyReader) Remaining() []byte { return kr.buf }

func (kr *KeyReader) take(n int) []byte {
	if kr.err != nil {
		return make([]byte, n)
	}
	if len(kr.buf) < n {
		kr.err = MalformedKeyErr
		return make([]byte, n)
	}
	out := make([]byte, n)
	copy(out, kr.buf[:n])
	kr.buf = kr.buf[n:]
	if kr.desc {
		invert(out)
		kr.desc = false
	}
	return out
}

func (kr *KeyReader) Bool() bool { return kr.take(1)[0] != 0 }

func (kr *KeyReader) U8() uint8 { return kr.take(1)[0] }

func (kr *KeyReader) U16() uint16 { return binary.BigEndian.Uint16(kr.take(2)) }

func (kr *KeyReader) U32() uint32 { return binary.BigEndian.Uint32(kr.take(4)) }

func (kr *KeyReader) U64() uint64 { return binary.BigEndian.Uint64(kr.take(8)) }

func (kr *KeyReader) I8() int8 { return int8(kr.take(1)[0] ^ 0x80) }

func (kr *KeyReader) I16() int16 { return int16(binary.BigEndian.Uint16(kr.take(2)) ^ (1 << 15)) }

func (kr *KeyReader) I32() int32 { return int32(binary.BigEndian.Uint32(kr.take(4)) ^ (1 << 31)) }

func (kr *KeyReader) I64() int64 { return int64(binary.BigEndian.Uint64(kr.take(8)) ^ (1 << 63)) }

func (kr *KeyReader) F32() float32 {
	bits := binary.BigEndian.Uint32(kr.take(4))
	if bits&(1<<31) != 0 {
		bits ^= 1 << 31
	} else {
		bits = ^bits
	}
	return math.Float32frombits(bits)
}

func (kr *KeyReader) F64() float64 {
	bits := binary.BigEndian.Uint64(kr.take(8))
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

func (kr *KeyReader) Bytes() []byte {
	desc := kr.desc
	kr.desc = false
	if kr.err != nil {
		return nil
	}
	// escape pairs are inverted together with the payload in descending mode
	var zero, ff byte = 0x00, 0xff
	if desc {
		zero, ff = 0xff, 0x00
	}
	out := make([]byte, 0, len(kr.buf))
	for i := 0; i < len(kr.buf); i++ {
		b := kr.buf[i]
		if b != zero {
			out = append(out, b)
			continue
		}
		if i+1 >= len(kr.buf) {
			break
		}
		switch kr.buf[i+1] {
		case zero:
			kr.buf = kr.buf[i+2:]
			if desc {
				invert(out)
			}
			return out
		case ff:
			out = append(out, zero)
			i++
		default:
			kr.err = MalformedKeyErr
			return nil
		}
	}
	kr.err = MalformedKeyErr
	return nil
}

func (kr *KeyReader) String() string { return string(kr.Bytes()) }
