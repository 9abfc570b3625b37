package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
)

// Segment layout:
//
//	header: magic[8] | format u32 | reserved u32
//	frame:  length u32 | xxhash64(payload) u64 | payload
//
// A frame is the unit of atomicity; a frame whose checksum does not match ends
// the log. A zero length marks unused space.
const (
	segmentMagic       = "TMVCCSEG"
	segmentFormat      = 1
	segmentHeaderSize  = 16
	frameHeaderSize    = 12
	defaultSegmentSize = 1 << 20
)

var TruncatedRecordErr = errors.New("truncated segment record")

type recordKind uint8

const (
	recMulti recordKind = iota + 1
	recCdc
	recSingleSet
	recSingleRemove
	recCompact
	recCdcDrop
)

func encodeSegmentHeader() []byte {
	header := make([]byte, segmentHeaderSize)
	copy(header, segmentMagic)
	binary.LittleEndian.PutUint32(header[8:], segmentFormat)
	return header
}

func checkSegmentHeader(data []byte) error {
	if len(data) < segmentHeaderSize || string(data[:8]) != segmentMagic {
		return core.CorruptedSegmentErr
	}
	if binary.LittleEndian.Uint32(data[8:]) != segmentFormat {
		return core.CorruptedSegmentErr
	}
	return nil
}

// maxFramePayload is the largest payload the u32 length field can describe.
var maxFramePayload int64 = math.MaxUint32

func encodeFrame(payload []byte) ([]byte, error) {
	if int64(len(payload)) > maxFramePayload {
		return nil, fmt.Errorf("%w: frame of %d bytes", core.TxnTooLargeErr, len(payload))
	}
	frame := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:], uint32(len(payload)))
	binary.LittleEndian.PutUint64(frame[4:], xxhash.Sum64(payload))
	copy(frame[frameHeaderSize:], payload)
	return frame, nil
}

// readFrame returns the payload at off, or ok=false at the end of the log.
func readFrame(data []byte, off int64) (payload []byte, ok bool) {
	if off+frameHeaderSize > int64(len(data)) {
		return nil, false
	}
	n := int64(binary.LittleEndian.Uint32(data[off:]))
	if n == 0 || off+frameHeaderSize+n > int64(len(data)) {
		return nil, false
	}
	sum := binary.LittleEndian.Uint64(data[off+4:])
	payload = data[off+frameHeaderSize : off+frameHeaderSize+n]
	if xxhash.Sum64(payload) != sum {
		return nil, false
	}
	return payload, true
}

// frameBuilder accumulates the records of one frame.
type frameBuilder struct {
	buf []byte
}

func (b *frameBuilder) bytes(v []byte) {
	b.buf = binary.AppendUvarint(b.buf, uint64(len(v)))
	b.buf = append(b.buf, v...)
}

func (b *frameBuilder) multi(key []byte, version core.CommitVersion, value []byte) {
	b.buf = append(b.buf, byte(recMulti))
	b.bytes(codec.EncodeVersionedKey(key, version))
	if value == nil {
		b.buf = append(b.buf, 1)
		b.bytes(nil)
		return
	}
	b.buf = append(b.buf, 0)
	b.bytes(value)
}

func (b *frameBuilder) cdc(version core.CommitVersion, seq uint16, timestamp uint64, payload []byte) {
	b.buf = append(b.buf, byte(recCdc))
	b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(version))
	b.buf = binary.BigEndian.AppendUint16(b.buf, seq)
	b.buf = binary.BigEndian.AppendUint64(b.buf, timestamp)
	b.bytes(payload)
}

func (b *frameBuilder) singleSet(key, value []byte) {
	b.buf = append(b.buf, byte(recSingleSet))
	b.bytes(key)
	b.bytes(value)
}

func (b *frameBuilder) singleRemove(key []byte) {
	b.buf = append(b.buf, byte(recSingleRemove))
	b.bytes(key)
}

func (b *frameBuilder) marker(kind recordKind, version core.CommitVersion) {
	b.buf = append(b.buf, byte(kind))
	b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(version))
}

// frameReader walks the records of a payload located at base in the segment.
type frameReader struct {
	payload []byte
	base    int64
	pos     int
	err     error
}

func (r *frameReader) done() bool {
	return r.err != nil || r.pos >= len(r.payload)
}

func (r *frameReader) u8() byte {
	if r.err != nil || r.pos+1 > len(r.payload) {
		r.err = TruncatedRecordErr
		return 0
	}
	v := r.payload[r.pos]
	r.pos++
	return v
}

func (r *frameReader) u16() uint16 {
	if r.err != nil || r.pos+2 > len(r.payload) {
		r.err = TruncatedRecordErr
		return 0
	}
	v := binary.BigEndian.Uint16(r.payload[r.pos:])
	r.pos += 2
	return v
}

func (r *frameReader) u64() uint64 {
	if r.err != nil || r.pos+8 > len(r.payload) {
		r.err = TruncatedRecordErr
		return 0
	}
	v := binary.BigEndian.Uint64(r.payload[r.pos:])
	r.pos += 8
	return v
}

// span returns the absolute segment offset and length of a length-prefixed field.
func (r *frameReader) span() (int64, int) {
	if r.err != nil {
		return 0, 0
	}
	n, read := binary.Uvarint(r.payload[r.pos:])
	if read <= 0 || uint64(len(r.payload)-r.pos-read) < n {
		r.err = TruncatedRecordErr
		return 0, 0
	}
	off := r.base + int64(r.pos+read)
	r.pos += read + int(n)
	return off, int(n)
}

func (r *frameReader) bytes() []byte {
	off, n := r.span()
	if r.err != nil {
		return nil
	}
	start := int(off - r.base)
	out := make([]byte, n)
	copy(out, r.payload[start:start+n])
	return out
}
