package cdc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var MalformedChangeErr = errors.New("malformed cdc change encoding")

type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// payloads below this size are stored raw
const compressThreshold = 128

// header: [compression u8][uncompressed size u32][stored size u32]
const headerSize = 9

const (
	flagPre  = 1 << 0
	flagPost = 1 << 1
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Codec encodes Change payloads for file-backed engines.
type Codec struct {
	compression Compression
}

func NewCodec(compression Compression) (*Codec, error) {
	switch compression {
	case CompressionNone, CompressionLZ4, CompressionZstd:
		return &Codec{compression: compression}, nil
	}
	return nil, fmt.Errorf("unsupported compression %d", compression)
}

func (c *Codec) Compression() Compression {
	return c.compression
}

func (c *Codec) EncodeChange(change Change) ([]byte, error) {
	body := make([]byte, 0, 16+len(change.Key)+len(change.Pre)+len(change.Post))
	body = append(body, byte(change.Kind))
	body = appendBytes(body, change.Key)

	var flags byte
	if change.Pre != nil {
		flags |= flagPre
	}
	if change.Post != nil {
		flags |= flagPost
	}
	body = append(body, flags)
	if change.Pre != nil {
		body = appendBytes(body, change.Pre)
	}
	if change.Post != nil {
		body = appendBytes(body, change.Post)
	}
	return c.compress(body)
}

func (c *Codec) DecodeChange(data []byte) (Change, error) {
	body, err := decompress(data)
	if err != nil {
		return Change{}, err
	}
	if len(body) < 1 {
		return Change{}, MalformedChangeErr
	}

	change := Change{Kind: ChangeKind(body[0])}
	rest := body[1:]
	if change.Key, rest, err = readBytes(rest); err != nil {
		return Change{}, err
	}
	if len(rest) < 1 {
		return Change{}, MalformedChangeErr
	}
	flags := rest[0]
	rest = rest[1:]
	if flags&flagPre != 0 {
		if change.Pre, rest, err = readBytes(rest); err != nil {
			return Change{}, err
		}
	}
	if flags&flagPost != 0 {
		if change.Post, _, err = readBytes(rest); err != nil {
			return Change{}, err
		}
	}
	return change, nil
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

func readBytes(src []byte) ([]byte, []byte, error) {
	n, read := binary.Uvarint(src)
	if read <= 0 || uint64(len(src)-read) < n {
		return nil, nil, MalformedChangeErr
	}
	out := make([]byte, n)
	copy(out, src[read:read+int(n)])
	return out, src[read+int(n):], nil
}

func (c *Codec) compress(body []byte) ([]byte, error) {
	if uint64(len(body)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: change of %d bytes", MalformedChangeErr, len(body))
	}
	used := c.compression
	stored := body

	if used != CompressionNone && len(body) >= compressThreshold {
		var compressed []byte
		switch used {
		case CompressionLZ4:
			buf := make([]byte, lz4.CompressBlockBound(len(body)))
			n, err := lz4.CompressBlock(body, buf, nil)
			if err != nil {
				return nil, err
			}
			compressed = buf[:n]
		case CompressionZstd:
			enc, err := getZstdEncoder()
			if err != nil {
				return nil, err
			}
			compressed = enc.EncodeAll(body, nil)
			zstdEncoderPool.Put(enc)
		}
		// keep raw when compression does not help
		if len(compressed) > 0 && float64(len(compressed)) <= float64(len(body))*0.9 {
			stored = compressed
		} else {
			used = CompressionNone
		}
	} else {
		used = CompressionNone
	}

	out := make([]byte, headerSize+len(stored))
	out[0] = byte(used)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(body)))
	binary.LittleEndian.PutUint32(out[5:], uint32(len(stored)))
	copy(out[headerSize:], stored)
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, MalformedChangeErr
	}
	used := Compression(data[0])
	size := binary.LittleEndian.Uint32(data[1:])
	stored := binary.LittleEndian.Uint32(data[5:])
	if uint32(len(data)-headerSize) < stored {
		return nil, MalformedChangeErr
	}
	payload := data[headerSize : headerSize+stored]

	switch used {
	case CompressionNone:
		return payload, nil
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != size {
			return nil, MalformedChangeErr
		}
		return out, nil
	case CompressionZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != size {
			return nil, MalformedChangeErr
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown compression %d", MalformedChangeErr, used)
}
