// Package compress implements the self-describing frame blocks are stored in.
//
// Frame layout (little endian):
//
//	Type (1 byte) | RawLen (4 bytes) | StoredLen (4 bytes) | CRC32(stored) (4 bytes) | Stored...
//
// Type records the codec actually used, so a frame decodes without knowing
// the tree's configured codec. When compression does not help the frame is
// stored with TypeNone.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/segtree/internal/conv"
	"github.com/hupe1980/segtree/internal/hash"
)

// Type defines the compression algorithm used.
type Type uint8

const (
	// TypeNone stores data as is.
	TypeNone Type = 0
	// TypeLZ4 indicates LZ4 block compression (fast, good for hot data).
	TypeLZ4 Type = 1
	// TypeZSTD indicates ZSTD compression (better ratio, good for cold data).
	TypeZSTD Type = 2
	// TypeSnappy indicates Snappy block compression.
	TypeSnappy Type = 3
)

// HeaderSize is the fixed size of a frame header.
const HeaderSize = 13

var (
	ErrShortFrame   = errors.New("compress: frame too small")
	ErrChecksum     = errors.New("compress: frame checksum mismatch")
	ErrUnknownType  = errors.New("compress: unknown compression type")
	ErrSizeMismatch = errors.New("compress: decompressed size mismatch")
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeLZ4:
		return "lz4"
	case TypeZSTD:
		return "zstd"
	case TypeSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseType maps a codec name to its Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "", "none":
		return TypeNone, nil
	case "lz4":
		return TypeLZ4, nil
	case "zstd":
		return TypeZSTD, nil
	case "snappy":
		return TypeSnappy, nil
	default:
		return TypeNone, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}

// Valid reports whether t is a known codec.
func (t Type) Valid() bool { return t <= TypeSnappy }

// ZSTD encoder/decoder pools
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode wraps data in a frame, compressing it with t when that saves at
// least 10%.
func Encode(data []byte, t Type) ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}

	stored := data
	used := TypeNone
	if t != TypeNone && len(data) > 0 {
		compressed, err := compressWith(data, t)
		if err != nil {
			return nil, err
		}
		if len(compressed) > 0 && float64(len(compressed)) <= float64(len(data))*0.9 {
			stored = compressed
			used = t
		}
	}

	rawLen, err := conv.IntToUint32(len(data))
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}

	frame := make([]byte, HeaderSize+len(stored))
	frame[0] = byte(used)
	binary.LittleEndian.PutUint32(frame[1:5], rawLen)
	binary.LittleEndian.PutUint32(frame[5:9], uint32(len(stored)))
	binary.LittleEndian.PutUint32(frame[9:13], hash.CRC32C(stored))
	copy(frame[HeaderSize:], stored)
	return frame, nil
}

func compressWith(data []byte, t Type) ([]byte, error) {
	switch t {
	case TypeLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, err
		}
		// n == 0 means incompressible
		return dst[:n], nil
	case TypeZSTD:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, nil), nil
	case TypeSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

// FrameLen returns the total frame length announced by a frame header.
func FrameLen(header []byte) (int, error) {
	if len(header) < HeaderSize {
		return 0, ErrShortFrame
	}
	return HeaderSize + int(binary.LittleEndian.Uint32(header[5:9])), nil
}

// Decode verifies and unwraps a frame. Trailing bytes after the frame are
// ignored, so a frame can be decoded straight from a padded file extent.
func Decode(frame []byte) ([]byte, error) {
	n, err := FrameLen(frame)
	if err != nil {
		return nil, err
	}
	if len(frame) < n {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrShortFrame, len(frame), n)
	}

	t := Type(frame[0])
	rawLen := binary.LittleEndian.Uint32(frame[1:5])
	stored := frame[HeaderSize:n]
	if !hash.Verify(stored, binary.LittleEndian.Uint32(frame[9:13])) {
		return nil, ErrChecksum
	}

	switch t {
	case TypeNone:
		if uint32(len(stored)) != rawLen {
			return nil, ErrSizeMismatch
		}
		out := make([]byte, len(stored))
		copy(out, stored)
		return out, nil
	case TypeLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != rawLen {
			return nil, ErrSizeMismatch
		}
		return out, nil
	case TypeZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(stored, make([]byte, 0, rawLen))
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != rawLen {
			return nil, ErrSizeMismatch
		}
		return out, nil
	case TypeSnappy:
		out, err := snappy.Decode(nil, stored)
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != rawLen {
			return nil, ErrSizeMismatch
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}
