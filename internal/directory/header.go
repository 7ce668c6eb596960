package directory

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/segtree/internal/hash"
)

const (
	headerMagic   = 0x54474553 // "SEGT"
	headerVersion = 1

	// FixedSize is the size of the counter area at the start of the header.
	FixedSize = 96
	// ReservedTail is kept free at the end of the header region.
	ReservedTail = 16
	// MinBlockSize keeps room for a useful number of descriptors.
	MinBlockSize = 256
)

var (
	ErrFull        = errors.New("directory is full")
	ErrOutOfRange  = errors.New("directory index out of range")
	ErrUnordered   = errors.New("directory ranges are not ascending")
	ErrBadMagic    = errors.New("not a segment tree file")
	ErrBadVersion  = errors.New("unsupported segment tree version")
	ErrChecksum    = errors.New("header checksum mismatch")
	ErrBadBounds   = errors.New("directory bounds out of header")
	ErrShortHeader = errors.New("header too small")
)

// Header holds the counters persisted at the start of the file.
//
// Layout (little endian):
//
//	Magic (4) | Version (4) | BlockSize (4) | Codec (1) | pad (3)
//	UUID (16)
//	Count (8) | UniqueCount (8) | BlockCount (8)
//	DirStart (8) | DirEnd (8) | Checkpoint (8)
//	CRC32 (4) - over the fixed area (CRC zeroed) and the directory
//	pad (4)
//	Directory: BlockCount * {Offset, Size, MinID, MaxID} (8 each)
//	...
//	Reserved tail (16)
type Header struct {
	BlockSize   uint32
	Codec       uint8
	UUID        uuid.UUID
	Count       uint64
	UniqueCount uint64
	Checkpoint  uint64
}

// RegionSize returns the header region size for a block size.
func RegionSize(blockSize int) int { return 2 * blockSize }

// CapacityFor returns how many descriptors fit in the header of a block size.
func CapacityFor(blockSize int) int {
	return (RegionSize(blockSize) - FixedSize - ReservedTail) / DescriptorSize
}

// Encode renders the header region for h and dir. The result is exactly
// RegionSize(h.BlockSize) bytes; the reserved tail is zero.
func Encode(h Header, dir *Directory) ([]byte, error) {
	size := RegionSize(int(h.BlockSize))
	if dir.Len() > CapacityFor(int(h.BlockSize)) {
		return nil, fmt.Errorf("%d descriptors: %w", dir.Len(), ErrFull)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], headerMagic)
	binary.LittleEndian.PutUint32(buf[4:8], headerVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.BlockSize)
	buf[12] = h.Codec
	copy(buf[16:32], h.UUID[:])
	binary.LittleEndian.PutUint64(buf[32:40], h.Count)
	binary.LittleEndian.PutUint64(buf[40:48], h.UniqueCount)
	binary.LittleEndian.PutUint64(buf[48:56], uint64(dir.Len()))

	dirStart := uint64(FixedSize)
	dirEnd := dirStart + uint64(dir.Len()*DescriptorSize)
	binary.LittleEndian.PutUint64(buf[56:64], dirStart)
	binary.LittleEndian.PutUint64(buf[64:72], dirEnd)
	binary.LittleEndian.PutUint64(buf[72:80], h.Checkpoint)

	off := dirStart
	for _, d := range dir.entries {
		binary.LittleEndian.PutUint64(buf[off:], d.Offset)
		binary.LittleEndian.PutUint64(buf[off+8:], d.Size)
		binary.LittleEndian.PutUint64(buf[off+16:], d.MinID)
		binary.LittleEndian.PutUint64(buf[off+24:], d.MaxID)
		off += DescriptorSize
	}

	binary.LittleEndian.PutUint32(buf[80:84], checksum(buf, dirEnd))
	return buf, nil
}

func checksum(buf []byte, dirEnd uint64) uint32 {
	crc := hash.NewCRC32C()
	crc.Write(buf[0:80])
	crc.Write(buf[84:FixedSize])
	crc.Write(buf[FixedSize:dirEnd])
	return crc.Sum32()
}

// PeekBlockSize validates the fixed prefix and returns the stored block size,
// which determines how many bytes the full header region spans.
func PeekBlockSize(prefix []byte) (int, error) {
	if len(prefix) < FixedSize {
		return 0, ErrShortHeader
	}
	if binary.LittleEndian.Uint32(prefix[0:4]) != headerMagic {
		return 0, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(prefix[4:8]); v != headerVersion {
		return 0, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	bs := int(binary.LittleEndian.Uint32(prefix[8:12]))
	if bs < MinBlockSize {
		return 0, fmt.Errorf("%w: block size %d", ErrBadBounds, bs)
	}
	return bs, nil
}

// Decode parses a full header region.
func Decode(buf []byte) (Header, *Directory, error) {
	bs, err := PeekBlockSize(buf)
	if err != nil {
		return Header{}, nil, err
	}
	if len(buf) < RegionSize(bs) {
		return Header{}, nil, ErrShortHeader
	}

	h := Header{
		BlockSize:   uint32(bs),
		Codec:       buf[12],
		Count:       binary.LittleEndian.Uint64(buf[32:40]),
		UniqueCount: binary.LittleEndian.Uint64(buf[40:48]),
		Checkpoint:  binary.LittleEndian.Uint64(buf[72:80]),
	}
	copy(h.UUID[:], buf[16:32])

	blocks := binary.LittleEndian.Uint64(buf[48:56])
	dirStart := binary.LittleEndian.Uint64(buf[56:64])
	dirEnd := binary.LittleEndian.Uint64(buf[64:72])
	capacity := CapacityFor(bs)
	if dirStart != FixedSize || blocks > uint64(capacity) || dirEnd != dirStart+blocks*DescriptorSize {
		return Header{}, nil, fmt.Errorf("%w: start=%d end=%d blocks=%d", ErrBadBounds, dirStart, dirEnd, blocks)
	}
	if checksum(buf, dirEnd) != binary.LittleEndian.Uint32(buf[80:84]) {
		return Header{}, nil, ErrChecksum
	}

	dir := New(capacity)
	dir.entries = make([]Descriptor, 0, blocks)
	for off := dirStart; off < dirEnd; off += DescriptorSize {
		dir.entries = append(dir.entries, Descriptor{
			Offset: binary.LittleEndian.Uint64(buf[off:]),
			Size:   binary.LittleEndian.Uint64(buf[off+8:]),
			MinID:  binary.LittleEndian.Uint64(buf[off+16:]),
			MaxID:  binary.LittleEndian.Uint64(buf[off+24:]),
		})
	}
	if err := dir.Validate(); err != nil {
		return Header{}, nil, err
	}
	return h, dir, nil
}
