package block

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/segtree/internal/compress"
)

var (
	ErrShortRead = errors.New("block: short read")
	ErrUnordered = errors.New("block: entries out of order")
	ErrTrailing  = errors.New("block: trailing bytes")
)

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func entrySize(e Entry) int {
	return 8 + uvarintLen(uint64(len(e.Payload))) + len(e.Payload)
}

// MarshalBinary returns the raw encoding:
//
//	Count (uvarint)
//	Entries...
//	  ID (8 bytes, little endian)
//	  PayloadLen (uvarint)
//	  Payload (bytes)
func (b *Block) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, b.bytes)
	buf = binary.AppendUvarint(buf, uint64(len(b.entries)))
	for _, e := range b.entries {
		buf = binary.LittleEndian.AppendUint64(buf, e.ID)
		buf = binary.AppendUvarint(buf, uint64(len(e.Payload)))
		buf = append(buf, e.Payload...)
	}
	return buf, nil
}

// UnmarshalBinary replaces the block's contents with a raw encoding.
func (b *Block) UnmarshalBinary(data []byte) error {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return ErrShortRead
	}
	off := n

	// every entry takes at least 9 bytes
	if count > uint64(len(data)-off)/9 {
		return fmt.Errorf("%w: %d entries in %d bytes", ErrShortRead, count, len(data))
	}

	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(data)-off < 8 {
			return ErrShortRead
		}
		id := binary.LittleEndian.Uint64(data[off:])
		off += 8

		plen, n := binary.Uvarint(data[off:])
		if n <= 0 || plen > uint64(len(data)-off-n) {
			return ErrShortRead
		}
		off += n

		payload := make([]byte, plen)
		copy(payload, data[off:off+int(plen)])
		off += int(plen)

		if len(entries) > 0 && entries[len(entries)-1].ID > id {
			return ErrUnordered
		}
		entries = append(entries, Entry{ID: id, Payload: payload})
	}
	if off != len(data) {
		return ErrTrailing
	}

	b.entries = entries
	b.recount()
	return nil
}

// Encode returns the block as a compressed, checksummed frame.
func (b *Block) Encode(codec compress.Type) ([]byte, error) {
	raw, err := b.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return compress.Encode(raw, codec)
}

// Decode parses a frame produced by Encode. Bytes after the frame are ignored.
func Decode(frame []byte) (*Block, error) {
	raw, err := compress.Decode(frame)
	if err != nil {
		return nil, err
	}
	b := New()
	if err := b.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return b, nil
}
