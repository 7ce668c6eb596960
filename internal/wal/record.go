package wal

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/hupe1980/segtree/internal/hash"
)

// RecordType identifies the tree mutation a record logs.
type RecordType uint8

const (
	RecordTypeAppend   RecordType = 1
	RecordTypeRemove   RecordType = 2
	RecordTypeRemoveID RecordType = 3
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeAppend:
		return "append"
	case RecordTypeRemove:
		return "remove"
	case RecordTypeRemoveID:
		return "remove_id"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidCRC     = errors.New("invalid WAL record checksum")
	ErrInvalidType    = errors.New("invalid WAL record type")
	ErrShortRead      = errors.New("short read in WAL record")
	ErrRecordTooLarge = errors.New("WAL record too large")
)

const (
	recordHeaderSize = 4 + 1 + 8 + 4 // CRC + Type + LSN + Length
	maxRecordBody    = 64 * 1024 * 1024
)

// Record represents a single tree mutation in the WAL.
type Record struct {
	LSN     uint64
	Type    RecordType
	ID      uint64
	Payload []byte
}

// Size returns the encoded size of the record.
//
// Format:
// [CRC32: 4 bytes] [Type: 1 byte] [LSN: 8 bytes] [Length: 4 bytes] [Body: Length bytes]
// Body for Append and Remove: [ID: 8 bytes] [Payload]
// Body for RemoveID: [ID: 8 bytes]
func (r *Record) Size() int {
	return recordHeaderSize + r.bodyLen()
}

func (r *Record) bodyLen() int {
	if r.Type == RecordTypeRemoveID {
		return 8
	}
	return 8 + len(r.Payload)
}

// Encode writes the record to w.
func (r *Record) Encode(w io.Writer) error {
	if r.Type < RecordTypeAppend || r.Type > RecordTypeRemoveID {
		return ErrInvalidType
	}
	if r.bodyLen() > maxRecordBody {
		return ErrRecordTooLarge
	}

	buf := make([]byte, r.Size())
	buf[4] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[5:13], r.LSN)
	binary.LittleEndian.PutUint32(buf[13:17], uint32(r.bodyLen()))
	binary.LittleEndian.PutUint64(buf[17:25], r.ID)
	if r.Type != RecordTypeRemoveID {
		copy(buf[25:], r.Payload)
	}
	binary.LittleEndian.PutUint32(buf[0:4], hash.CRC32C(buf[4:]))

	_, err := w.Write(buf)
	return err
}

// Decode reads a record from r. It returns io.EOF at a clean end of log and
// io.ErrUnexpectedEOF for a record cut short by a crash.
func Decode(r io.Reader) (*Record, int64, error) {
	header := make([]byte, recordHeaderSize)
	if n, err := io.ReadFull(r, header); err != nil {
		return nil, int64(n), err
	}

	checksum := binary.LittleEndian.Uint32(header[0:4])
	recType := RecordType(header[4])
	lsn := binary.LittleEndian.Uint64(header[5:13])
	length := binary.LittleEndian.Uint32(header[13:17])

	if length > maxRecordBody {
		return nil, recordHeaderSize, ErrRecordTooLarge
	}

	body := make([]byte, length)
	if n, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, recordHeaderSize + int64(n), err
	}
	size := int64(recordHeaderSize) + int64(length)

	crc := hash.NewCRC32C()
	crc.Write(header[4:])
	crc.Write(body)
	if crc.Sum32() != checksum {
		return nil, size, ErrInvalidCRC
	}

	rec := &Record{Type: recType, LSN: lsn}
	switch recType {
	case RecordTypeAppend, RecordTypeRemove:
		if len(body) < 8 {
			return nil, size, ErrShortRead
		}
		rec.ID = binary.LittleEndian.Uint64(body[0:8])
		rec.Payload = body[8:]
	case RecordTypeRemoveID:
		if len(body) != 8 {
			return nil, size, ErrShortRead
		}
		rec.ID = binary.LittleEndian.Uint64(body)
	default:
		return nil, size, ErrInvalidType
	}
	return rec, size, nil
}
