// Package block implements the fixed-capacity page of a segment tree.
//
// A Block holds a run of (id, payload) entries sorted by id. Several entries
// may share an id; they keep their insertion order. Blocks never perform I/O:
// the tree reads and writes their encoded form.
package block

import (
	"bytes"
	"slices"
)

// Entry is a single (id, payload) pair.
type Entry struct {
	ID      uint64
	Payload []byte
}

// Block is an ordered run of entries.
type Block struct {
	entries []Entry
	bytes   int // raw encoded size, see encodedSize
}

// New creates an empty block.
func New() *Block {
	return &Block{bytes: uvarintLen(0)}
}

// FromEntries builds a block from entries already sorted by id.
func FromEntries(entries []Entry) *Block {
	b := &Block{entries: entries}
	b.recount()
	return b
}

func (b *Block) recount() {
	size := uvarintLen(uint64(len(b.entries)))
	for _, e := range b.entries {
		size += entrySize(e)
	}
	b.bytes = size
}

// lowerBound returns the index of the first entry with ID >= id.
func (b *Block) lowerBound(id uint64) int {
	i, _ := slices.BinarySearchFunc(b.entries, id, func(e Entry, id uint64) int {
		switch {
		case e.ID < id:
			return -1
		case e.ID > id:
			return 1
		default:
			return 0
		}
	})
	return i
}

// upperBound returns the index of the first entry with ID > id.
func (b *Block) upperBound(id uint64) int {
	i := b.lowerBound(id)
	for i < len(b.entries) && b.entries[i].ID == id {
		i++
	}
	return i
}

func (b *Block) span(id uint64) (int, int) {
	lo := b.lowerBound(id)
	hi := lo
	for hi < len(b.entries) && b.entries[hi].ID == id {
		hi++
	}
	return lo, hi
}

// Append inserts an entry after every existing entry with the same id.
// The block keeps a reference to payload.
func (b *Block) Append(id uint64, payload []byte) {
	oldCount := len(b.entries)
	i := b.upperBound(id)
	b.entries = slices.Insert(b.entries, i, Entry{ID: id, Payload: payload})
	b.bytes += entrySize(b.entries[i]) + uvarintLen(uint64(len(b.entries))) - uvarintLen(uint64(oldCount))
}

// Remove deletes the first entry matching both id and payload.
func (b *Block) Remove(id uint64, payload []byte) bool {
	lo, hi := b.span(id)
	for i := lo; i < hi; i++ {
		if bytes.Equal(b.entries[i].Payload, payload) {
			b.removeRange(i, i+1)
			return true
		}
	}
	return false
}

// RemoveID deletes every entry with id and returns how many were removed.
func (b *Block) RemoveID(id uint64) int {
	lo, hi := b.span(id)
	if lo == hi {
		return 0
	}
	b.removeRange(lo, hi)
	return hi - lo
}

func (b *Block) removeRange(lo, hi int) {
	oldCount := len(b.entries)
	for _, e := range b.entries[lo:hi] {
		b.bytes -= entrySize(e)
	}
	b.entries = slices.Delete(b.entries, lo, hi)
	b.bytes += uvarintLen(uint64(len(b.entries))) - uvarintLen(uint64(oldCount))
}

// ItemCount returns the number of entries with id.
func (b *Block) ItemCount(id uint64) int {
	lo, hi := b.span(id)
	return hi - lo
}

// ContainsID reports whether any entry has id.
func (b *Block) ContainsID(id uint64) bool {
	i := b.lowerBound(id)
	return i < len(b.entries) && b.entries[i].ID == id
}

// Contains reports whether an entry matches both id and payload.
func (b *Block) Contains(id uint64, payload []byte) bool {
	lo, hi := b.span(id)
	for i := lo; i < hi; i++ {
		if bytes.Equal(b.entries[i].Payload, payload) {
			return true
		}
	}
	return false
}

// GetItem returns the index-th payload stored under id, in insertion order.
func (b *Block) GetItem(id uint64, index int) ([]byte, bool) {
	lo, hi := b.span(id)
	if index < 0 || lo+index >= hi {
		return nil, false
	}
	return b.entries[lo+index].Payload, true
}

// GetItems returns every payload stored under id, in insertion order.
func (b *Block) GetItems(id uint64) [][]byte {
	lo, hi := b.span(id)
	if lo == hi {
		return nil
	}
	out := make([][]byte, 0, hi-lo)
	for _, e := range b.entries[lo:hi] {
		out = append(out, e.Payload)
	}
	return out
}

// Len returns the number of entries.
func (b *Block) Len() int { return len(b.entries) }

// Bytes returns the raw encoded size of the block.
func (b *Block) Bytes() int { return b.bytes }

// MinID returns the smallest id. It is 0 for an empty block.
func (b *Block) MinID() uint64 {
	if len(b.entries) == 0 {
		return 0
	}
	return b.entries[0].ID
}

// MaxID returns the largest id. It is 0 for an empty block.
func (b *Block) MaxID() uint64 {
	if len(b.entries) == 0 {
		return 0
	}
	return b.entries[len(b.entries)-1].ID
}

// UniqueIDs returns the number of distinct ids.
func (b *Block) UniqueIDs() int {
	n := 0
	for i, e := range b.entries {
		if i == 0 || b.entries[i-1].ID != e.ID {
			n++
		}
	}
	return n
}

// Entries returns the entries in order. The slice must not be modified.
func (b *Block) Entries() []Entry { return b.entries }
