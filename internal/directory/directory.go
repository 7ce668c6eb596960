// Package directory implements the always-resident metadata directory of a
// segment tree and the file header it is persisted in.
package directory

import (
	"fmt"
	"slices"
	"sort"
)

// DescriptorSize is the on-disk size of a Descriptor.
const DescriptorSize = 32

// Descriptor locates one block in the file and records its id range.
type Descriptor struct {
	Offset uint64 // start of the block's extent
	Size   uint64 // extent reserved for the block, a multiple of the block size
	MinID  uint64
	MaxID  uint64
}

func (d Descriptor) String() string {
	return fmt.Sprintf("block[%d,+%d) ids[%d,%d]", d.Offset, d.Size, d.MinID, d.MaxID)
}

// Contains reports whether id lies within the descriptor's range.
func (d Descriptor) Contains(id uint64) bool {
	return d.MinID <= id && id <= d.MaxID
}

// Directory is an ordered list of descriptors with non-overlapping id ranges.
type Directory struct {
	entries  []Descriptor
	capacity int
}

// New creates an empty directory that can hold up to capacity descriptors.
func New(capacity int) *Directory {
	return &Directory{capacity: capacity}
}

// Len returns the number of descriptors.
func (d *Directory) Len() int { return len(d.entries) }

// Capacity returns the maximum number of descriptors the header can hold.
func (d *Directory) Capacity() int { return d.capacity }

// Full reports whether no further descriptor fits.
func (d *Directory) Full() bool { return len(d.entries) >= d.capacity }

// At returns the i-th descriptor.
func (d *Directory) At(i int) Descriptor { return d.entries[i] }

// Set replaces the i-th descriptor.
func (d *Directory) Set(i int, desc Descriptor) { d.entries[i] = desc }

// Insert places desc at position i.
func (d *Directory) Insert(i int, desc Descriptor) error {
	if d.Full() {
		return fmt.Errorf("directory holds %d descriptors: %w", d.capacity, ErrFull)
	}
	if i < 0 || i > len(d.entries) {
		return fmt.Errorf("directory insert at %d of %d: %w", i, len(d.entries), ErrOutOfRange)
	}
	d.entries = slices.Insert(d.entries, i, desc)
	return nil
}

// Remove deletes the i-th descriptor and closes the hole.
func (d *Directory) Remove(i int) {
	d.entries = slices.Delete(d.entries, i, i+1)
}

// Descriptors returns the descriptors in order. The slice must not be modified.
func (d *Directory) Descriptors() []Descriptor { return d.entries }

// Search returns the index of the first descriptor whose MaxID >= id, or Len
// when id is above every range.
func (d *Directory) Search(id uint64) int {
	return sort.Search(len(d.entries), func(i int) bool {
		return d.entries[i].MaxID >= id
	})
}

// Find returns the index of the descriptor containing id.
func (d *Directory) Find(id uint64) (int, bool) {
	i := d.Search(id)
	if i < len(d.entries) && d.entries[i].Contains(id) {
		return i, true
	}
	return i, false
}

// Validate checks that ranges are well formed, ascending and disjoint.
func (d *Directory) Validate() error {
	for i, e := range d.entries {
		if e.MinID > e.MaxID {
			return fmt.Errorf("descriptor %d: %v: %w", i, e, ErrUnordered)
		}
		if i > 0 && d.entries[i-1].MaxID >= e.MinID {
			return fmt.Errorf("descriptors %d and %d overlap: %w", i-1, i, ErrUnordered)
		}
	}
	return nil
}
