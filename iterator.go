package segtree

import (
	"iter"

	"github.com/hupe1980/segtree/internal/directory"
)

// Cursor is a position in the block sequence of a tree. Moving a cursor
// never touches the file; the block is read when Entries is called. A
// cursor is invalidated by any structural change to its tree.
type Cursor struct {
	t    *Tree
	pos  int
	step int
}

// Begin returns a forward cursor at the first block.
func (t *Tree) Begin() Cursor { return Cursor{t: t, pos: 0, step: 1} }

// End returns the forward cursor one past the last block.
func (t *Tree) End() Cursor { return Cursor{t: t, pos: t.Len(), step: 1} }

// RBegin returns a reverse cursor at the last block.
func (t *Tree) RBegin() Cursor { return Cursor{t: t, pos: t.Len() - 1, step: -1} }

// REnd returns the reverse cursor one before the first block.
func (t *Tree) REnd() Cursor { return Cursor{t: t, pos: -1, step: -1} }

// Valid reports whether the cursor refers to a block.
func (c Cursor) Valid() bool { return c.pos >= 0 && c.pos < c.t.Len() }

// Next moves one block in the cursor's direction.
func (c *Cursor) Next() { c.pos += c.step }

// Prev moves one block against the cursor's direction.
func (c *Cursor) Prev() { c.pos -= c.step }

// Advance returns the cursor moved n blocks in its direction.
func (c Cursor) Advance(n int) Cursor {
	c.pos += n * c.step
	return c
}

// Equal reports whether two cursors refer to the same position of the same
// tree.
func (c Cursor) Equal(o Cursor) bool { return c.t == o.t && c.pos == o.pos }

// Index returns the directory position.
func (c Cursor) Index() int { return c.pos }

// Descriptor returns the directory entry of the block.
func (c Cursor) Descriptor() directory.Descriptor { return c.t.dir.At(c.pos) }

// Entries returns the block's entries in ascending id order, loading the
// block when it is not resident. The slice is owned by the tree.
func (c Cursor) Entries() ([]Entry, error) {
	n, err := c.t.loadSegment(c.pos)
	if err != nil {
		return nil, err
	}
	return n.block.Entries(), nil
}

// All yields every entry in ascending id order. Iteration stops at the first
// load error, which is yielded with a zero Entry.
func (t *Tree) All() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if err := t.ready(); err != nil {
			yield(Entry{}, err)
			return
		}
		for c := t.Begin(); c.Valid(); c.Next() {
			entries, err := c.Entries()
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range entries {
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}

// Backward yields every entry in descending id order. Entries sharing an id
// come out in reverse insertion order.
func (t *Tree) Backward() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if err := t.ready(); err != nil {
			yield(Entry{}, err)
			return
		}
		for c := t.RBegin(); c.Valid(); c.Next() {
			entries, err := c.Entries()
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for i := len(entries) - 1; i >= 0; i-- {
				if !yield(entries[i], nil) {
					return
				}
			}
		}
	}
}
