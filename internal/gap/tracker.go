// Package gap tracks free byte ranges of a segment tree file.
//
// Spans are kept in a B-tree ordered by offset. The last span is open ended:
// it starts at the logical end of the file and satisfies any reservation, so
// the file only grows when no released range is large enough.
package gap

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/btree"
)

// Unbounded is the size of the open-ended tail span.
const Unbounded = math.MaxInt64

// ErrOverlap is returned when a released range overlaps a free span.
var ErrOverlap = errors.New("gap: released range overlaps free space")

// Span is a byte range [Offset, Offset+Size).
type Span struct {
	Offset int64
	Size   int64
}

// End returns the first offset after the span.
func (s Span) End() int64 {
	if s.Size == Unbounded {
		return Unbounded
	}
	return s.Offset + s.Size
}

func (s Span) String() string {
	if s.Size == Unbounded {
		return fmt.Sprintf("[%d, +inf)", s.Offset)
	}
	return fmt.Sprintf("[%d, %d)", s.Offset, s.End())
}

func lessSpan(a, b Span) bool { return a.Offset < b.Offset }

// Tracker is a first-fit free-space registry. It is not safe for concurrent use.
type Tracker struct {
	spans *btree.BTreeG[Span]
	free  int64 // bytes in bounded spans
}

// New creates a tracker whose only span is [start, +inf).
func New(start int64) *Tracker {
	t := &Tracker{spans: btree.NewG(8, lessSpan)}
	t.spans.ReplaceOrInsert(Span{Offset: start, Size: Unbounded})
	return t
}

// Rebuild creates a tracker holding the complement of used within [start, +inf).
// used may be unordered; zero-sized spans are ignored.
func Rebuild(start int64, used []Span) (*Tracker, error) {
	occupied := btree.NewG(8, lessSpan)
	for _, s := range used {
		if s.Size <= 0 {
			continue
		}
		if s.Offset < start {
			return nil, fmt.Errorf("%w: %v starts before %d", ErrOverlap, s, start)
		}
		if _, dup := occupied.ReplaceOrInsert(s); dup {
			return nil, fmt.Errorf("%w: duplicate extent at %d", ErrOverlap, s.Offset)
		}
	}

	t := &Tracker{spans: btree.NewG(8, lessSpan)}
	cursor := start
	var err error
	occupied.Ascend(func(s Span) bool {
		if s.Offset < cursor {
			err = fmt.Errorf("%w: %v", ErrOverlap, s)
			return false
		}
		if s.Offset > cursor {
			t.insert(Span{Offset: cursor, Size: s.Offset - cursor})
		}
		cursor = s.End()
		return true
	})
	if err != nil {
		return nil, err
	}
	t.spans.ReplaceOrInsert(Span{Offset: cursor, Size: Unbounded})
	return t, nil
}

func (t *Tracker) insert(s Span) {
	t.spans.ReplaceOrInsert(s)
	if s.Size != Unbounded {
		t.free += s.Size
	}
}

func (t *Tracker) delete(s Span) {
	t.spans.Delete(s)
	if s.Size != Unbounded {
		t.free -= s.Size
	}
}

// Reserve returns the offset of size free bytes using first fit.
func (t *Tracker) Reserve(size int64) int64 {
	if size <= 0 {
		return t.End()
	}

	var found Span
	t.spans.Ascend(func(s Span) bool {
		if s.Size >= size {
			found = s
			return false
		}
		return true
	})

	t.delete(found)
	if found.Size != size {
		rest := Span{Offset: found.Offset + size, Size: found.Size}
		if found.Size != Unbounded {
			rest.Size = found.Size - size
		}
		t.insert(rest)
	}
	return found.Offset
}

// Release marks [offset, offset+size) free and coalesces it with adjacent spans.
func (t *Tracker) Release(offset, size int64) error {
	if size <= 0 {
		return nil
	}
	s := Span{Offset: offset, Size: size}

	var prev, next Span
	var hasPrev, hasNext bool
	t.spans.DescendLessOrEqual(s, func(p Span) bool {
		prev, hasPrev = p, true
		return false
	})
	t.spans.AscendGreaterOrEqual(Span{Offset: offset + 1}, func(n Span) bool {
		next, hasNext = n, true
		return false
	})

	if hasPrev && prev.End() > offset {
		return fmt.Errorf("%w: %v against %v", ErrOverlap, s, prev)
	}
	if hasNext && s.End() > next.Offset {
		return fmt.Errorf("%w: %v against %v", ErrOverlap, s, next)
	}

	if hasPrev && prev.End() == offset {
		t.delete(prev)
		s = Span{Offset: prev.Offset, Size: prev.Size + s.Size}
	}
	if hasNext && s.End() == next.Offset {
		t.delete(next)
		if next.Size == Unbounded {
			s.Size = Unbounded
		} else {
			s.Size += next.Size
		}
	}
	t.insert(s)
	return nil
}

// End returns the start of the open-ended tail span, the logical end of file.
func (t *Tracker) End() int64 {
	end := int64(0)
	t.spans.Descend(func(s Span) bool {
		end = s.Offset
		return false
	})
	return end
}

// FreeBytes returns the number of free bytes below End.
func (t *Tracker) FreeBytes() int64 { return t.free }

// Spans returns the free spans in offset order, the open tail last.
func (t *Tracker) Spans() []Span {
	out := make([]Span, 0, t.spans.Len())
	t.spans.Ascend(func(s Span) bool {
		out = append(out, s)
		return true
	})
	return out
}

// Len returns the number of tracked spans including the tail.
func (t *Tracker) Len() int { return t.spans.Len() }
