package segtree

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/segtree/internal/gap"
)

// ErrCountMismatch is returned by Check when the header counters disagree
// with the blocks.
var ErrCountMismatch = errors.New("entry counters disagree with blocks")

// Check reads every block and verifies the directory invariants: ranges are
// ascending and disjoint, each block matches its descriptor, no id spans two
// blocks, extents do not overlap, and the header counters match. Blocks are
// not made resident. All violations found are returned joined.
func (t *Tree) Check() error {
	if err := t.ready(); err != nil {
		return err
	}

	var errs []error
	if err := t.dir.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInconsistentDirectory, err))
	}

	used := make([]gap.Span, 0, t.dir.Len())
	for _, d := range t.dir.Descriptors() {
		used = append(used, gap.Span{Offset: int64(d.Offset), Size: int64(d.Size)})
	}
	if _, err := gap.Rebuild(int64(t.headerSize()), used); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInconsistentDirectory, err))
	}

	ids := roaring64.New()
	count := uint64(0)
	for pos := range t.dir.Len() {
		blk, err := t.peekBlock(pos)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d := t.dir.At(pos)
		if blk.Len() == 0 || blk.MinID() != d.MinID || blk.MaxID() != d.MaxID {
			errs = append(errs, &InconsistentBlockError{
				Index: pos, Descriptor: d,
				MinID: blk.MinID(), MaxID: blk.MaxID(), Entries: blk.Len(),
			})
		}
		count += uint64(blk.Len())
		var prev uint64
		for i, e := range blk.Entries() {
			if i > 0 && e.ID == prev {
				continue
			}
			prev = e.ID
			if !ids.CheckedAdd(e.ID) {
				errs = append(errs, fmt.Errorf("%w: id %d appears in more than one block",
					ErrInconsistentDirectory, e.ID))
			}
		}
	}

	if count != t.header.Count || ids.GetCardinality() != t.header.UniqueCount {
		errs = append(errs, fmt.Errorf("%w: header %d entries %d ids, blocks %d entries %d ids",
			ErrCountMismatch, t.header.Count, t.header.UniqueCount, count, ids.GetCardinality()))
	}
	return errors.Join(errs...)
}
