package segtree

import (
	"context"
	"fmt"

	"github.com/hupe1980/segtree/internal/block"
	"github.com/hupe1980/segtree/internal/fs"
)

// Split moves the upper half of the blocks, by directory position, into a
// new tree bound to file, which must be empty. A tree with a single block
// has that block split first. A tree whose entries all share one id cannot
// be split and yields an empty tree. Both trees must be flushed to persist
// the result.
func (t *Tree) Split(file fs.File) (*Tree, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	size, err := fs.Size(file)
	if err != nil {
		return nil, fmt.Errorf("segtree: stat split target: %w", err)
	}
	if size != 0 {
		return nil, ErrFileNotEmpty
	}

	other, err := New(file, t.opts.inherited(t.blockSize(), t.Compression())...)
	if err != nil {
		return nil, err
	}

	if t.dir.Len() == 1 {
		n, err := t.loadSegment(0)
		if err != nil {
			return nil, err
		}
		if n.block.SplitIndex(n.block.Bytes()/2) > 0 {
			t.splitBlock(0)
		}
	}
	total := t.dir.Len()
	if total < 2 {
		return other, nil
	}

	from := total / 2
	blocks, err := t.collect(from, total)
	if err != nil {
		return nil, err
	}
	for _, blk := range blocks {
		if err := other.adopt(other.dir.Len(), blk); err != nil {
			return nil, err
		}
	}
	if err := t.disown(from, total, blocks); err != nil {
		return nil, err
	}

	t.opts.metricsCollector.RecordTreeMaintenance(OpSplit, len(blocks))
	t.logger.LogSplit(context.Background(), len(blocks), t.dir.Len())
	return other, nil
}

// BalanceWith moves whole blocks from the near edge of other into t while
// that narrows the difference in entry counts. other must hold more entries
// than t and the two id ranges must not overlap.
func (t *Tree) BalanceWith(other *Tree) error {
	if err := t.peerCheck(other); err != nil {
		return err
	}
	if other.Count() <= t.Count() {
		return &BalanceError{Count: t.Count(), OtherCount: other.Count()}
	}
	otherAbove, err := t.side(other)
	if err != nil {
		return err
	}

	moved := 0
	defer func() {
		t.opts.metricsCollector.RecordTreeMaintenance(OpBalance, moved)
		t.logger.LogBalance(context.Background(), moved, t.Count(), other.Count())
	}()

	for other.dir.Len() > 1 {
		edge := 0
		if !otherAbove {
			edge = other.dir.Len() - 1
		}
		blk, err := other.peekBlock(edge)
		if err != nil {
			return err
		}
		diff := other.Count() - t.Count()
		if blk.Len() >= diff {
			return nil
		}
		if t.dir.Full() {
			return ErrDirectoryFull
		}

		dst := 0
		if otherAbove {
			dst = t.dir.Len()
		}
		if err := t.adopt(dst, blk); err != nil {
			return err
		}
		if err := other.disown(edge, edge+1, []*block.Block{blk}); err != nil {
			return err
		}
		moved++
	}
	return nil
}

// Merge moves every block of other into t. The id ranges must not overlap.
// other is left empty.
func (t *Tree) Merge(other *Tree) error {
	if err := t.peerCheck(other); err != nil {
		return err
	}
	if other.dir.Len() == 0 {
		return nil
	}
	otherAbove, err := t.side(other)
	if err != nil {
		return err
	}
	if t.dir.Len()+other.dir.Len() > t.dir.Capacity() {
		return fmt.Errorf("%w: merging %d blocks into %d of %d",
			ErrDirectoryFull, other.dir.Len(), t.dir.Len(), t.dir.Capacity())
	}

	total := other.dir.Len()
	blocks, err := other.collect(0, total)
	if err != nil {
		t.logger.LogMerge(context.Background(), 0, err)
		return err
	}
	pos := 0
	if otherAbove {
		pos = t.dir.Len()
	}
	for i, blk := range blocks {
		if err := t.adopt(pos+i, blk); err != nil {
			return err
		}
	}
	if err := other.disown(0, total, blocks); err != nil {
		return err
	}

	t.opts.metricsCollector.RecordTreeMaintenance(OpMerge, total)
	t.logger.LogMerge(context.Background(), total, nil)
	return nil
}

func (t *Tree) peerCheck(other *Tree) error {
	if err := t.ready(); err != nil {
		return err
	}
	if err := other.ready(); err != nil {
		return err
	}
	if t == other || t.header.UUID == other.header.UUID {
		return ErrSameTree
	}
	return nil
}

// side reports whether other's ids all lie above t's.
func (t *Tree) side(other *Tree) (bool, error) {
	switch {
	case t.dir.Len() == 0 || other.dir.Len() == 0:
		return true, nil
	case t.MaxID() < other.MinID():
		return true, nil
	case other.MaxID() < t.MinID():
		return false, nil
	default:
		return false, fmt.Errorf("%w: [%d,%d] and [%d,%d]", ErrOverlappingRanges,
			t.MinID(), t.MaxID(), other.MinID(), other.MaxID())
	}
}

// collect returns blocks [from, to) without making them resident.
func (t *Tree) collect(from, to int) ([]*block.Block, error) {
	out := make([]*block.Block, 0, to-from)
	for pos := from; pos < to; pos++ {
		blk, err := t.peekBlock(pos)
		if err != nil {
			return nil, err
		}
		out = append(out, blk)
	}
	return out, nil
}

// adopt inserts a block taken from another tree.
func (t *Tree) adopt(pos int, blk *block.Block) error {
	if err := t.insertSegment(pos, blk); err != nil {
		return err
	}
	t.header.Count += uint64(blk.Len())
	t.header.UniqueCount += uint64(blk.UniqueIDs())
	return nil
}

// disown removes blocks [from, to) after they were adopted elsewhere.
func (t *Tree) disown(from, to int, blocks []*block.Block) error {
	for _, blk := range blocks {
		t.header.Count -= uint64(blk.Len())
		t.header.UniqueCount -= uint64(blk.UniqueIDs())
	}
	for pos := to - 1; pos >= from; pos-- {
		if err := t.dropSegment(pos); err != nil {
			return err
		}
	}
	t.settleState()
	return nil
}
