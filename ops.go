package segtree

import (
	"bytes"

	"github.com/hupe1980/segtree/internal/block"
)

// locate returns the block an id belongs to, or the block it would be
// inserted into when no range contains it.
func (t *Tree) locate(id uint64) (int, bool) {
	pos, found := t.dir.Find(id)
	if !found && pos == t.dir.Len() {
		pos--
	}
	return pos, found
}

// Append inserts (id, payload). Entries with equal ids keep insertion order.
// A block that grows past the block size is split in two on an id boundary.
func (t *Tree) Append(id uint64, payload []byte) error {
	if err := t.ready(); err != nil {
		return err
	}
	if id == InvalidID {
		return ErrInvalidID
	}
	payload = bytes.Clone(payload)

	if t.dir.Len() == 0 {
		return t.appendToNewBlock(0, id, payload)
	}

	pos, found := t.locate(id)
	n, err := t.loadSegment(pos)
	if err != nil {
		return err
	}
	if !found && n.block.Bytes() >= t.blockSize() && !t.dir.Full() {
		if id > t.dir.At(pos).MaxID {
			pos++
		}
		return t.appendToNewBlock(pos, id, payload)
	}

	unique := !found || !n.block.ContainsID(id)
	n.block.Append(id, payload)
	t.header.Count++
	if unique {
		t.header.UniqueCount++
	}
	t.syncDescriptor(pos)
	t.markDirty(pos)

	if n.block.Bytes() > t.blockSize() {
		t.splitBlock(pos)
	}
	return nil
}

func (t *Tree) appendToNewBlock(pos int, id uint64, payload []byte) error {
	blk := block.New()
	blk.Append(id, payload)
	if err := t.insertSegment(pos, blk); err != nil {
		return err
	}
	t.header.Count++
	t.header.UniqueCount++
	return nil
}

// splitBlock moves the upper half of an overfull block into a new block.
// Blocks that cannot be cut, because they hold a single id or the directory
// is full, are left oversized.
func (t *Tree) splitBlock(pos int) {
	blk := t.nodes[pos].block
	if t.dir.Full() {
		t.logger.Warn("directory full, block left oversized",
			"block", pos, "bytes", blk.Bytes())
		return
	}
	cut := blk.SplitIndex(blk.Bytes() / 2)
	if cut == 0 {
		t.logger.Debug("block holds a single id, not split",
			"block", pos, "bytes", blk.Bytes())
		return
	}
	tail := blk.TakeTail(cut)
	t.charge(t.nodes[pos])
	if err := t.insertSegment(pos+1, tail); err != nil {
		t.nodes[pos].block = block.Concat(blk, tail)
		t.charge(t.nodes[pos])
		t.logger.Warn("block split failed", "block", pos, "error", err)
		return
	}
	t.syncDescriptor(pos)
	t.markDirty(pos)
	t.opts.metricsCollector.RecordBlockSplit()
}

// Remove deletes the first entry equal to (id, payload).
func (t *Tree) Remove(id uint64, payload []byte) (bool, error) {
	if err := t.ready(); err != nil {
		return false, err
	}
	pos, found := t.dir.Find(id)
	if !found {
		return false, nil
	}
	n, err := t.loadSegment(pos)
	if err != nil {
		return false, err
	}
	if !n.block.Remove(id, payload) {
		return false, nil
	}
	t.header.Count--
	if !n.block.ContainsID(id) {
		t.header.UniqueCount--
	}
	return true, t.afterRemoval(pos)
}

// RemoveID deletes every entry with id and returns how many were removed.
func (t *Tree) RemoveID(id uint64) (int, error) {
	if err := t.ready(); err != nil {
		return 0, err
	}
	pos, found := t.dir.Find(id)
	if !found {
		return 0, nil
	}
	n, err := t.loadSegment(pos)
	if err != nil {
		return 0, err
	}
	removed := n.block.RemoveID(id)
	if removed == 0 {
		return 0, nil
	}
	t.header.Count -= uint64(removed)
	t.header.UniqueCount--
	return removed, t.afterRemoval(pos)
}

func (t *Tree) afterRemoval(pos int) error {
	if t.nodes[pos].block.Len() == 0 {
		return t.dropSegment(pos)
	}
	t.syncDescriptor(pos)
	t.markDirty(pos)
	return t.mergeCheck(pos)
}

// mergeCheck folds an underfull block into a neighbour when both fit in one
// block, or evens out the pair when the neighbour has bytes to spare.
func (t *Tree) mergeCheck(pos int) error {
	low := int(float64(t.blockSize()) * MergeCheck)
	if t.nodes[pos].block.Bytes() >= low || t.dir.Len() < 2 {
		return nil
	}

	other := pos + 1
	if other == t.dir.Len() {
		other = pos - 1
	}
	if _, err := t.loadSegment(other); err != nil {
		// The removal already applied; leave the block underfull.
		t.logger.Warn("merge check skipped", "block", pos, "neighbour", other, "error", err)
		return nil
	}

	lo := min(pos, other)
	lower, upper := t.nodes[lo].block, t.nodes[lo+1].block
	joined := block.Concat(lower, upper)

	if joined.Bytes() <= t.blockSize() {
		t.nodes[lo].block = joined
		err := t.dropSegment(lo + 1)
		t.syncDescriptor(lo)
		t.markDirty(lo)
		t.opts.metricsCollector.RecordBlockMerge(false)
		return err
	}

	if t.nodes[other].block.Bytes() <= low {
		return nil
	}
	cut := joined.SplitIndex(joined.Bytes() / 2)
	if cut == 0 {
		return nil
	}
	tail := joined.TakeTail(cut)
	t.nodes[lo].block = joined
	t.nodes[lo+1].block = tail
	t.syncDescriptor(lo)
	t.syncDescriptor(lo + 1)
	t.markDirty(lo)
	t.markDirty(lo + 1)
	t.opts.metricsCollector.RecordBlockMerge(true)
	return nil
}

// ContainsID reports whether any entry has id.
func (t *Tree) ContainsID(id uint64) (bool, error) {
	n, err := t.lookup(id)
	if n == nil || err != nil {
		return false, err
	}
	return n.block.ContainsID(id), nil
}

// Contains reports whether an entry equal to (id, payload) exists.
func (t *Tree) Contains(id uint64, payload []byte) (bool, error) {
	n, err := t.lookup(id)
	if n == nil || err != nil {
		return false, err
	}
	return n.block.Contains(id, payload), nil
}

// ItemCount returns how many entries have id.
func (t *Tree) ItemCount(id uint64) (int, error) {
	n, err := t.lookup(id)
	if n == nil || err != nil {
		return 0, err
	}
	return n.block.ItemCount(id), nil
}

// GetItem returns the index-th payload of id in insertion order.
func (t *Tree) GetItem(id uint64, index int) ([]byte, bool, error) {
	n, err := t.lookup(id)
	if n == nil || err != nil {
		return nil, false, err
	}
	p, ok := n.block.GetItem(id, index)
	return p, ok, nil
}

// GetItems returns every payload of id in insertion order.
func (t *Tree) GetItems(id uint64) ([][]byte, error) {
	n, err := t.lookup(id)
	if n == nil || err != nil {
		return nil, err
	}
	return n.block.GetItems(id), nil
}

func (t *Tree) lookup(id uint64) (*node, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	pos, found := t.dir.Find(id)
	if !found {
		return nil, nil
	}
	return t.loadSegment(pos)
}
