package segtree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/segtree/internal/block"
	"github.com/hupe1980/segtree/internal/cache"
	"github.com/hupe1980/segtree/internal/compress"
	"github.com/hupe1980/segtree/internal/conv"
	"github.com/hupe1980/segtree/internal/directory"
	"github.com/hupe1980/segtree/internal/gap"
	"github.com/hupe1980/segtree/internal/resource"
)

// LazyLoad discards resident state and reads the header and directory.
// Blocks are read on first access. It fails with ErrUnflushedChanges while
// the tree is dirty, including changes that only touched the header.
func (t *Tree) LazyLoad() error {
	ctx := context.Background()
	err := t.loadDirectory()
	t.logger.LogLoad(ctx, "lazy", t.Len(), err)
	return err
}

// CleanLoad reads the header, the directory and every block. On failure
// the tree is left lazily loaded, or unloaded if the header itself could
// not be read.
func (t *Tree) CleanLoad() error {
	ctx := context.Background()
	err := t.cleanLoad(ctx)
	t.logger.LogLoad(ctx, "clean", t.Len(), err)
	return err
}

func (t *Tree) cleanLoad(ctx context.Context) error {
	if err := t.loadDirectory(); err != nil {
		return err
	}

	blocks := make([]*block.Block, t.dir.Len())
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.loadConcurrency)
	for i := range blocks {
		g.Go(func() error {
			blk, err := t.readBlock(i)
			if err != nil {
				return err
			}
			blocks[i] = blk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	now := t.now()
	for i, blk := range blocks {
		n := &node{block: blk, lastUsed: now}
		if err := t.opts.resources.AcquireMemory(int64(blk.Bytes())); err != nil {
			t.releaseAll()
			return fmt.Errorf("segtree: clean load block %d: %w", i, err)
		}
		n.charged = int64(blk.Bytes())
		t.nodes[i] = n
	}
	t.state = Loaded
	return nil
}

// loadDirectory reads the header region and resets resident state.
func (t *Tree) loadDirectory() error {
	if t.Dirty() {
		return ErrUnflushedChanges
	}

	prefix := make([]byte, directory.FixedSize)
	if _, err := t.file.ReadAt(prefix, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", ErrCorruptHeader, directory.ErrShortHeader)
		}
		return fmt.Errorf("segtree: read header: %w", err)
	}
	bs, err := directory.PeekBlockSize(prefix)
	if err != nil {
		return translateError(err)
	}
	region := make([]byte, directory.RegionSize(bs))
	if _, err := t.file.ReadAt(region, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", ErrCorruptHeader, directory.ErrShortHeader)
		}
		return fmt.Errorf("segtree: read header: %w", err)
	}
	h, dir, err := directory.Decode(region)
	if err != nil {
		return translateError(err)
	}
	if !compress.Type(h.Codec).Valid() {
		return fmt.Errorf("%w: codec %d", ErrCorruptHeader, h.Codec)
	}

	used := make([]gap.Span, 0, dir.Len())
	for _, d := range dir.Descriptors() {
		used = append(used, gap.Span{Offset: int64(d.Offset), Size: int64(d.Size)})
	}
	gaps, err := gap.Rebuild(int64(directory.RegionSize(bs)), used)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptHeader, err)
	}

	t.releaseAll()
	t.header = h
	t.dir = dir
	t.nodes = make([]*node, dir.Len())
	t.gaps = gaps
	t.headerDirty = false
	t.state = Lazy
	t.logger = t.opts.logger.WithTree(h.UUID.String())
	return nil
}

func (t *Tree) releaseAll() {
	for i, n := range t.nodes {
		if n != nil {
			t.opts.resources.ReleaseMemory(n.charged)
			t.nodes[i] = nil
		}
	}
	if t.state == Loaded && t.dir != nil && t.dir.Len() > 0 {
		t.state = Lazy
	}
}

// readBlock reads and verifies block pos without caching it.
func (t *Tree) readBlock(pos int) (*block.Block, error) {
	start := time.Now()
	d := t.dir.At(pos)
	size, err := conv.Uint64ToInt(d.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: block %d: %w", ErrInconsistentDirectory, pos, err)
	}
	off, err := conv.Uint64ToInt64(d.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: block %d: %w", ErrInconsistentDirectory, pos, err)
	}
	buf := make([]byte, size)
	n, err := t.file.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		t.opts.metricsCollector.RecordBlockLoad(0, time.Since(start), err)
		return nil, fmt.Errorf("segtree: read block %d at %d: %w", pos, d.Offset, err)
	}

	blk, err := block.Decode(buf[:n])
	if err != nil {
		err = fmt.Errorf("%w: block %d at %d: %w", ErrInconsistentDirectory, pos, d.Offset, err)
		t.opts.metricsCollector.RecordBlockLoad(0, time.Since(start), err)
		return nil, err
	}
	if blk.Len() == 0 || blk.MinID() != d.MinID || blk.MaxID() != d.MaxID {
		err := &InconsistentBlockError{
			Index:      pos,
			Descriptor: d,
			MinID:      blk.MinID(),
			MaxID:      blk.MaxID(),
			Entries:    blk.Len(),
		}
		t.opts.metricsCollector.RecordBlockLoad(0, time.Since(start), err)
		return nil, err
	}
	t.opts.metricsCollector.RecordBlockLoad(n, time.Since(start), nil)
	return blk, nil
}

// peekBlock returns the resident block at pos, not caching a block it has to
// read.
func (t *Tree) peekBlock(pos int) (*block.Block, error) {
	if n := t.nodes[pos]; n != nil {
		return n.block, nil
	}
	return t.readBlock(pos)
}

// loadSegment makes block pos resident. Under memory pressure, clean blocks
// are evicted least recently used first to make room.
func (t *Tree) loadSegment(pos int) (*node, error) {
	if n := t.nodes[pos]; n != nil {
		n.lastUsed = t.now()
		return n, nil
	}
	blk, err := t.readBlock(pos)
	if err != nil {
		return nil, err
	}
	need := int64(blk.Bytes())
	if err := t.reserveMemory(need, pos); err != nil {
		return nil, fmt.Errorf("segtree: load block %d: %w", pos, err)
	}
	n := &node{block: blk, lastUsed: t.now(), charged: need}
	t.nodes[pos] = n
	return n, nil
}

func (t *Tree) reserveMemory(need int64, keep int) error {
	rc := t.opts.resources
	if err := rc.AcquireMemory(need); err == nil {
		return nil
	} else if !errors.Is(err, resource.ErrMemoryLimitExceeded) {
		return err
	}

	lru := cache.LRUPolicy{SkipDirty: true}
	for _, c := range lru.Victims(t.now(), t.candidates()) {
		if c == keep {
			continue
		}
		n := t.nodes[c]
		rc.ReleaseMemory(n.charged)
		t.nodes[c] = nil
		t.opts.metricsCollector.RecordEviction(1, 0)
		if err := rc.AcquireMemory(need); err == nil {
			t.settleState()
			return nil
		}
	}
	t.settleState()
	return rc.AcquireMemory(need)
}

func (t *Tree) candidates() []cache.Candidate {
	out := make([]cache.Candidate, 0, len(t.nodes))
	for i, n := range t.nodes {
		if n == nil {
			continue
		}
		out = append(out, cache.Candidate{
			Index:    i,
			LastUsed: n.lastUsed,
			Bytes:    n.block.Bytes(),
			Dirty:    n.dirty,
		})
	}
	return out
}

func (t *Tree) settleState() {
	if t.state == Loaded && slices.Contains(t.nodes, nil) {
		t.state = Lazy
	}
}

// Evict drops the resident blocks chosen by the eviction policy. Dirty
// victims are written to their extents first.
func (t *Tree) Evict() (int, error) {
	return t.EvictContext(context.Background())
}

// EvictContext is Evict with a context bounding rate-limited writes.
func (t *Tree) EvictContext(ctx context.Context) (int, error) {
	if err := t.ready(); err != nil {
		return 0, err
	}

	victims := t.opts.evictionPolicy.Victims(t.now(), t.candidates())
	evicted, flushed := 0, 0
	var err error
	for _, pos := range victims {
		n := t.nodes[pos]
		if n == nil {
			continue
		}
		if n.dirty {
			if _, err = t.writeBlock(ctx, pos); err != nil {
				break
			}
			flushed++
		}
		t.opts.resources.ReleaseMemory(n.charged)
		t.nodes[pos] = nil
		evicted++
	}
	t.settleState()

	t.opts.metricsCollector.RecordEviction(evicted, flushed)
	t.logger.LogEvict(ctx, evicted, flushed, err)
	return evicted, err
}
