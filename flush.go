package segtree

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/segtree/internal/compress"
	"github.com/hupe1980/segtree/internal/directory"
)

// Flush writes every dirty block and then the header, syncing the file after
// each phase. A failed flush leaves the tree dirty so it can be retried.
func (t *Tree) Flush() error {
	return t.FlushContext(context.Background())
}

// FlushContext is Flush with a context bounding rate-limited writes.
func (t *Tree) FlushContext(ctx context.Context) error {
	if err := t.ready(); err != nil {
		return err
	}
	start := time.Now()
	blocks, bytes, err := t.flush(ctx)
	d := time.Since(start)
	t.opts.metricsCollector.RecordFlush(blocks, bytes, d, err)
	t.logger.LogFlush(ctx, blocks, bytes, d, err)
	return err
}

func (t *Tree) flush(ctx context.Context) (int, int64, error) {
	var (
		blocks int
		bytes  int64
	)
	for pos, n := range t.nodes {
		if n == nil || !n.dirty {
			continue
		}
		w, err := t.writeBlock(ctx, pos)
		if err != nil {
			return blocks, bytes, err
		}
		blocks++
		bytes += int64(w)
	}
	if blocks == 0 && !t.headerDirty {
		return 0, 0, nil
	}
	if blocks > 0 {
		if err := t.file.Sync(); err != nil {
			return blocks, bytes, fmt.Errorf("segtree: sync blocks: %w", err)
		}
	}

	w, err := t.writeHeader(ctx)
	if err != nil {
		return blocks, bytes, err
	}
	bytes += int64(w)
	if err := t.file.Sync(); err != nil {
		t.headerDirty = true
		return blocks, bytes, fmt.Errorf("segtree: sync header: %w", err)
	}
	return blocks, bytes, nil
}

// writeBlock encodes block pos and writes it to its extent, relocating the
// extent when the frame no longer fits. Extents are whole multiples of the
// block size.
func (t *Tree) writeBlock(ctx context.Context, pos int) (int, error) {
	n := t.nodes[pos]
	frame, err := n.block.Encode(compress.Type(t.header.Codec))
	if err != nil {
		return 0, fmt.Errorf("segtree: encode block %d: %w", pos, err)
	}

	d := t.dir.At(pos)
	bs := int64(t.blockSize())
	need := (int64(len(frame)) + bs - 1) / bs * bs
	if need != int64(d.Size) {
		if need < int64(d.Size) {
			err = t.gaps.Release(int64(d.Offset)+need, int64(d.Size)-need)
		} else {
			err = t.gaps.Release(int64(d.Offset), int64(d.Size))
			if err == nil {
				d.Offset = uint64(t.gaps.Reserve(need))
			}
		}
		if err != nil {
			return 0, fmt.Errorf("segtree: resize extent %s: %w", d, err)
		}
		d.Size = uint64(need)
		t.dir.Set(pos, d)
		t.headerDirty = true
	}

	if err := t.opts.resources.AcquireIO(ctx, len(frame)); err != nil {
		return 0, err
	}
	if _, err := t.file.WriteAt(frame, int64(d.Offset)); err != nil {
		return 0, fmt.Errorf("segtree: write block %d at %d: %w", pos, d.Offset, err)
	}
	n.dirty = false
	t.headerDirty = true
	return len(frame), nil
}

func (t *Tree) writeHeader(ctx context.Context) (int, error) {
	buf, err := directory.Encode(t.header, t.dir)
	if err != nil {
		return 0, translateError(err)
	}
	if err := t.opts.resources.AcquireIO(ctx, len(buf)); err != nil {
		return 0, err
	}
	if _, err := t.file.WriteAt(buf, 0); err != nil {
		return 0, fmt.Errorf("segtree: write header: %w", err)
	}
	t.headerDirty = false
	return len(buf), nil
}
