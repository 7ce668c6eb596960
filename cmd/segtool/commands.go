package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/hupe1980/segtree"
)

type tool struct {
	out  io.Writer
	opts []segtree.Option
	mode segtree.LoadMode
}

func (t *tool) open(path string, mode segtree.LoadMode) (*segtree.Tree, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return segtree.Open(segtree.LocalFS, path, mode, t.opts...)
}

func (t *tool) inspect(path string) (err error) {
	tree, err := t.open(path, t.mode)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, tree.Close()) }()

	s := tree.Stats()
	fmt.Fprintf(t.out, "uuid:        %s\n", tree.UUID())
	fmt.Fprintf(t.out, "block size:  %d\n", tree.BlockSize())
	fmt.Fprintf(t.out, "compression: %s\n", tree.Compression())
	fmt.Fprintf(t.out, "state:       %s\n", s.State)
	fmt.Fprintf(t.out, "entries:     %d\n", s.Count)
	fmt.Fprintf(t.out, "unique ids:  %d\n", s.UniqueIDs)
	fmt.Fprintf(t.out, "blocks:      %d/%d\n", s.Blocks, s.Capacity)
	fmt.Fprintf(t.out, "resident:    %d (%d bytes)\n", s.Resident, s.ResidentBytes)
	fmt.Fprintf(t.out, "free bytes:  %d\n", s.FreeBytes)
	fmt.Fprintf(t.out, "file end:    %d\n", s.FileEnd)
	fmt.Fprintf(t.out, "checkpoint:  %d\n", tree.Checkpoint())
	if r := s.Resources; r.MemoryLimit > 0 {
		fmt.Fprintf(t.out, "memory:      %d/%d (peak %d, denied %d)\n", r.MemoryUsed, r.MemoryLimit, r.MemoryPeak, r.Denied)
	}
	if s.Blocks == 0 {
		return nil
	}

	fmt.Fprintln(t.out)
	w := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tOFFSET\tSIZE\tMIN ID\tMAX ID")
	for i, d := range tree.Descriptors() {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", i, d.Offset, d.Size, d.MinID, d.MaxID)
	}
	return w.Flush()
}

func (t *tool) check(path string) (err error) {
	tree, err := t.open(path, segtree.OpenLazy)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, tree.Close()) }()

	if err := tree.Check(); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "ok: %d entries in %d blocks\n", tree.Count(), tree.Len())
	return nil
}

func (t *tool) dump(path string, args []string) (err error) {
	if len(args) > 1 {
		return fmt.Errorf("%w: dump takes at most one id", errUsage)
	}
	tree, err := t.open(path, segtree.OpenLazy)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, tree.Close()) }()

	if len(args) == 1 {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid id %q", errUsage, args[0])
		}
		items, err := tree.GetItems(id)
		if err != nil {
			return err
		}
		for _, p := range items {
			fmt.Fprintf(t.out, "%d\t%q\n", id, p)
		}
		return nil
	}

	for e, err := range tree.All() {
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "%d\t%q\n", e.ID, e.Payload)
	}
	return nil
}

// compact rewrites path into a fresh file holding only live blocks. Without
// out the result replaces path.
func (t *tool) compact(path string, args []string) (err error) {
	if len(args) > 1 {
		return fmt.Errorf("%w: compact takes at most one output path", errUsage)
	}
	src, err := t.open(path, segtree.OpenLazy)
	if err != nil {
		return err
	}
	defer func() {
		if src != nil {
			err = errors.Join(err, src.Close())
		}
	}()

	out := path + ".compact"
	if len(args) == 1 {
		out = args[0]
	}
	opts := append(t.opts[:len(t.opts):len(t.opts)],
		segtree.WithBlockSize(src.BlockSize()),
		segtree.WithCompression(src.Compression()))
	dst, err := segtree.Create(segtree.LocalFS, out, opts...)
	if err != nil {
		return err
	}
	for e, err := range src.All() {
		if err == nil {
			err = dst.Append(e.ID, e.Payload)
		}
		if err != nil {
			_ = dst.Close()
			_ = os.Remove(out)
			return err
		}
	}
	dst.SetCheckpoint(src.Checkpoint())
	if err := errors.Join(dst.Flush(), dst.Close()); err != nil {
		_ = os.Remove(out)
		return err
	}

	before, err := fileSize(path)
	if err != nil {
		return err
	}
	after, err := fileSize(out)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		if err := src.Close(); err != nil {
			return err
		}
		src = nil
		if err := os.Rename(out, path); err != nil {
			return err
		}
		out = path
	}
	fmt.Fprintf(t.out, "compacted %s: %d -> %d bytes\n", out, before, after)
	return nil
}

// split moves the upper half of path's blocks into out. Without out the new
// file is named after the source with a random suffix.
func (t *tool) split(path string, args []string) (err error) {
	if len(args) > 1 {
		return fmt.Errorf("%w: split takes at most one output path", errUsage)
	}
	out := splitName(path)
	if len(args) == 1 {
		out = args[0]
	}

	tree, err := t.open(path, segtree.OpenLazy)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, tree.Close()) }()

	f, err := segtree.LocalFS.OpenFile(out, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	upper, err := tree.Split(f)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(out)
		return err
	}
	moved := upper.Count()
	if err := errors.Join(upper.Flush(), upper.Close()); err != nil {
		return err
	}
	if err := tree.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "split %s: kept %d entries, moved %d to %s\n", path, tree.Count(), moved, out)
	return nil
}

func splitName(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + uuid.NewString()[:8] + ext
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
