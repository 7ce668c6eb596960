package segtree

import (
	"fmt"
	"math"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/segtree/internal/block"
	"github.com/hupe1980/segtree/internal/directory"
	"github.com/hupe1980/segtree/internal/fs"
	"github.com/hupe1980/segtree/internal/gap"
)

// InvalidID is the reserved id reported as MaxID of an empty tree.
const InvalidID uint64 = math.MaxUint64

// File is the random-access file a tree is stored in. *os.File satisfies it.
type File = fs.File

// FileSystem opens tree files.
type FileSystem = fs.FileSystem

// LocalFS is the operating system's file system.
var LocalFS FileSystem = fs.Default

// Entry is one (id, payload) pair.
type Entry = block.Entry

// LoadState describes how much of the file is materialized.
type LoadState int

const (
	// Unloaded means the file holds data that has not been read yet.
	Unloaded LoadState = iota
	// Lazy means the directory is loaded and blocks are read on demand.
	Lazy
	// Loaded means every block is resident.
	Loaded
)

func (s LoadState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Lazy:
		return "lazy"
	case Loaded:
		return "loaded"
	default:
		return fmt.Sprintf("LoadState(%d)", int(s))
	}
}

// LoadMode selects how Open materializes an existing file.
type LoadMode int

const (
	// OpenLazy loads only the directory.
	OpenLazy LoadMode = iota
	// OpenClean loads the directory and every block.
	OpenClean
)

type node struct {
	block    *block.Block
	lastUsed time.Time
	dirty    bool
	charged  int64
}

// Tree is an ordered multimap from uint64 ids to byte payloads, stored in one
// file as a header region followed by variable-length blocks.
//
// A Tree is not safe for concurrent use.
type Tree struct {
	file   fs.File
	opts   options
	logger *Logger
	state  LoadState

	header      directory.Header
	dir         *directory.Directory
	nodes       []*node
	gaps        *gap.Tracker
	headerDirty bool
}

// New binds a tree to file. An empty file is initialized as an empty tree and
// is ready for use; a non-empty file must be loaded with LazyLoad or CleanLoad
// before use. Nothing is written until Flush.
func New(file fs.File, optFns ...Option) (*Tree, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	size, err := fs.Size(file)
	if err != nil {
		return nil, fmt.Errorf("segtree: stat: %w", err)
	}

	t := &Tree{file: file, opts: o, logger: o.logger}
	if size == 0 {
		t.header = directory.Header{
			BlockSize: uint32(o.blockSize),
			Codec:     uint8(o.compression),
			UUID:      uuid.New(),
		}
		t.dir = directory.New(directory.CapacityFor(o.blockSize))
		t.gaps = gap.New(int64(t.headerSize()))
		t.state = Loaded
		t.headerDirty = true
		t.logger = o.logger.WithTree(t.header.UUID.String())
	}
	return t, nil
}

// Create creates or truncates path and returns an empty tree over it.
func Create(fsys fs.FileSystem, path string, optFns ...Option) (*Tree, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	t, err := New(f, optFns...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return t, nil
}

// Open opens an existing tree file. A missing or empty file yields an empty
// tree.
func Open(fsys fs.FileSystem, path string, mode LoadMode, optFns ...Option) (*Tree, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	t, err := New(f, optFns...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if t.state == Unloaded {
		if mode == OpenClean {
			err = t.CleanLoad()
		} else {
			err = t.LazyLoad()
		}
		if err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return t, nil
}

// Close releases the tree's memory reservations and closes the file. It does
// not flush.
func (t *Tree) Close() error {
	for _, n := range t.nodes {
		if n != nil {
			t.opts.resources.ReleaseMemory(n.charged)
		}
	}
	t.nodes = nil
	t.dir = nil
	t.state = Unloaded
	return t.file.Close()
}

func (t *Tree) ready() error {
	if t.state == Unloaded {
		return ErrNotLoaded
	}
	return nil
}

func (t *Tree) blockSize() int  { return int(t.header.BlockSize) }
func (t *Tree) headerSize() int { return directory.RegionSize(int(t.header.BlockSize)) }

// Count returns the number of entries.
func (t *Tree) Count() int {
	if t.state == Unloaded {
		return 0
	}
	return int(t.header.Count)
}

// UniqueIDs returns the number of distinct ids.
func (t *Tree) UniqueIDs() int {
	if t.state == Unloaded {
		return 0
	}
	return int(t.header.UniqueCount)
}

// Len returns the number of blocks.
func (t *Tree) Len() int {
	if t.dir == nil {
		return 0
	}
	return t.dir.Len()
}

// Empty reports whether the tree holds no entries.
func (t *Tree) Empty() bool { return t.Count() == 0 }

// MinID returns the smallest id, or 0 when the tree is empty.
func (t *Tree) MinID() uint64 {
	if t.Len() == 0 {
		return 0
	}
	return t.dir.At(0).MinID
}

// MaxID returns the largest id, or InvalidID when the tree is empty.
func (t *Tree) MaxID() uint64 {
	if t.Len() == 0 {
		return InvalidID
	}
	return t.dir.At(t.dir.Len() - 1).MaxID
}

// UUID returns the identity stored in the header.
func (t *Tree) UUID() uuid.UUID { return t.header.UUID }

// BlockSize returns the target raw size of one block.
func (t *Tree) BlockSize() int { return t.blockSize() }

// Compression returns the block codec.
func (t *Tree) Compression() Compression { return Compression(t.header.Codec) }

// State returns how much of the file is materialized.
func (t *Tree) State() LoadState { return t.state }

// Checkpoint returns the caller-defined sequence number stored in the header.
func (t *Tree) Checkpoint() uint64 { return t.header.Checkpoint }

// SetCheckpoint records a sequence number to be persisted by the next Flush.
func (t *Tree) SetCheckpoint(lsn uint64) {
	if t.header.Checkpoint != lsn {
		t.header.Checkpoint = lsn
		t.headerDirty = true
	}
}

// Descriptors returns a copy of the block directory.
func (t *Tree) Descriptors() []directory.Descriptor {
	if t.dir == nil {
		return nil
	}
	return slices.Clone(t.dir.Descriptors())
}

// Dirty reports whether Flush has work to do.
func (t *Tree) Dirty() bool {
	if t.headerDirty {
		return true
	}
	for _, n := range t.nodes {
		if n != nil && n.dirty {
			return true
		}
	}
	return false
}

// Stats describes the tree's resident and persistent state.
type Stats struct {
	State         LoadState
	Count         int
	UniqueIDs     int
	Blocks        int
	Capacity      int
	Resident      int
	Dirty         int
	ResidentBytes int64
	FreeBytes     int64
	FileEnd       int64

	// Resources is the shared controller's accounting, zero without one.
	Resources ResourceStats
}

// Stats returns a snapshot of the tree's counters.
func (t *Tree) Stats() Stats {
	s := Stats{
		State:     t.state,
		Count:     t.Count(),
		UniqueIDs: t.UniqueIDs(),
		Blocks:    t.Len(),
		Resources: t.opts.resources.Stats(),
	}
	if t.dir != nil {
		s.Capacity = t.dir.Capacity()
	}
	for _, n := range t.nodes {
		if n == nil {
			continue
		}
		s.Resident++
		s.ResidentBytes += int64(n.block.Bytes())
		if n.dirty {
			s.Dirty++
		}
	}
	if t.gaps != nil {
		s.FreeBytes = t.gaps.FreeBytes()
		s.FileEnd = t.gaps.End()
	}
	return s
}

func (t *Tree) now() time.Time { return t.opts.clock() }

// insertSegment places blk at directory position pos with a fresh extent.
func (t *Tree) insertSegment(pos int, blk *block.Block) error {
	if t.dir.Full() {
		return ErrDirectoryFull
	}
	size := int64(t.blockSize())
	off := t.gaps.Reserve(size)
	d := directory.Descriptor{
		Offset: uint64(off),
		Size:   uint64(size),
		MinID:  blk.MinID(),
		MaxID:  blk.MaxID(),
	}
	if err := t.dir.Insert(pos, d); err != nil {
		_ = t.gaps.Release(off, size)
		return translateError(err)
	}
	n := &node{block: blk, lastUsed: t.now(), dirty: true}
	t.nodes = slices.Insert(t.nodes, pos, n)
	t.charge(n)
	t.headerDirty = true
	return nil
}

// dropSegment removes the block at pos and releases its extent.
func (t *Tree) dropSegment(pos int) error {
	d := t.dir.At(pos)
	if n := t.nodes[pos]; n != nil {
		t.opts.resources.ReleaseMemory(n.charged)
	}
	t.dir.Remove(pos)
	t.nodes = slices.Delete(t.nodes, pos, pos+1)
	t.headerDirty = true
	if err := t.gaps.Release(int64(d.Offset), int64(d.Size)); err != nil {
		return fmt.Errorf("segtree: release extent %s: %w", d, err)
	}
	return nil
}

// syncDescriptor refreshes the id range of pos from its resident block.
func (t *Tree) syncDescriptor(pos int) {
	d := t.dir.At(pos)
	blk := t.nodes[pos].block
	d.MinID, d.MaxID = blk.MinID(), blk.MaxID()
	t.dir.Set(pos, d)
	t.headerDirty = true
}

func (t *Tree) markDirty(pos int) {
	n := t.nodes[pos]
	n.dirty = true
	n.lastUsed = t.now()
	t.headerDirty = true
	t.charge(n)
}

// charge brings the reservation of a resident block in line with its size.
// Shrinkage is released; growth that does not fit the budget is left
// unaccounted until the block is reloaded.
func (t *Tree) charge(n *node) {
	delta := int64(n.block.Bytes()) - n.charged
	switch {
	case delta < 0:
		t.opts.resources.ReleaseMemory(-delta)
		n.charged += delta
	case delta > 0:
		if err := t.opts.resources.AcquireMemory(delta); err == nil {
			n.charged += delta
		}
	}
}
