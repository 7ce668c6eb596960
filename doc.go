// Package segtree provides a block-structured, file-backed segment tree: an
// ordered multimap from uint64 ids to byte payloads, stored in a single file
// as a sequence of compressed blocks with non-overlapping id ranges.
//
// # Quick Start
//
//	tree, _ := segtree.Create(nil, "data.seg", segtree.WithBlockSize(64*1024))
//	tree.Append(42, []byte("hello"))
//	tree.Flush()
//	tree.Close()
//
//	tree, _ = segtree.Open(nil, "data.seg", segtree.OpenLazy)
//	items, _ := tree.GetItems(42)
//
// # File Layout
//
// A file starts with a header region twice the block size. It holds a
// checksummed fixed header (block size, codec, tree UUID, counters, WAL
// checkpoint) followed by the metadata directory: one descriptor per block
// with its extent and id range, sorted by id. Blocks follow, each in an
// extent that is a multiple of the block size. Freed extents are tracked in
// memory and reused first-fit; nothing on disk records them.
//
// # Loading
//
// OpenLazy reads only the header; blocks are read on first use. OpenClean
// reads every block up front in parallel. Resident blocks stay in memory
// until Evict drops the ones selected by the eviction policy, or until a
// memory budget (WithResourceController) forces least recently used clean
// blocks out.
//
// # Mutations
//
// Append inserts an entry after any entries with the same id. A block that
// grows past the block size is split at an id boundary; a block that shrinks
// below 80% of it is merged with or rebalanced against a neighbour. All ids
// equal to one value always live in one block.
//
// Changes stay in memory until Flush, which writes dirty blocks and then the
// header. A failed flush leaves the tree dirty.
//
// # Trees
//
// Split, BalanceWith and Merge move whole blocks between trees with adjacent,
// non-overlapping id ranges. Both trees must be flushed afterwards.
//
// # Concurrency
//
// A Tree is not safe for concurrent use. The store package wraps one tree
// with a write-ahead log behind a mutex for multi-goroutine callers.
package segtree
