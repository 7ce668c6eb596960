// Package cache decides which resident blocks of a segment tree to evict.
//
// The tree keeps materialized blocks in a sparse, per-instance cache. Policies
// in this package are pure functions over a snapshot of that cache: they see
// each resident block's directory index, last access time, raw size and dirty
// flag, and return the indexes to evict. The tree flushes dirty victims before
// dropping them.
//
// Policies:
//   - [IdlePolicy]: evict blocks idle for longer than a threshold
//   - [LRUPolicy]: keep at most N resident blocks, least recently used first out
//   - [BytesPolicy]: keep resident raw bytes under a budget, LRU order
//   - [Never]: keep everything resident
//
// Policies can be stacked with [Combine].
package cache
