package segtree

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the metrics
// package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordBlockLoad is called after a block is read from the file.
	RecordBlockLoad(bytes int, duration time.Duration, err error)

	// RecordEviction is called after an eviction pass. flushed counts the
	// dirty victims written before being dropped.
	RecordEviction(evicted, flushed int)

	// RecordFlush is called after each flush.
	RecordFlush(blocks int, bytes int64, duration time.Duration, err error)

	// RecordBlockSplit is called when an overfull block is split in two.
	RecordBlockSplit()

	// RecordBlockMerge is called when an underfull block is merged into or
	// rebalanced with a neighbour.
	RecordBlockMerge(rebalanced bool)

	// RecordTreeMaintenance is called after Split, Merge or BalanceWith with
	// the number of blocks moved between trees.
	RecordTreeMaintenance(op string, blocksMoved int)
}

// Maintenance operation names passed to RecordTreeMaintenance.
const (
	OpSplit   = "split"
	OpMerge   = "merge"
	OpBalance = "balance"
)

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBlockLoad(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordEviction(int, int)                      {}
func (NoopMetricsCollector) RecordFlush(int, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordBlockSplit()                            {}
func (NoopMetricsCollector) RecordBlockMerge(bool)                        {}
func (NoopMetricsCollector) RecordTreeMaintenance(string, int)            {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	BlockLoads      atomic.Int64
	BlockLoadErrors atomic.Int64
	BlockLoadBytes  atomic.Int64
	Evictions       atomic.Int64
	EvictionFlushes atomic.Int64
	Flushes         atomic.Int64
	FlushErrors     atomic.Int64
	FlushBlocks     atomic.Int64
	FlushBytes      atomic.Int64
	BlockSplits     atomic.Int64
	BlockMerges     atomic.Int64
	BlockRebalances atomic.Int64
	TreeSplits      atomic.Int64
	TreeMerges      atomic.Int64
	TreeBalances    atomic.Int64
	TreeBlocksMoved atomic.Int64
}

// RecordBlockLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBlockLoad(bytes int, _ time.Duration, err error) {
	b.BlockLoads.Add(1)
	if err != nil {
		b.BlockLoadErrors.Add(1)
		return
	}
	b.BlockLoadBytes.Add(int64(bytes))
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(evicted, flushed int) {
	b.Evictions.Add(int64(evicted))
	b.EvictionFlushes.Add(int64(flushed))
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(blocks int, bytes int64, _ time.Duration, err error) {
	b.Flushes.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
	}
	b.FlushBlocks.Add(int64(blocks))
	b.FlushBytes.Add(bytes)
}

// RecordBlockSplit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBlockSplit() { b.BlockSplits.Add(1) }

// RecordBlockMerge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBlockMerge(rebalanced bool) {
	if rebalanced {
		b.BlockRebalances.Add(1)
		return
	}
	b.BlockMerges.Add(1)
}

// RecordTreeMaintenance implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTreeMaintenance(op string, blocksMoved int) {
	switch op {
	case OpSplit:
		b.TreeSplits.Add(1)
	case OpMerge:
		b.TreeMerges.Add(1)
	case OpBalance:
		b.TreeBalances.Add(1)
	}
	b.TreeBlocksMoved.Add(int64(blocksMoved))
}
