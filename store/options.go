package store

import (
	"time"

	"github.com/hupe1980/segtree"
	"github.com/hupe1980/segtree/internal/wal"
)

// Durability controls when Append and friends return relative to fsync.
type Durability int

const (
	// DurabilitySync waits for the log record to reach stable storage.
	DurabilitySync Durability = iota
	// DurabilityAsync returns once the record is in the OS page cache.
	DurabilityAsync
)

func (d Durability) wal() wal.Durability {
	if d == DurabilityAsync {
		return wal.DurabilityAsync
	}
	return wal.DurabilitySync
}

type options struct {
	fsys               segtree.FileSystem
	treeOptions        []segtree.Option
	durability         Durability
	checkpointInterval time.Duration
	checkpointBytes    int64
	logger             *segtree.Logger
}

// Option configures a Store.
type Option func(*options)

func defaultOptions() options {
	return options{
		fsys:            segtree.LocalFS,
		durability:      DurabilitySync,
		checkpointBytes: 64 << 20,
		logger:          segtree.NoopLogger(),
	}
}

// WithFileSystem overrides the file system, mainly for fault injection.
func WithFileSystem(fsys segtree.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}

// WithTreeOptions passes options to the underlying tree.
func WithTreeOptions(opts ...segtree.Option) Option {
	return func(o *options) {
		o.treeOptions = append(o.treeOptions, opts...)
	}
}

// WithDurability sets the log durability mode.
func WithDurability(d Durability) Option {
	return func(o *options) {
		o.durability = d
	}
}

// WithCheckpointInterval enables a background loop that checkpoints and then
// evicts on every tick. Zero disables the loop.
func WithCheckpointInterval(d time.Duration) Option {
	return func(o *options) {
		o.checkpointInterval = d
	}
}

// WithCheckpointBytes checkpoints inline once the log grows past n bytes.
// Zero disables size-triggered checkpoints.
func WithCheckpointBytes(n int64) Option {
	return func(o *options) {
		o.checkpointBytes = n
	}
}

// WithLogger configures structured logging for the store and its tree.
func WithLogger(l *segtree.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = segtree.NoopLogger()
		}
		o.logger = l
	}
}
