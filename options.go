package segtree

import (
	"fmt"
	"time"

	"github.com/hupe1980/segtree/internal/cache"
	"github.com/hupe1980/segtree/internal/compress"
	"github.com/hupe1980/segtree/internal/directory"
	"github.com/hupe1980/segtree/internal/resource"
)

// DefaultBlockSize is the target raw size of one block.
const DefaultBlockSize = 256 * 1024

// MinBlockSize is the smallest supported block size.
const MinBlockSize = directory.MinBlockSize

// MergeCheck is the fill ratio below which a shrinking block is merged with
// or rebalanced against a neighbour.
const MergeCheck = 0.8

// Compression selects the codec used for block frames.
type Compression = compress.Type

// Block codecs.
const (
	CompressionNone   = compress.TypeNone
	CompressionLZ4    = compress.TypeLZ4
	CompressionZSTD   = compress.TypeZSTD
	CompressionSnappy = compress.TypeSnappy
)

// ParseCompression parses a codec name such as "zstd".
func ParseCompression(name string) (Compression, error) { return compress.ParseType(name) }

// EvictionPolicy selects resident blocks to drop on Evict.
type EvictionPolicy = cache.Policy

// IdleEviction evicts blocks unused for longer than d.
func IdleEviction(d time.Duration) EvictionPolicy { return cache.IdlePolicy{MaxIdle: d} }

// LRUEviction keeps at most n blocks resident.
func LRUEviction(n int) EvictionPolicy { return cache.LRUPolicy{MaxResident: n} }

// BytesEviction keeps at most n raw bytes resident.
func BytesEviction(n int64) EvictionPolicy { return cache.BytesPolicy{MaxBytes: int(n)} }

// CombineEviction evicts what any of the given policies selects.
func CombineEviction(policies ...EvictionPolicy) EvictionPolicy { return cache.Combine(policies...) }

// ResourceController bounds resident memory and write throughput. It may be
// shared by several trees.
type ResourceController = resource.Controller

// ResourceConfig configures a ResourceController.
type ResourceConfig = resource.Config

// ResourceStats is a snapshot of a ResourceController's accounting.
type ResourceStats = resource.Stats

// ErrMemoryLimitExceeded is returned when a block cannot be made resident
// within the memory budget.
var ErrMemoryLimitExceeded = resource.ErrMemoryLimitExceeded

// NewResourceController creates a controller; zero limits disable a bound.
func NewResourceController(cfg ResourceConfig) *ResourceController {
	return resource.NewController(cfg)
}

type options struct {
	blockSize        int
	compression      Compression
	logger           *Logger
	metricsCollector MetricsCollector
	evictionPolicy   EvictionPolicy
	resources        *ResourceController
	clock            func() time.Time
	loadConcurrency  int
}

// Option configures a Tree.
type Option func(*options)

func defaultOptions() options {
	return options{
		blockSize:        DefaultBlockSize,
		compression:      CompressionZSTD,
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		evictionPolicy:   cache.Never{},
		clock:            time.Now,
		loadConcurrency:  4,
	}
}

func (o *options) validate() error {
	if o.blockSize < MinBlockSize || o.blockSize > 1<<30 {
		return fmt.Errorf("%w: %d", ErrInvalidBlockSize, o.blockSize)
	}
	if !o.compression.Valid() {
		return fmt.Errorf("segtree: unknown compression %d", o.compression)
	}
	return nil
}

// WithBlockSize sets the target raw block size for new files. The header
// region is twice this size. Existing files keep the block size stored in
// their header.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithCompression selects the block codec for new files.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithLogger configures structured logging.
//
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector configures the metrics sink.
//
// If nil is passed, a no-op collector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithEvictionPolicy sets the policy consulted by Evict. The default never
// evicts.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(o *options) {
		if p == nil {
			p = cache.Never{}
		}
		o.evictionPolicy = p
	}
}

// WithResourceController bounds resident memory and flush throughput.
func WithResourceController(rc *ResourceController) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithClock overrides the time source used for block recency.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithLoadConcurrency sets how many blocks CleanLoad reads in parallel.
func WithLoadConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.loadConcurrency = n
		}
	}
}

// inherited returns options for a sibling tree created by Split.
func (o options) inherited(blockSize int, c Compression) []Option {
	return []Option{
		WithBlockSize(blockSize),
		WithCompression(c),
		WithLogger(o.logger),
		WithMetricsCollector(o.metricsCollector),
		WithEvictionPolicy(o.evictionPolicy),
		WithResourceController(o.resources),
		WithClock(o.clock),
		WithLoadConcurrency(o.loadConcurrency),
	}
}
