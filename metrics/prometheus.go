package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/segtree"
)

// PrometheusCollector implements segtree.MetricsCollector with Prometheus metrics.
type PrometheusCollector struct {
	BlockLoads      *prometheus.CounterVec
	BlockLoadBytes  prometheus.Counter
	BlockLoadTime   prometheus.Histogram
	Evictions       prometheus.Counter
	EvictionFlushes prometheus.Counter
	Flushes         *prometheus.CounterVec
	FlushBytes      prometheus.Counter
	FlushBlocks     prometheus.Counter
	FlushTime       prometheus.Histogram
	BlockSplits     prometheus.Counter
	BlockMerges     *prometheus.CounterVec
	Maintenance     *prometheus.CounterVec
	BlocksMoved     *prometheus.CounterVec
}

var _ segtree.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the metrics and registers them with reg. A
// nil reg leaves them unregistered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		BlockLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segtree_block_loads_total",
			Help: "Blocks read from tree files, by result",
		}, []string{"result"}),
		BlockLoadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtree_block_load_bytes_total",
			Help: "Bytes read while loading blocks",
		}),
		BlockLoadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segtree_block_load_seconds",
			Help:    "Histogram of block load latency",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtree_evictions_total",
			Help: "Blocks dropped from memory",
		}),
		EvictionFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtree_eviction_flushes_total",
			Help: "Dirty blocks written before eviction",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segtree_flushes_total",
			Help: "Tree flushes, by result",
		}, []string{"result"}),
		FlushBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtree_flush_bytes_total",
			Help: "Bytes written by flushes",
		}),
		FlushBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtree_flush_blocks_total",
			Help: "Blocks written by flushes",
		}),
		FlushTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segtree_flush_seconds",
			Help:    "Histogram of flush latency",
			Buckets: prometheus.DefBuckets,
		}),
		BlockSplits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtree_block_splits_total",
			Help: "Overfull blocks split in two",
		}),
		BlockMerges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segtree_block_merges_total",
			Help: "Underfull blocks merged or rebalanced with a neighbour",
		}, []string{"kind"}),
		Maintenance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segtree_maintenance_total",
			Help: "Split, merge and balance operations between trees",
		}, []string{"op"}),
		BlocksMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segtree_maintenance_blocks_moved_total",
			Help: "Blocks moved between trees",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(c.collectors()...)
	}
	return c
}

func (c *PrometheusCollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.BlockLoads, c.BlockLoadBytes, c.BlockLoadTime,
		c.Evictions, c.EvictionFlushes,
		c.Flushes, c.FlushBytes, c.FlushBlocks, c.FlushTime,
		c.BlockSplits, c.BlockMerges, c.Maintenance, c.BlocksMoved,
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordBlockLoad implements segtree.MetricsCollector.
func (c *PrometheusCollector) RecordBlockLoad(bytes int, d time.Duration, err error) {
	c.BlockLoads.WithLabelValues(result(err)).Inc()
	if err != nil {
		return
	}
	c.BlockLoadBytes.Add(float64(bytes))
	c.BlockLoadTime.Observe(d.Seconds())
}

// RecordEviction implements segtree.MetricsCollector.
func (c *PrometheusCollector) RecordEviction(evicted, flushed int) {
	c.Evictions.Add(float64(evicted))
	c.EvictionFlushes.Add(float64(flushed))
}

// RecordFlush implements segtree.MetricsCollector.
func (c *PrometheusCollector) RecordFlush(blocks int, bytes int64, d time.Duration, err error) {
	c.Flushes.WithLabelValues(result(err)).Inc()
	c.FlushBlocks.Add(float64(blocks))
	c.FlushBytes.Add(float64(bytes))
	c.FlushTime.Observe(d.Seconds())
}

// RecordBlockSplit implements segtree.MetricsCollector.
func (c *PrometheusCollector) RecordBlockSplit() { c.BlockSplits.Inc() }

// RecordBlockMerge implements segtree.MetricsCollector.
func (c *PrometheusCollector) RecordBlockMerge(rebalanced bool) {
	kind := "merge"
	if rebalanced {
		kind = "rebalance"
	}
	c.BlockMerges.WithLabelValues(kind).Inc()
}

// RecordTreeMaintenance implements segtree.MetricsCollector.
func (c *PrometheusCollector) RecordTreeMaintenance(op string, blocksMoved int) {
	c.Maintenance.WithLabelValues(op).Inc()
	c.BlocksMoved.WithLabelValues(op).Add(float64(blocksMoved))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
