package metrics_test

import (
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segtree"
	"github.com/hupe1980/segtree/metrics"
)

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func getHistogramCount(h prometheus.Histogram) uint64 {
	m := &dto.Metric{}
	_ = h.Write(m)
	return m.GetHistogram().GetSampleCount()
}

func TestCollector_Records(t *testing.T) {
	c := metrics.NewPrometheusCollector(nil)

	c.RecordBlockLoad(100, time.Millisecond, nil)
	c.RecordBlockLoad(0, time.Millisecond, errors.New("boom"))
	c.RecordFlush(3, 4096, time.Millisecond, nil)
	c.RecordEviction(2, 1)
	c.RecordBlockMerge(true)
	c.RecordTreeMaintenance(segtree.OpSplit, 4)

	assert.Equal(t, 1.0, getCounterValue(c.BlockLoads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, getCounterValue(c.BlockLoads.WithLabelValues("error")))
	assert.Equal(t, 100.0, getCounterValue(c.BlockLoadBytes))
	assert.Equal(t, uint64(1), getHistogramCount(c.BlockLoadTime))
	assert.Equal(t, 4096.0, getCounterValue(c.FlushBytes))
	assert.Equal(t, 2.0, getCounterValue(c.Evictions))
	assert.Equal(t, 1.0, getCounterValue(c.BlockMerges.WithLabelValues("rebalance")))
	assert.Equal(t, 4.0, getCounterValue(c.BlocksMoved.WithLabelValues(segtree.OpSplit)))
}

func TestCollector_WiredIntoTree(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewPrometheusCollector(reg)

	path := filepath.Join(t.TempDir(), "m.seg")
	tree, err := segtree.Create(nil, path, segtree.WithBlockSize(1024), segtree.WithMetricsCollector(c))
	require.NoError(t, err)
	for id := range uint64(200) {
		require.NoError(t, tree.Append(id, []byte("some payload bytes")))
	}
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Close())

	tree, err = segtree.Open(nil, path, segtree.OpenClean, segtree.WithMetricsCollector(c))
	require.NoError(t, err)
	defer tree.Close()

	assert.Positive(t, getCounterValue(c.BlockSplits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Flushes.WithLabelValues("ok")))
	assert.Equal(t, float64(tree.Len()), getCounterValue(c.BlockLoads.WithLabelValues("ok")))

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "segtree_block_splits_total"))
}

func TestCollector_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewPrometheusCollector(reg)
	assert.Panics(t, func() { metrics.NewPrometheusCollector(reg) })
}
