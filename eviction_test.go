package segtree

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segtree/testutil"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTree_EvictNeverByDefault(t *testing.T) {
	tree, _ := newTestTree(t)
	fillRange(t, tree, nil, 0, 200)

	n, err := tree.Evict()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, tree.Len(), tree.Stats().Resident)
}

func TestTree_EvictFlushesDirtyVictims(t *testing.T) {
	mc := &BasicMetricsCollector{}
	tree, path := newTestTree(t, WithEvictionPolicy(LRUEviction(1)), WithMetricsCollector(mc))
	m := testutil.NewModel()
	fillRange(t, tree, m, 0, 300)
	blocks := tree.Len()

	n, err := tree.Evict()
	require.NoError(t, err)
	assert.Equal(t, blocks-1, n)
	assert.Equal(t, 1, tree.Stats().Resident)
	assert.Equal(t, Lazy, tree.State())
	assert.Equal(t, int64(blocks-1), mc.EvictionFlushes.Load())

	// Evicted blocks come back from their extents.
	assert.Equal(t, m.Entries(), entries(t, tree))

	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Close())
	requireSameAsModel(t, reopen(t, path, OpenLazy), m)
}

func TestTree_EvictIdle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tree, path := newTestTree(t)
	fillRange(t, tree, nil, 0, 300)
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Close())

	tree = reopen(t, path, OpenClean,
		WithEvictionPolicy(IdleEviction(time.Minute)),
		WithClock(clock.Now))
	require.Equal(t, tree.Len(), tree.Stats().Resident)

	clock.Advance(2 * time.Minute)
	_, err := tree.ContainsID(0)
	require.NoError(t, err)

	n, err := tree.Evict()
	require.NoError(t, err)
	assert.Equal(t, tree.Len()-1, n)
	assert.Equal(t, 1, tree.Stats().Resident)
}

func TestTree_MemoryBudget(t *testing.T) {
	tree, path := newTestTree(t)
	m := testutil.NewModel()
	fillRange(t, tree, m, 0, 600)
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Close())

	rc := NewResourceController(ResourceConfig{MemoryLimitBytes: 3 * testBlockSize})
	tree = reopen(t, path, OpenLazy, WithResourceController(rc))
	require.Greater(t, tree.Len(), 6)

	var got []Entry
	for e, err := range tree.All() {
		require.NoError(t, err)
		got = append(got, e)
		assert.LessOrEqual(t, rc.MemoryUsage(), rc.MemoryLimit())
	}
	assert.Equal(t, m.Entries(), got)
	assert.Less(t, tree.Stats().Resident, tree.Len())

	// A clean load cannot fit the budget and leaves the tree lazily loaded.
	err := tree.CleanLoad()
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Equal(t, Lazy, tree.State())
	assert.Zero(t, rc.MemoryUsage())

	require.NoError(t, tree.Close())
	assert.Zero(t, rc.MemoryUsage())
}

func TestTree_FlushRateLimited(t *testing.T) {
	rc := NewResourceController(ResourceConfig{IOLimitBytesPerSec: 1024})
	tree, _ := newTestTree(t, WithResourceController(rc), WithCompression(CompressionNone))
	fillRange(t, tree, nil, 0, 200)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, tree.FlushContext(ctx))
	assert.True(t, tree.Dirty())
}

func TestTree_MemoryFollowsBlockSize(t *testing.T) {
	rc := NewResourceController(ResourceConfig{MemoryLimitBytes: 1 << 30})
	tree, _ := newTestTree(t, WithResourceController(rc))
	m := testutil.NewModel()
	fillRange(t, tree, m, 0, 600)
	assert.Equal(t, tree.Stats().ResidentBytes, rc.MemoryUsage())
	grown := rc.MemoryUsage()

	// Removals shrink blocks and trigger merges and rebalances.
	for id := uint64(0); id < 600; id++ {
		if id%4 == 0 {
			continue
		}
		_, err := tree.RemoveID(id)
		require.NoError(t, err)
		m.RemoveID(id)
		require.Equal(t, tree.Stats().ResidentBytes, rc.MemoryUsage(), "after removing %d", id)
	}
	assert.Less(t, rc.MemoryUsage(), grown)

	ok, err := tree.Remove(4, payloadFor(4, 0))
	require.NoError(t, err)
	require.True(t, ok)
	m.Remove(4, payloadFor(4, 0))
	assert.Equal(t, tree.Stats().ResidentBytes, rc.MemoryUsage())
	requireSameAsModel(t, tree, m)

	require.NoError(t, tree.Close())
	assert.Zero(t, rc.MemoryUsage())
}
