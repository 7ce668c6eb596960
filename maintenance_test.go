package segtree

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segtree/internal/fs"
	"github.com/hupe1980/segtree/testutil"
)

func newFile(t *testing.T, name string) (fs.File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	return f, path
}

func TestTree_Split(t *testing.T) {
	a, pathA := newTestTree(t)
	m := testutil.NewModel()
	fillRange(t, a, m, 0, 400)
	blocks := a.Len()

	f, pathB := newFile(t, "upper.seg")
	b, err := a.Split(f)
	require.NoError(t, err)

	assert.Equal(t, 400, a.Count()+b.Count())
	assert.Less(t, a.MaxID(), b.MinID())
	assert.Equal(t, blocks, a.Len()+b.Len())
	assert.Equal(t, blocks/2, a.Len())
	assert.NotEqual(t, a.UUID(), b.UUID())
	assert.Equal(t, m.Entries(), append(entries(t, a), entries(t, b)...))
	require.NoError(t, a.Check())
	require.NoError(t, b.Check())

	require.NoError(t, a.Flush())
	require.NoError(t, b.Flush())
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	ra := reopen(t, pathA, OpenLazy)
	rb := reopen(t, pathB, OpenLazy)
	assert.Equal(t, m.Entries(), append(entries(t, ra), entries(t, rb)...))
}

func TestTree_SplitLazy(t *testing.T) {
	a, path := newTestTree(t)
	m := testutil.NewModel()
	fillRange(t, a, m, 0, 300)
	require.NoError(t, a.Flush())
	require.NoError(t, a.Close())

	a = reopen(t, path, OpenLazy)
	f, _ := newFile(t, "upper.seg")
	b, err := a.Split(f)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 0, a.Stats().Resident)
	assert.Equal(t, m.Entries(), append(entries(t, a), entries(t, b)...))
}

func TestTree_SplitSingleBlock(t *testing.T) {
	a, _ := newTestTree(t)
	fillRange(t, a, nil, 0, 20)
	require.Equal(t, 1, a.Len())

	f, _ := newFile(t, "upper.seg")
	b, err := a.Split(f)
	require.NoError(t, err)
	defer b.Close()

	assert.False(t, a.Empty())
	assert.False(t, b.Empty())
	assert.Less(t, a.MaxID(), b.MinID())
	assert.Equal(t, 20, a.Count()+b.Count())
}

func TestTree_SplitSingleID(t *testing.T) {
	a, _ := newTestTree(t)
	for i := range 5 {
		require.NoError(t, a.Append(3, payloadFor(3, i)))
	}

	f, _ := newFile(t, "upper.seg")
	b, err := a.Split(f)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 5, a.Count())
	assert.True(t, b.Empty())
}

func TestTree_SplitRequiresEmptyFile(t *testing.T) {
	a, _ := newTestTree(t)
	fillRange(t, a, nil, 0, 10)

	f, _ := newFile(t, "upper.seg")
	defer f.Close()
	_, err := f.Write([]byte("occupied"))
	require.NoError(t, err)

	_, err = a.Split(f)
	assert.ErrorIs(t, err, ErrFileNotEmpty)
	assert.Equal(t, 10, a.Count())
}

func TestTree_BalanceWith(t *testing.T) {
	maxPerBlock := testBlockSize / len(payloadFor(0, 0))

	t.Run("other above", func(t *testing.T) {
		a, _ := newTestTree(t)
		b, _ := newTestTree(t)
		fillRange(t, a, nil, 0, 50)
		fillRange(t, b, nil, 1000, 1600)

		require.NoError(t, a.BalanceWith(b))

		assert.Equal(t, 650, a.Count()+b.Count())
		assert.LessOrEqual(t, abs(a.Count()-b.Count()), maxPerBlock)
		assert.Less(t, a.MaxID(), b.MinID())
		assert.NoError(t, a.Check())
		assert.NoError(t, b.Check())
	})

	t.Run("other below", func(t *testing.T) {
		a, _ := newTestTree(t)
		b, _ := newTestTree(t)
		fillRange(t, a, nil, 5000, 5010)
		fillRange(t, b, nil, 0, 700)

		require.NoError(t, a.BalanceWith(b))

		assert.Equal(t, 710, a.Count()+b.Count())
		assert.LessOrEqual(t, abs(a.Count()-b.Count()), maxPerBlock)
		assert.Less(t, b.MaxID(), a.MinID())
		assert.NoError(t, a.Check())
		assert.NoError(t, b.Check())
	})

	t.Run("empty tree", func(t *testing.T) {
		a, _ := newTestTree(t)
		b, _ := newTestTree(t)
		fillRange(t, b, nil, 0, 500)

		require.NoError(t, a.BalanceWith(b))

		assert.Equal(t, 500, a.Count()+b.Count())
		assert.Positive(t, a.Count())
		assert.LessOrEqual(t, abs(a.Count()-b.Count()), maxPerBlock)
	})
}

func TestTree_BalanceWithPreconditions(t *testing.T) {
	a, _ := newTestTree(t)
	b, _ := newTestTree(t)
	fillRange(t, a, nil, 0, 100)
	fillRange(t, b, nil, 200, 250)

	err := a.BalanceWith(b)
	assert.ErrorIs(t, err, ErrBalancePrecondition)
	var be *BalanceError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 100, be.Count)
	assert.Equal(t, 50, be.OtherCount)

	fillRange(t, b, nil, 50, 150)
	assert.ErrorIs(t, a.BalanceWith(b), ErrOverlappingRanges)
	assert.ErrorIs(t, a.BalanceWith(a), ErrSameTree)
	assert.Equal(t, 100, a.Count())
}

func TestTree_Merge(t *testing.T) {
	a, _ := newTestTree(t)
	b, _ := newTestTree(t)
	m := testutil.NewModel()
	fillRange(t, a, m, 500, 700)
	fillRange(t, b, m, 0, 200)

	require.NoError(t, a.Merge(b))

	assert.Equal(t, 400, a.Count())
	assert.Equal(t, 400, a.UniqueIDs())
	assert.True(t, b.Empty())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, InvalidID, b.MaxID())
	assert.Equal(t, int64(2*testBlockSize), b.Stats().FileEnd)
	requireSameAsModel(t, a, m)

	// b stays usable and reuses its released space.
	require.NoError(t, b.Append(1, []byte("again")))
	assert.Equal(t, uint64(2*testBlockSize), b.Descriptors()[0].Offset)
}

func TestTree_MergeRejects(t *testing.T) {
	a, _ := newTestTree(t)
	b, _ := newTestTree(t)
	fillRange(t, a, nil, 0, 100)
	fillRange(t, b, nil, 50, 60)

	assert.ErrorIs(t, a.Merge(b), ErrOverlappingRanges)
	assert.ErrorIs(t, a.Merge(a), ErrSameTree)
	assert.Equal(t, 10, b.Count())

	small := WithBlockSize(MinBlockSize)
	c, _ := newTestTree(t, small)
	d, _ := newTestTree(t, small)
	fillRange(t, c, nil, 0, 40)
	fillRange(t, d, nil, 100, 140)
	require.Greater(t, c.Len()+d.Len(), c.dir.Capacity())

	assert.ErrorIs(t, c.Merge(d), ErrDirectoryFull)
	assert.Equal(t, 40, d.Count())
	assert.Equal(t, 40, c.Count())
}

func TestTree_MaintenanceMetrics(t *testing.T) {
	mc := &BasicMetricsCollector{}
	a, _ := newTestTree(t, WithMetricsCollector(mc))
	b, _ := newTestTree(t, WithMetricsCollector(mc))
	fillRange(t, a, nil, 0, 300)
	fillRange(t, b, nil, 1000, 1010)

	require.NoError(t, b.BalanceWith(a))
	require.NoError(t, a.Merge(b))

	assert.Positive(t, mc.BlockSplits.Load())
	assert.Equal(t, int64(1), mc.TreeBalances.Load())
	assert.Equal(t, int64(1), mc.TreeMerges.Load())
	assert.Positive(t, mc.TreeBlocksMoved.Load())
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
