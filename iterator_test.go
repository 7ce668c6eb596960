package segtree

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segtree/testutil"
)

func TestCursor_EmptyTree(t *testing.T) {
	tree, _ := newTestTree(t)

	assert.True(t, tree.Begin().Equal(tree.End()))
	assert.True(t, tree.RBegin().Equal(tree.REnd()))
	assert.False(t, tree.Begin().Valid())
}

func TestCursor_WalksBlocks(t *testing.T) {
	tree, path := newTestTree(t)
	fillRange(t, tree, nil, 0, 300)
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Close())

	tree = reopen(t, path, OpenLazy)
	n := tree.Len()
	require.Greater(t, n, 2)

	steps := 0
	var prevMax uint64
	for c := tree.Begin(); !c.Equal(tree.End()); c.Next() {
		d := c.Descriptor()
		if steps > 0 {
			assert.Greater(t, d.MinID, prevMax)
		}
		prevMax = d.MaxID
		steps++
	}
	assert.Equal(t, n, steps)
	assert.Equal(t, 0, tree.Stats().Resident, "moving cursors does not load blocks")

	c := tree.Begin().Advance(2)
	assert.Equal(t, 2, c.Index())
	got, err := c.Entries()
	require.NoError(t, err)
	assert.Equal(t, c.Descriptor().MinID, got[0].ID)
	assert.Equal(t, 1, tree.Stats().Resident)

	r := tree.RBegin()
	assert.Equal(t, n-1, r.Index())
	r.Next()
	assert.Equal(t, n-2, r.Index())
	r.Prev()
	assert.True(t, r.Equal(tree.RBegin()))
	assert.True(t, tree.REnd().Advance(-1).Equal(tree.Begin()))
}

func TestTree_BackwardIsReverseOfAll(t *testing.T) {
	tree, _ := newTestTree(t)
	m := testutil.NewModel()
	fill(t, tree, m, testutil.NewRNG(3), 600, 200)

	forward := entries(t, tree)
	assert.True(t, slices.IsSortedFunc(forward, func(a, b Entry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	}))

	var backward []Entry
	for e, err := range tree.Backward() {
		require.NoError(t, err)
		backward = append(backward, e)
	}
	slices.Reverse(backward)
	assert.Equal(t, forward, backward)
}

func TestTree_AllStopsEarly(t *testing.T) {
	tree, _ := newTestTree(t)
	fillRange(t, tree, nil, 0, 100)

	n := 0
	for range tree.All() {
		n++
		if n == 10 {
			break
		}
	}
	assert.Equal(t, 10, n)
}
