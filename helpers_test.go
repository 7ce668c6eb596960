package segtree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segtree/testutil"
)

const testBlockSize = 2048

func newTestTree(t *testing.T, opts ...Option) (*Tree, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.seg")
	tree, err := Create(nil, path, append([]Option{WithBlockSize(testBlockSize)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tree.Close() })
	return tree, path
}

func reopen(t *testing.T, path string, mode LoadMode, opts ...Option) *Tree {
	t.Helper()
	tree, err := Open(nil, path, mode, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tree.Close() })
	return tree
}

func entries(t *testing.T, tree *Tree) []Entry {
	t.Helper()
	var out []Entry
	for e, err := range tree.All() {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func payloadFor(id uint64, n int) []byte {
	return []byte(fmt.Sprintf("payload-%08d-%04d------------", id, n))
}

// fill appends n entries with random ids below maxID to tree and model.
func fill(t *testing.T, tree *Tree, m *testutil.Model, rng *testutil.RNG, n int, maxID uint64) {
	t.Helper()
	for i, id := range rng.IDs(n, maxID) {
		p := payloadFor(id, i)
		require.NoError(t, tree.Append(id, p))
		m.Append(id, p)
	}
}

// fillRange appends one entry per id in [from, to).
func fillRange(t *testing.T, tree *Tree, m *testutil.Model, from, to uint64) {
	t.Helper()
	for id := from; id < to; id++ {
		p := payloadFor(id, 0)
		require.NoError(t, tree.Append(id, p))
		if m != nil {
			m.Append(id, p)
		}
	}
}

func requireSameAsModel(t *testing.T, tree *Tree, m *testutil.Model) {
	t.Helper()
	require.Equal(t, m.Count(), tree.Count())
	require.Equal(t, m.UniqueIDs(), tree.UniqueIDs())
	require.Equal(t, m.Entries(), entries(t, tree))
	require.NoError(t, tree.Check())
}
