package segtree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segtree/internal/block"
	"github.com/hupe1980/segtree/internal/compress"
	"github.com/hupe1980/segtree/internal/fs"
	"github.com/hupe1980/segtree/testutil"
)

func TestTree_RoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD, CompressionSnappy} {
		for _, mode := range []LoadMode{OpenLazy, OpenClean} {
			t.Run(fmt.Sprintf("%s/mode=%d", c, mode), func(t *testing.T) {
				tree, path := newTestTree(t, WithCompression(c))
				m := testutil.NewModel()
				fill(t, tree, m, testutil.NewRNG(7), 1000, 300)
				tree.SetCheckpoint(99)
				require.NoError(t, tree.Flush())
				id := tree.UUID()
				require.NoError(t, tree.Close())

				reopened := reopen(t, path, mode)
				assert.Equal(t, id, reopened.UUID())
				assert.Equal(t, c, reopened.Compression())
				assert.Equal(t, testBlockSize, reopened.BlockSize())
				assert.Equal(t, uint64(99), reopened.Checkpoint())
				if mode == OpenClean {
					assert.Equal(t, Loaded, reopened.State())
				} else {
					assert.Equal(t, Lazy, reopened.State())
					assert.Equal(t, 0, reopened.Stats().Resident)
				}
				requireSameAsModel(t, reopened, m)
			})
		}
	}
}

func TestTree_FlushAfterReopenAndMutate(t *testing.T) {
	tree, path := newTestTree(t)
	m := testutil.NewModel()
	fillRange(t, tree, m, 0, 300)
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Close())

	tree = reopen(t, path, OpenLazy)
	for id := uint64(0); id < 300; id += 3 {
		_, err := tree.RemoveID(id)
		require.NoError(t, err)
		m.RemoveID(id)
	}
	fillRange(t, tree, m, 1000, 1200)
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Close())

	requireSameAsModel(t, reopen(t, path, OpenClean), m)
}

func TestTree_LazyLoadRefusesUnflushedChanges(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		mutate func(t *testing.T, tree *Tree)
	}{
		{
			name: "dirty block",
			mutate: func(t *testing.T, tree *Tree) {
				require.NoError(t, tree.Append(1000, []byte("a")))
			},
		},
		{
			name: "emptied block",
			mutate: func(t *testing.T, tree *Tree) {
				for id := uint64(0); id < 300; id++ {
					_, err := tree.RemoveID(id)
					require.NoError(t, err)
				}
			},
		},
		{
			name: "split",
			mutate: func(t *testing.T, tree *Tree) {
				f, _ := newFile(t, "upper.seg")
				upper, err := tree.Split(f)
				require.NoError(t, err)
				t.Cleanup(func() { _ = upper.Close() })
			},
		},
		{
			name: "evicted dirty block",
			opts: []Option{WithEvictionPolicy(LRUEviction(0))},
			mutate: func(t *testing.T, tree *Tree) {
				require.NoError(t, tree.Append(1000, []byte("a")))
				_, err := tree.Evict()
				require.NoError(t, err)
				assert.Zero(t, tree.Stats().Dirty)
			},
		},
		{
			name: "checkpoint",
			mutate: func(t *testing.T, tree *Tree) {
				tree.SetCheckpoint(7)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, _ := newTestTree(t, tt.opts...)
			fillRange(t, tree, nil, 0, 300)
			require.NoError(t, tree.Flush())

			tt.mutate(t, tree)
			require.True(t, tree.Dirty())
			count, blocks := tree.Count(), tree.Len()

			assert.ErrorIs(t, tree.LazyLoad(), ErrUnflushedChanges)
			assert.ErrorIs(t, tree.CleanLoad(), ErrUnflushedChanges)
			assert.Equal(t, count, tree.Count())
			assert.Equal(t, blocks, tree.Len())

			require.NoError(t, tree.Flush())
			require.NoError(t, tree.LazyLoad())
			assert.Equal(t, Lazy, tree.State())
			assert.Equal(t, count, tree.Count())
			require.NoError(t, tree.Check())
			require.NoError(t, tree.CleanLoad())
			assert.Equal(t, Loaded, tree.State())
			assert.Equal(t, count, tree.Count())
		})
	}
}

func TestTree_CorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.seg")
	require.NoError(t, os.WriteFile(path, make([]byte, 4*testBlockSize), 0o644))

	_, err := Open(nil, path, OpenLazy)
	assert.ErrorIs(t, err, ErrCorruptHeader)

	require.NoError(t, os.WriteFile(path, []byte("SEG"), 0o644))
	_, err = Open(nil, path, OpenLazy)
	assert.ErrorIs(t, err, ErrCorruptHeader)
}

func TestTree_HeaderChecksum(t *testing.T) {
	tree, path := newTestTree(t)
	fillRange(t, tree, nil, 0, 10)
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[40] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Open(nil, path, OpenLazy)
	assert.ErrorIs(t, err, ErrCorruptHeader)
}

func TestTree_InconsistentDirectory(t *testing.T) {
	tree, path := newTestTree(t)
	fillRange(t, tree, nil, 0, 200)
	require.NoError(t, tree.Flush())
	d := tree.Descriptors()[1]
	require.NoError(t, tree.Close())

	// A well-formed block whose ids disagree with the descriptor.
	forged := block.FromEntries([]block.Entry{{ID: d.MinID + 1, Payload: []byte("x")}})
	frame, err := forged.Encode(compress.TypeNone)
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(frame, int64(d.Offset))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	tree = reopen(t, path, OpenLazy)
	_, err = tree.ContainsID(d.MinID)
	assert.ErrorIs(t, err, ErrInconsistentDirectory)
	var ibe *InconsistentBlockError
	require.True(t, errors.As(err, &ibe))
	assert.Equal(t, 1, ibe.Index)
	assert.Equal(t, d.MinID+1, ibe.MinID)

	assert.ErrorIs(t, tree.CleanLoad(), ErrInconsistentDirectory)
	assert.ErrorIs(t, tree.Check(), ErrInconsistentDirectory)

	// Other blocks stay readable.
	ok, err := tree.ContainsID(d.MaxID + 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTree_CorruptBlockFrame(t *testing.T) {
	tree, path := newTestTree(t)
	fillRange(t, tree, nil, 0, 200)
	require.NoError(t, tree.Flush())
	d := tree.Descriptors()[0]
	require.NoError(t, tree.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[d.Offset+compress.HeaderSize+3] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	tree = reopen(t, path, OpenLazy)
	_, err = tree.ContainsID(d.MinID)
	assert.ErrorIs(t, err, ErrInconsistentDirectory)
	assert.ErrorIs(t, err, compress.ErrChecksum)
}

func TestTree_FlushFailureKeepsTreeDirty(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	path := filepath.Join(t.TempDir(), "faulty.seg")
	tree, err := Create(ffs, path, WithBlockSize(testBlockSize))
	require.NoError(t, err)
	defer tree.Close()

	m := testutil.NewModel()
	fillRange(t, tree, m, 0, 200)

	ffs.SetLimit(ffs.Written() + 100)
	err = tree.Flush()
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.True(t, tree.Dirty())
	assert.Positive(t, tree.Stats().Dirty)

	ffs.SetLimit(-1)
	require.NoError(t, tree.Flush())
	assert.False(t, tree.Dirty())
	require.NoError(t, tree.Close())

	requireSameAsModel(t, reopen(t, path, OpenLazy), m)
}

func TestTree_ReadFailureLeavesTreeUnchanged(t *testing.T) {
	tree, path := newTestTree(t)
	fillRange(t, tree, nil, 0, 200)
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Close())

	ffs := fs.NewFaultyFS(nil)
	// The header takes two reads; every block read fails.
	ffs.AddRule("tree.seg", fs.Fault{FailAfterBytes: -1, FailAfterReads: 2})
	tree, err := Open(ffs, path, OpenLazy)
	require.NoError(t, err)
	defer tree.Close()

	err = tree.Append(5, []byte("x"))
	assert.ErrorIs(t, err, fs.ErrInjected)
	_, err = tree.RemoveID(5)
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.Equal(t, 200, tree.Count())
	assert.False(t, tree.Dirty())

	for _, err := range tree.All() {
		assert.ErrorIs(t, err, fs.ErrInjected)
	}
}

func TestTree_GapReuse(t *testing.T) {
	tree, path := newTestTree(t, WithCompression(CompressionNone))
	fillRange(t, tree, nil, 0, 500)
	require.NoError(t, tree.Flush())
	info, err := os.Stat(path)
	require.NoError(t, err)
	size := info.Size()

	for id := uint64(0); id < 500; id++ {
		_, err := tree.RemoveID(id)
		require.NoError(t, err)
	}
	fillRange(t, tree, nil, 1_000_000, 1_000_500)
	require.NoError(t, tree.Flush())

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, size, info.Size())
}

func TestTree_GrowingBlockRelocates(t *testing.T) {
	tree, path := newTestTree(t, WithCompression(CompressionNone))
	m := testutil.NewModel()

	// One id never splits, so the block outgrows its extent.
	for i := range 40 {
		p := payloadFor(1, i)
		require.NoError(t, tree.Append(1, p))
		m.Append(1, p)
	}
	fillRange(t, tree, m, 2, 10)
	require.NoError(t, tree.Flush())
	first := tree.Descriptors()[0]

	for i := range 60 {
		p := payloadFor(1, 100+i)
		require.NoError(t, tree.Append(1, p))
		m.Append(1, p)
	}
	require.NoError(t, tree.Flush())
	grown := tree.Descriptors()[0]

	assert.Greater(t, grown.Size, first.Size)
	assert.Zero(t, grown.Size%testBlockSize)
	require.NoError(t, tree.Close())
	requireSameAsModel(t, reopen(t, path, OpenClean), m)
}
